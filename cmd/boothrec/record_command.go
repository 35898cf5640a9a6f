package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"boothrec/internal/preflight"
	"boothrec/internal/recordrun"
	"boothrec/internal/session"
	"boothrec/internal/textutil"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var category string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Count down, record one clip, and save it",
		Long: "Count down, record the display and capture device, and save the clip.\n" +
			"Press Ctrl+C once to stop early; press it again (or send SIGTERM) to abandon the clip.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !skipPreflight {
				results := preflight.RunAll(cmd.Context(), cfg)
				if blocking := preflight.Blocking(results); len(blocking) > 0 {
					colorize := shouldColorize(out)
					for _, r := range blocking {
						fmt.Fprintln(out, renderStatusLine(r.Name, statusError, r.Detail, colorize))
					}
					return errors.New("preflight failed; run `boothrec status` for details")
				}
			}

			outcome, err := recordrun.Run(cmd.Context(), cfg, recordrun.Options{
				Category: category,
				Out:      out,
			})
			if errors.Is(err, recordrun.ErrAbandoned) {
				fmt.Fprintln(out, "Recording abandoned")
				return nil
			}
			if outcome.AttemptID != "" {
				fmt.Fprintln(out, renderOutcome(outcome))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Frame category (defaults to recording.default_category)")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Record without checking sources and binaries first")
	return cmd
}

func renderOutcome(o session.Outcome) string {
	rows := [][2]string{
		{"Attempt", o.AttemptID},
		{"Category", textutil.DisplayLabel(o.Category)},
	}
	if o.Failed {
		rows = append(rows, [2]string{"Result", "failed"})
		if o.Err != nil {
			rows = append(rows, [2]string{"Error", o.Err.Error()})
		}
		return renderKeyValues(rows)
	}

	rows = append(rows,
		[2]string{"Stopped by", string(o.Trigger)},
		[2]string{"Length", o.EndedAt.Sub(o.StartedAt).Round(100 * time.Millisecond).String()},
		[2]string{"Artifact", fmt.Sprintf("%s %s (%s)", o.Artifact.Source, o.Artifact.MediaType, humanBytes(int64(o.Artifact.Size())))},
	)
	if res := o.Result; res != nil {
		if res.LocalOnly {
			where := res.LocalRef
			if res.LocalPath != "" {
				where = res.LocalPath
			}
			rows = append(rows, [2]string{"Saved", "locally: " + where})
			if res.Cause != nil {
				rows = append(rows, [2]string{"Upload error", res.Cause.Error()})
			}
		} else {
			rows = append(rows, [2]string{"Saved", res.Address})
		}
		if res.IndexID > 0 {
			rows = append(rows, [2]string{"Index ID", fmt.Sprintf("%d", res.IndexID)})
		}
	}
	if len(o.Secondary) > 0 {
		var refs []string
		for i, sec := range o.Secondary {
			ref := sec.LocalPath
			if ref == "" {
				ref = sec.LocalRef
			}
			if i+1 < len(o.Artifacts) {
				ref = fmt.Sprintf("%s: %s", o.Artifacts[i+1].Source, ref)
			}
			refs = append(refs, ref)
		}
		rows = append(rows, [2]string{"Also kept", strings.Join(refs, "\n")})
	}
	return renderKeyValues(rows)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

