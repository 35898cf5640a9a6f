package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"boothrec/internal/recordings"
	"boothrec/internal/textutil"
)

func newRecordingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recordings",
		Aliases: []string{"rec"},
		Short:   "Inspect the recording index",
	}
	cmd.AddCommand(newRecordingsListCommand(ctx))
	cmd.AddCommand(newRecordingsShowCommand(ctx))
	cmd.AddCommand(newRecordingsRemoveCommand(ctx))
	cmd.AddCommand(newRecordingsStatsCommand(ctx))
	return cmd
}

func (c *commandContext) withIndex(fn func(*recordings.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := recordings.Open(cfg)
	if err != nil {
		return fmt.Errorf("open recording index: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newRecordingsListCommand(ctx *commandContext) *cobra.Command {
	var category string
	var localOnly bool
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withIndex(func(store *recordings.Store) error {
				opts := recordings.ListOptions{Limit: limit}
				if strings.TrimSpace(category) != "" {
					opts.Category = textutil.SanitizeToken(category)
				}
				if localOnly {
					opts.LocalOnly = &localOnly
				}
				items, err := store.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, recordingsJSON(items))
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No recordings")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, rec := range items {
					rows = append(rows, []string{
						strconv.FormatInt(rec.ID, 10),
						rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						textutil.DisplayLabel(rec.Category),
						rec.Source,
						humanBytes(rec.SizeBytes),
						storedAt(rec),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Created", "Category", "Source", "Size", "Stored"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only list recordings for this category")
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "Only list recordings that never reached the remote store")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of recordings (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRecordingsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withIndex(func(store *recordings.Store) error {
				rec, err := store.GetByID(cmd.Context(), ids[0])
				if errors.Is(err, recordings.ErrNotFound) {
					return fmt.Errorf("recording %d not found", ids[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, recordingJSON(rec))
				}
				rows := [][2]string{
					{"ID", strconv.FormatInt(rec.ID, 10)},
					{"Attempt", rec.AttemptID},
					{"Category", textutil.DisplayLabel(rec.Category)},
					{"Source", rec.Source},
					{"File", rec.FileName},
					{"Type", rec.ContentType},
					{"Size", humanBytes(rec.SizeBytes)},
					{"Created", rec.CreatedAt.Local().Format(time.RFC3339)},
					{"Origin", rec.Origin},
					{"For mobile", yesNo(rec.ForMobile)},
					{"Uploaded", yesNo(rec.Uploaded())},
				}
				if rec.RemoteAddress != "" {
					rows = append(rows, [2]string{"Address", rec.RemoteAddress})
				}
				if rec.UploadedAt != nil {
					rows = append(rows, [2]string{"Uploaded at", rec.UploadedAt.Local().Format(time.RFC3339)})
				}
				rows = append(rows, [2]string{"Local ref", rec.LocalRef})
				if rec.LocalPath != "" {
					rows = append(rows, [2]string{"Local path", rec.LocalPath})
				}
				if rec.ErrorMessage != "" {
					rows = append(rows, [2]string{"Error", rec.ErrorMessage})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRecordingsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove recordings from the index",
		Long:  "Remove recordings from the index. Spooled files and remote uploads are left in place.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withIndex(func(store *recordings.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					removed, err := store.Remove(cmd.Context(), id)
					if err != nil {
						return err
					}
					if removed {
						fmt.Fprintf(out, "Recording %d removed\n", id)
					} else {
						fmt.Fprintf(out, "Recording %d not found\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newRecordingsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the recording index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withIndex(func(store *recordings.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				latest := "never"
				if stats.Latest != nil {
					latest = stats.Latest.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"Recordings", strconv.Itoa(stats.Total)},
					{"Uploaded", strconv.Itoa(stats.Uploaded)},
					{"Local only", strconv.Itoa(stats.LocalOnly)},
					{"Total size", humanBytes(stats.Bytes)},
					{"Latest", latest},
				}))
				return nil
			})
		},
	}
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid recording id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func storedAt(rec *recordings.Recording) string {
	if rec.Uploaded() {
		return rec.RemoteAddress
	}
	if rec.LocalPath != "" {
		return "local: " + rec.LocalPath
	}
	return "local: " + rec.LocalRef
}
