package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"boothrec/internal/config"
	"boothrec/internal/preflight"
)

var errNotReady = errors.New("boothrec is not ready to record")

type statusSection struct {
	title   string
	results []preflight.Result
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show capture source, binary, and store readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			c := cmd.Context()

			sections := []statusSection{
				{title: "Capture", results: append(preflight.CheckSources(c, cfg), preflight.CheckBinaries(cfg)...)},
				{title: "Storage", results: storageResults(cmd, cfg)},
				{title: "Notifications", results: []preflight.Result{preflight.CheckNotifications(cfg)}},
			}

			var all []preflight.Result
			for _, s := range sections {
				all = append(all, s.results...)
			}
			blocking := preflight.Blocking(all)

			if asJSON {
				if err := writeJSON(cmd, statusJSON(ctx.configPath, sections, len(blocking) == 0)); err != nil {
					return err
				}
				if len(blocking) > 0 {
					return errNotReady
				}
				return nil
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := []string{fmt.Sprintf("Config: %s", ctx.configPath), ""}
			for _, s := range sections {
				lines = append(lines, renderSectionHeader(s.title, colorize)...)
				for _, r := range s.results {
					lines = append(lines, renderResult(r, colorize))
				}
				lines = append(lines, "")
			}
			if len(blocking) == 0 {
				lines = append(lines, "Ready to record")
			} else {
				lines = append(lines, fmt.Sprintf("Not ready: %d blocking check(s) failed", len(blocking)))
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if len(blocking) > 0 {
				return errNotReady
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func storageResults(cmd *cobra.Command, cfg *config.Config) []preflight.Result {
	results := []preflight.Result{preflight.CheckDirectoryAccess("State directory", cfg.Paths.StateDir)}
	if strings.TrimSpace(cfg.Paths.SpoolDir) != "" {
		spool := preflight.CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir)
		spool.Optional = true
		results = append(results, spool)
	} else {
		results = append(results, preflight.Result{Name: "Spool directory", Passed: true, Optional: true, Detail: "Disabled"})
	}
	results = append(results,
		preflight.CheckIndex(cmd.Context(), cfg),
		preflight.CheckStorage(cmd.Context(), cfg),
	)
	return results
}
