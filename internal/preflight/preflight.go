package preflight

import (
	"context"
	"strings"

	"boothrec/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional results never block a recording.
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	if strings.TrimSpace(cfg.Paths.SpoolDir) != "" {
		spool := CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir)
		spool.Optional = true
		results = append(results, spool)
	}

	results = append(results, CheckBinaries(cfg)...)
	results = append(results, CheckSources(ctx, cfg)...)
	results = append(results, CheckIndex(ctx, cfg))
	results = append(results, CheckStorage(ctx, cfg))

	return results
}

// Blocking returns the failed results that must stop a recording.
func Blocking(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
