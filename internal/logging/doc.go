// Package logging assembles structured slog loggers and formatting helpers used
// across boothrec components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes helpers so session code can tag log lines with attempt
// IDs, phases, and capture sources. The package also provides a no-op logger
// for tests and wiring code that cannot fail.
package logging
