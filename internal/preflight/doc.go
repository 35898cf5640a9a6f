// Package preflight provides readiness checks for the capture sources,
// external binaries, and stores boothrec depends on.
//
// These checks run in two contexts:
//   - The record command calls RunAll before the countdown starts and
//     refuses to record when a required check fails.
//   - The "boothrec status" command renders every Result, including the
//     optional ones, so an operator can see what a recording would use.
//
// Each check is gated by its config toggle. Disabled features report a
// passing "Disabled" result instead of being skipped silently.
package preflight
