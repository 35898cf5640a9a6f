// Package session drives one recording attempt from the pre-roll countdown
// through dual-source capture, the deadline-bounded stop, artifact selection
// and persistence.
//
// All attempt state lives on the goroutine started by Orchestrator.Run.
// Commands (Start, Stop, Reset, Snapshot) are delivered to that goroutine;
// timers, pipelines, acquisition and upload report back through a mailbox
// tagged with the attempt epoch, so events from an abandoned attempt are
// dropped instead of applied.
package session
