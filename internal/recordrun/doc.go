// Package recordrun wires a single recording attempt end to end.
//
// Run takes the cross-process session lock, builds the capture provider,
// ffmpeg encoder, persistence chain, and recording index from config, drives
// one session.Orchestrator attempt, and sends the completion notification.
// Interrupts map onto orchestrator commands: the first interrupt stops the
// recording early, a second one (or a terminate) abandons it.
package recordrun
