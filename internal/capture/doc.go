// Package capture turns a capture source (the booth camera or the display
// feed) into one opaque media artifact.
//
// A Provider acquires exclusive Handles. A Pipeline owns one handle and
// drives an Encoder through an ordered encoding fallback chain, collecting
// the fragments it emits into a ChunkBuffer. The buffer is finalized exactly
// once into an Artifact whether the pipeline was stopped, the source was
// revoked, or the caller gave up waiting and took a partial result.
//
// FFmpegEncoder and SourceProvider are the production implementations; the
// capturetest subpackage supplies scripted fakes for tests.
package capture
