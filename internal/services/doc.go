// Package services defines shared utilities consumed by the recording
// components and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp attempt IDs, capture source kinds, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures from ffmpeg,
//     MongoDB, or the recording index classify consistently.
//
// Use these helpers when wiring new components so operational behaviour stays
// uniform across the session lifecycle.
package services
