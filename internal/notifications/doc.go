// Package notifications delivers recording outcomes via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. The recording
// and errors switches in [notifications] gate each message family.
package notifications
