// Package persistence stores finalized recordings, degrading to a local-only
// artifact when no remote store accepts them.
//
// Service.Persist never fails. It registers the artifact locally first, then
// tries each RemoteStore once in order. Every failure is logged and audited
// in the recording index; when all remotes fail (or none are configured) the
// local reference is returned with LocalOnly set.
package persistence
