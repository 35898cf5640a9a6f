// Package main hosts the boothrec CLI entrypoint and command graph.
//
// The Cobra command tree records a single booth clip, inspects and prunes
// the recording index, reports readiness of capture sources and stores, and
// scaffolds configuration. Recording itself lives in internal/recordrun;
// commands here only resolve configuration and render results.
package main
