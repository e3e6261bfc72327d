// Package core is the orchestration layer.  It turns a Config into the
// modes caracas runs and supervises them under one context.
//
// Architecture layers (bottom → top):
//
//	transport  →  zmtp / session  →  client / peer / power  →  core  →  cmd (CLI)
//
// Build is the single dispatch point; nothing above it switches on
// configuration flags.
package core

import "context"

// Mode is one long-running part of a caracas process: the request
// session, the reply peer, the power watcher or the metrics endpoint.
// Each mode owns its resources from start to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
