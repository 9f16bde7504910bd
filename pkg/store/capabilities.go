package store

import "context"

// Optional store capability interfaces.
//
// These are used for feature detection (type assertions). The core Store
// interface carries only what the orchestrator's control loop needs.

// WriteProber can verify that the destination accepts writes without
// leaving output behind. Used by preflight checks.
type WriteProber interface {
	ProbeWrite(ctx context.Context) error
}

// SourceProber can verify that the configured source exists and is
// listable. Used by preflight checks.
type SourceProber interface {
	ProbeSource(ctx context.Context) error
}
