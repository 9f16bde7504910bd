// Package tracking annotates an external tracking table with run results.
//
// A Tracker is invoked once per file that completes in a run: it locates
// the row whose key column matches the file identity and writes the
// published result reference into the result column. Tracking is a side
// effect only - failures are reported to the caller but must never fail
// the run, and when no sink is configured the Noop tracker stands in.
package tracking

import (
	"context"
	"errors"
)

// Tracker writes result references into an external tracking table.
type Tracker interface {
	// Update writes resultRef into the result column of the row whose key
	// column equals identity. Returns an error wrapping ErrRowNotFound
	// when no row matches.
	Update(ctx context.Context, identity, resultRef string) error

	// Close releases any resources held by the tracker.
	Close() error
}

// Sentinel errors for tracking operations.
var (
	// ErrRowNotFound indicates no row matched the identity.
	ErrRowNotFound = errors.New("tracking row not found")

	// ErrColumnNotFound indicates a configured column is absent from the
	// table header.
	ErrColumnNotFound = errors.New("tracking column not found")
)

// IsRowNotFound returns true if the error indicates no row matched.
func IsRowNotFound(err error) bool {
	return errors.Is(err, ErrRowNotFound)
}

// Noop is the tracker used when no tracking sink is configured.
type Noop struct{}

// Update does nothing.
func (Noop) Update(context.Context, string, string) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }

var _ Tracker = Noop{}
