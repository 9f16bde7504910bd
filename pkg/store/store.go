// Package store defines the storage boundary for processing runs.
//
// A Store supplies the orchestrator with input discovery, input
// materialization, output publication, and ledger transport, without the
// orchestrator knowing whether the backing location is a cloud bucket or a
// local directory. Authentication uses SDK default credential chains -
// stores should not implement custom auth logic.
package store

import (
	"context"
	"path"
	"strings"
	"time"
)

// Store abstracts the source and destination of one processing run.
//
// Implementations should:
//   - Report every failure through typed errors (never swallow)
//   - Support pagination internally where the backing location requires it
//   - Derive identities with IdentityFor so both variants agree
type Store interface {
	// ListInputs enumerates the files available under the configured source.
	// Listing order is not guaranteed to be stable between calls.
	ListInputs(ctx context.Context) ([]Input, error)

	// Fetch materializes one input to local storage and returns its path.
	// Returns ErrNotFound if the input vanished after listing.
	Fetch(ctx context.Context, in Input) (string, error)

	// Publish copies the completed output tree for an identity to the
	// destination and returns the reference recorded in the ledger.
	Publish(ctx context.Context, localDir, identity string) (string, error)

	// OutputRef reports the reference Publish will return for an identity.
	// The value is deterministic and valid before Publish has run.
	OutputRef(identity string) string

	// ProbeExists reports whether a previously recorded reference still
	// denotes a published output. Used by ledger reconciliation.
	ProbeExists(ctx context.Context, ref string) (bool, error)

	// FetchLedger retrieves the persisted ledger from the destination.
	// found is false when no ledger has been published yet.
	FetchLedger(ctx context.Context, name string) (localPath string, found bool, err error)

	// PublishLedger copies the working ledger file to the destination.
	PublishLedger(ctx context.Context, localPath, name string) error

	// Kind identifies the active variant.
	Kind() Type

	// Close releases any resources held by the store.
	Close() error
}

// Input is one discovered file.
type Input struct {
	// Identity is the stable ledger key: base name without extension.
	Identity string

	// Name is the source-relative name, used for include/exclude filters.
	Name string

	// Token is the variant-specific fetch token (object key or file path).
	Token string

	// Size is the input size in bytes.
	Size int64

	// ModifiedAt is the input's last modification time, when the backing
	// location reports one.
	ModifiedAt time.Time
}

// Type identifies a store variant.
type Type string

const (
	// TypeS3 is AWS S3 or S3-compatible storage.
	TypeS3 Type = "s3"

	// TypeLocal is a local directory or archive.
	TypeLocal Type = "local"
)

// String returns the string representation of the store type.
func (t Type) String() string {
	return string(t)
}

// IdentityFor derives the ledger identity from a file name: the base name
// with the final extension removed. "shots/cat001.jpg" and "cat001.png"
// both yield "cat001".
func IdentityFor(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := path.Ext(base)
	id := strings.TrimSuffix(base, ext)
	if id == "" {
		// Dotfiles like ".env" keep their full name.
		return base
	}
	return id
}
