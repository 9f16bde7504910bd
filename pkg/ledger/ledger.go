// Package ledger maintains the durable per-file processing state for a run.
//
// The ledger is a keyed table: one record per file identity, with a stable,
// widening column schema (base columns first, then operation-declared
// columns in declaration order). It persists as header-first CSV so the
// state travels with the published outputs and stays inspectable, but
// callers only ever see structured records.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Base columns present in every ledger, in fixed order.
const (
	ColIdentity = "identity"
	ColResult   = "result"
	ColStatus   = "status"

	// ColError holds the recorded failure reason. It is declared by the
	// orchestrator after the operation's columns.
	ColError = "error"
)

// Status is the recorded processing state of one identity.
// Pending is represented by absence from the ledger, never by a row.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrCorrupt indicates persisted ledger data could not be interpreted.
// Loading a corrupt ledger is fatal to the run: resuming on top of
// unreadable state risks silent duplication.
var ErrCorrupt = errors.New("ledger corrupt")

// Record is the processing state of one identity.
type Record struct {
	Identity string
	Result   string
	Status   Status

	// Fields holds operation-declared column values plus the failure
	// reason under ColError. Unset columns are absent from the map.
	Fields map[string]string
}

// Ledger is the full identity -> record mapping plus the ordered column
// schema currently in effect.
type Ledger struct {
	columns []string
	records map[string]*Record
}

// New returns an empty ledger carrying only the base columns.
func New() *Ledger {
	return &Ledger{
		columns: []string{ColIdentity, ColResult, ColStatus},
		records: make(map[string]*Record),
	}
}

// Columns returns a copy of the current column order.
func (l *Ledger) Columns() []string {
	out := make([]string, len(l.columns))
	copy(out, l.columns)
	return out
}

// WidenColumns appends any columns not already present, in the given
// order, back-filling existing records with empty values implicitly.
// Columns already stored but no longer declared are preserved.
func (l *Ledger) WidenColumns(cols []string) {
	seen := make(map[string]struct{}, len(l.columns))
	for _, c := range l.columns {
		seen[c] = struct{}{}
	}
	for _, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		l.columns = append(l.columns, c)
		seen[c] = struct{}{}
	}
}

// hasColumn reports whether a column is part of the current schema.
func (l *Ledger) hasColumn(name string) bool {
	for _, c := range l.columns {
		if c == name {
			return true
		}
	}
	return false
}

// MarkCompleted upserts a completed record. Idempotent; last write wins.
// The result reference must be non-empty, and every field must belong to
// the current schema.
func (l *Ledger) MarkCompleted(identity, result string, fields map[string]string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("mark completed: identity is required")
	}
	if strings.TrimSpace(result) == "" {
		return fmt.Errorf("mark completed %s: result reference is required", identity)
	}
	if err := l.checkFields(fields); err != nil {
		return fmt.Errorf("mark completed %s: %w", identity, err)
	}

	l.records[identity] = &Record{
		Identity: identity,
		Result:   result,
		Status:   StatusCompleted,
		Fields:   copyFields(fields),
	}
	return nil
}

// MarkFailed upserts a failed record with the given reason. Idempotent;
// last write wins. The result reference is cleared: only completed records
// carry one.
func (l *Ledger) MarkFailed(identity, reason string, fields map[string]string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("mark failed: identity is required")
	}
	if err := l.checkFields(fields); err != nil {
		return fmt.Errorf("mark failed %s: %w", identity, err)
	}

	f := copyFields(fields)
	if reason != "" {
		if f == nil {
			f = make(map[string]string, 1)
		}
		f[ColError] = reason
	}
	l.records[identity] = &Record{
		Identity: identity,
		Status:   StatusFailed,
		Fields:   f,
	}
	return nil
}

// checkFields rejects values for columns outside the current schema and
// for base columns, which are owned by the record itself.
func (l *Ledger) checkFields(fields map[string]string) error {
	for name := range fields {
		switch name {
		case ColIdentity, ColResult, ColStatus:
			return fmt.Errorf("field %q is a base column", name)
		}
		if !l.hasColumn(name) {
			return fmt.Errorf("field %q is not a declared column", name)
		}
	}
	return nil
}

// IsDone reports whether an identity has a completed record.
func (l *Ledger) IsDone(identity string) bool {
	r, ok := l.records[identity]
	return ok && r.Status == StatusCompleted
}

// Get returns a copy of the record for an identity.
func (l *Ledger) Get(identity string) (Record, bool) {
	r, ok := l.records[identity]
	if !ok {
		return Record{}, false
	}
	out := *r
	out.Fields = copyFields(r.Fields)
	return out, true
}

// Len is the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Counts returns how many records are completed and failed.
func (l *Ledger) Counts() (completed, failed int) {
	for _, r := range l.records {
		switch r.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return completed, failed
}

// Records returns copies of all records, sorted by identity.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		c := *r
		c.Fields = copyFields(r.Fields)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// remove deletes a record. Used by reconciliation to demote stale
// completions back to pending (absent).
func (l *Ledger) remove(identity string) {
	delete(l.records, identity)
}

func copyFields(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
