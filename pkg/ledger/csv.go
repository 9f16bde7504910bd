package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Load reads a persisted ledger. The header must begin with the base
// columns; any further columns are carried as declared fields. Every parse
// problem wraps ErrCorrupt: the caller must treat it as fatal.
func Load(r io.Reader) (*Ledger, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(header) < 3 || header[0] != ColIdentity || header[1] != ColResult || header[2] != ColStatus {
		return nil, fmt.Errorf("%w: header must begin with %s,%s,%s", ErrCorrupt, ColIdentity, ColResult, ColStatus)
	}
	seen := make(map[string]struct{}, len(header))
	for _, c := range header {
		if c == "" {
			return nil, fmt.Errorf("%w: empty column name in header", ErrCorrupt)
		}
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrCorrupt, c)
		}
		seen[c] = struct{}{}
	}

	l := &Ledger{
		columns: append([]string(nil), header...),
		records: make(map[string]*Record),
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}

		rec := &Record{
			Identity: row[0],
			Result:   row[1],
			Status:   Status(row[2]),
		}
		if rec.Identity == "" {
			return nil, fmt.Errorf("%w: line %d: blank identity", ErrCorrupt, line)
		}
		switch rec.Status {
		case StatusCompleted, StatusFailed:
		default:
			// Pending is represented by absence; any other value is
			// unreadable state.
			return nil, fmt.Errorf("%w: line %d: unknown status %q", ErrCorrupt, line, row[2])
		}

		for i := 3; i < len(header); i++ {
			if row[i] == "" {
				continue
			}
			if rec.Fields == nil {
				rec.Fields = make(map[string]string)
			}
			rec.Fields[header[i]] = row[i]
		}

		// Duplicate identities resolve last-write-wins, matching the
		// upsert semantics of the live ledger.
		l.records[rec.Identity] = rec
	}

	return l, nil
}

// LoadFile loads a ledger from disk. A missing file is not an error: the
// run simply starts from an empty ledger.
func LoadFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	l, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Persist writes the full ledger: header first, then one row per record
// sorted by identity, unset fields empty.
func (l *Ledger) Persist(w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(l.columns); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}

	for _, rec := range l.Records() {
		row := make([]string, len(l.columns))
		for i, col := range l.columns {
			switch col {
			case ColIdentity:
				row[i] = rec.Identity
			case ColResult:
				row[i] = rec.Result
			case ColStatus:
				row[i] = string(rec.Status)
			default:
				row[i] = rec.Fields[col]
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write ledger row %s: %w", rec.Identity, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}

// PersistFile writes the ledger to disk atomically (temp file + rename),
// so a crash mid-write never leaves a truncated ledger behind.
func (l *Ledger) PersistFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "ledger-*.csv")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := l.Persist(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
