package tracking

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config configures a CSV sheet tracker.
type Config struct {
	// Path is the CSV file holding the tracking table.
	Path string

	// KeyColumn is the header name matched against file identities.
	KeyColumn string

	// ResultColumn is the header name receiving result references.
	ResultColumn string
}

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("tracking path is required")
	}
	if strings.TrimSpace(c.KeyColumn) == "" {
		return fmt.Errorf("tracking key column is required")
	}
	if strings.TrimSpace(c.ResultColumn) == "" {
		return fmt.Errorf("tracking result column is required")
	}
	return nil
}

// CSVSheet tracks results in a local spreadsheet-like CSV table.
//
// The table is externally owned: the tracker never adds rows or columns,
// only fills the configured result column of existing rows. Rows may be
// ragged (hand-edited sheets often are); short rows are padded when
// updated. Every update is persisted atomically so a crash never leaves
// a truncated table behind.
type CSVSheet struct {
	path      string
	keyIdx    int
	resultIdx int

	mu     sync.Mutex
	header []string
	rows   [][]string
}

var _ Tracker = (*CSVSheet)(nil)

// NewCSVSheet opens an existing tracking table and locates the configured
// columns. The table must already exist with a header row containing both
// columns; misconfiguration surfaces here, before any file is processed.
func NewCSVSheet(cfg Config) (*CSVSheet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open tracking table: %w", err)
	}
	defer func() { _ = f.Close() }()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1 // external sheets may be ragged

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("tracking table %s has no header row", cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("read tracking header: %w", err)
	}

	s := &CSVSheet{
		path:      cfg.Path,
		keyIdx:    -1,
		resultIdx: -1,
		header:    header,
	}
	for i, col := range header {
		switch col {
		case cfg.KeyColumn:
			s.keyIdx = i
		case cfg.ResultColumn:
			s.resultIdx = i
		}
	}
	if s.keyIdx < 0 {
		return nil, fmt.Errorf("%w: key column %q not in %s", ErrColumnNotFound, cfg.KeyColumn, cfg.Path)
	}
	if s.resultIdx < 0 {
		return nil, fmt.Errorf("%w: result column %q not in %s", ErrColumnNotFound, cfg.ResultColumn, cfg.Path)
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tracking table: %w", err)
		}
		s.rows = append(s.rows, row)
	}

	return s, nil
}

// Update writes resultRef into the result column of the first row whose
// key column equals identity, then persists the table.
func (s *CSVSheet) Update(ctx context.Context, identity, resultRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, row := range s.rows {
		if s.keyIdx >= len(row) || row[s.keyIdx] != identity {
			continue
		}
		for len(row) <= s.resultIdx {
			row = append(row, "")
		}
		row[s.resultIdx] = resultRef
		s.rows[i] = row
		return s.persistLocked()
	}

	return fmt.Errorf("%w: %q in column %q", ErrRowNotFound, identity, s.header[s.keyIdx])
}

// Close releases the tracker. All updates are already persisted.
func (s *CSVSheet) Close() error { return nil }

// persistLocked writes the table atomically (temp file + rename).
// Caller must hold mu.
func (s *CSVSheet) persistLocked() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "tracking-*.csv")
	if err != nil {
		return fmt.Errorf("create temp tracking table: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	cw := csv.NewWriter(tmp)
	if err := cw.Write(s.header); err != nil {
		return fmt.Errorf("write tracking header: %w", err)
	}
	for _, row := range s.rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write tracking row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush tracking table: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp tracking table: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace tracking table: %w", err)
	}
	return nil
}
