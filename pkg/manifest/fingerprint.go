package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// fingerprintPayload is the canonical form hashed by Fingerprint.
//
// Only fields that change what a run produces participate: two manifests
// with the same payload resume the same body of work. Output destination,
// workdir, and S3 tuning knobs are deliberately excluded.
type fingerprintPayload struct {
	Source      string           `json:"source"`
	Destination string           `json:"destination"`
	Operation   string           `json:"operation"`
	Params      map[string]any   `json:"params,omitempty"`
	Filters     *filtersPayload  `json:"filters,omitempty"`
	Ledger      string           `json:"ledger"`
	Tracking    *trackingPayload `json:"tracking,omitempty"`
}

type filtersPayload struct {
	Includes      []string `json:"includes,omitempty"`
	Excludes      []string `json:"excludes,omitempty"`
	IncludeHidden bool     `json:"include_hidden,omitempty"`
	SizeMin       string   `json:"size_min,omitempty"`
	SizeMax       string   `json:"size_max,omitempty"`
	After         string   `json:"after,omitempty"`
	Before        string   `json:"before,omitempty"`
	NameRegex     string   `json:"name_regex,omitempty"`
}

type trackingPayload struct {
	Path         string `json:"path"`
	KeyColumn    string `json:"key_column"`
	ResultColumn string `json:"result_column"`
}

// Fingerprint computes a stable identity hash for the run this manifest
// describes. Runs with equal fingerprints share ledger and run history.
//
// JSON marshaling sorts map keys, so operation params hash canonically.
func (m *Manifest) Fingerprint() (string, error) {
	if m == nil {
		return "", errors.New("manifest is nil")
	}

	payload := fingerprintPayload{
		Source:      strings.TrimSpace(m.Source.URI),
		Destination: strings.TrimSpace(m.Destination.URI),
		Operation:   strings.TrimSpace(m.Operation.Name),
		Params:      m.Operation.Params,
		Ledger:      strings.TrimSpace(m.Ledger.Name),
	}
	if payload.Ledger == "" {
		payload.Ledger = DefaultLedgerName
	}

	if m.Filters != nil {
		fp := &filtersPayload{
			Includes:      normalizePatternList(m.Filters.Includes),
			Excludes:      normalizePatternList(m.Filters.Excludes),
			IncludeHidden: m.Filters.IncludeHidden,
			NameRegex:     strings.TrimSpace(m.Filters.NameRegex),
		}
		if m.Filters.Size != nil {
			fp.SizeMin = strings.TrimSpace(m.Filters.Size.Min)
			fp.SizeMax = strings.TrimSpace(m.Filters.Size.Max)
		}
		if m.Filters.Modified != nil {
			fp.After = strings.TrimSpace(m.Filters.Modified.After)
			fp.Before = strings.TrimSpace(m.Filters.Modified.Before)
		}
		if !fp.isEmpty() {
			payload.Filters = fp
		}
	}

	if m.Tracking != nil && strings.TrimSpace(m.Tracking.Path) != "" {
		tp := &trackingPayload{
			Path:         strings.TrimSpace(m.Tracking.Path),
			KeyColumn:    strings.TrimSpace(m.Tracking.KeyColumn),
			ResultColumn: strings.TrimSpace(m.Tracking.ResultColumn),
		}
		if tp.KeyColumn == "" {
			tp.KeyColumn = DefaultTrackingKeyColumn
		}
		if tp.ResultColumn == "" {
			tp.ResultColumn = DefaultTrackingResultColumn
		}
		payload.Tracking = tp
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint payload: %w", err)
	}

	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:]), nil
}

func (f *filtersPayload) isEmpty() bool {
	return len(f.Includes) == 0 && len(f.Excludes) == 0 && !f.IncludeHidden &&
		f.SizeMin == "" && f.SizeMax == "" && f.After == "" && f.Before == "" &&
		f.NameRegex == ""
}

// normalizePatternList trims, deduplicates, and sorts a pattern list so
// that reordering patterns in the manifest does not change the fingerprint.
func normalizePatternList(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	unique := make(map[string]struct{})
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		unique[trimmed] = struct{}{}
	}
	if len(unique) == 0 {
		return nil
	}

	out := make([]string, 0, len(unique))
	for value := range unique {
		out = append(out, value)
	}
	// Sort for deterministic output
	sort.Strings(out)
	return out
}
