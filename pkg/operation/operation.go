// Package operation defines the pluggable per-file transformation contract
// and the registry operations are selected from by name.
//
// An operation receives one fetched input and an output root it shares
// with other identities; it owns only its identity's subdirectory. The
// columns it declares become part of the run ledger's schema.
package operation

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Operation transforms one input file into a published output tree.
//
// Implementations must be effectively idempotent: re-running after a prior
// partial failure must not corrupt or duplicate a complete output. They
// must never write outside OutputDir/Identity.
type Operation interface {
	// Name is the registry name the operation was created under.
	Name() string

	// Columns declares the ledger columns this operation records, in
	// stable order. Fixed for the lifetime of the instance.
	Columns() []string

	// Process transforms one input. On success the result's OutputDir
	// must name a non-empty local directory; its Fields may only use
	// declared columns. Failures return an error and are recorded
	// against the identity without aborting the run.
	Process(ctx context.Context, in Input) (*Result, error)
}

// Input describes one file handed to an operation.
type Input struct {
	// Path is the local path of the fetched input file.
	Path string

	// OutputDir is the shared output root. The operation writes only
	// under OutputDir/Identity.
	OutputDir string

	// Identity is the ledger key for this file.
	Identity string
}

// Result is a successful transformation.
type Result struct {
	// OutputDir is the local directory holding this identity's outputs.
	OutputDir string

	// Fields are values for the operation's declared columns. Unset
	// columns persist as empty.
	Fields map[string]string
}

// WorkDir returns the directory an operation owns for an input:
// OutputDir/Identity. The operation creates it on demand.
func (in Input) WorkDir() string {
	return filepath.Join(in.OutputDir, in.Identity)
}

// Params carries operation configuration straight from the run manifest.
// Values arrive as decoded YAML/JSON: strings, numbers, lists, and maps.
type Params map[string]any

// Check rejects parameter keys outside the allowed set, so typos in
// manifests surface at startup instead of silently doing nothing.
func (p Params) Check(allowed ...string) error {
	var unknown []string
	for k := range p {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
				break
			}
		}
		if !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown params: %s", strings.Join(unknown, ", "))
}

// Int reads an integer parameter, with a default when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	n, ok := coerceInt(v)
	if !ok {
		return 0, fmt.Errorf("param %q: expected integer, got %T", key, v)
	}
	return n, nil
}

// Strings reads a list-of-strings parameter. Absent yields nil.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("param %q: expected list, got %T", key, v)
	}
	out := make([]string, 0, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("param %q[%d]: expected string, got %T", key, i, it)
		}
		out = append(out, s)
	}
	return out, nil
}

// Ints reads a list-of-integers parameter. Absent yields nil.
func (p Params) Ints(key string) ([]int, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("param %q: expected list, got %T", key, v)
	}
	out := make([]int, 0, len(items))
	for i, it := range items {
		n, ok := coerceInt(it)
		if !ok {
			return nil, fmt.Errorf("param %q[%d]: expected integer, got %T", key, i, it)
		}
		out = append(out, n)
	}
	return out, nil
}

// StringMap reads a map-of-strings parameter. Absent yields nil.
func (p Params) StringMap(key string) (map[string]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("param %q: expected map, got %T", key, v)
	}
	out := make(map[string]string, len(m))
	for k, mv := range m {
		s, ok := mv.(string)
		if !ok {
			return nil, fmt.Errorf("param %q.%s: expected string, got %T", key, k, mv)
		}
		out[k] = s
	}
	return out, nil
}

// coerceInt accepts the integer encodings YAML and JSON decoding produce.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
