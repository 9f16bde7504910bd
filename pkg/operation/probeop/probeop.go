// Package probeop provides the jsonprobe operation: configured paths are
// extracted from JSON inputs into ledger columns, turning a folder of
// documents into a queryable processing table.
package probeop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/3leaps/gristmill/pkg/operation"
)

func init() {
	operation.Register("jsonprobe", newJSONProbe)
}

type jsonProbeOp struct {
	columns []string
	paths   map[string]*jsonPath
}

// newJSONProbe validates params and builds the operation.
//
// Params:
//   - fields: map of ledger column -> path (e.g. title: $.meta.title).
//     Columns are declared in sorted order so the ledger schema is stable
//     regardless of manifest map ordering.
func newJSONProbe(params operation.Params) (operation.Operation, error) {
	if err := params.Check("fields"); err != nil {
		return nil, err
	}

	fields, err := params.StringMap("fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("fields param is required")
	}

	op := &jsonProbeOp{paths: make(map[string]*jsonPath, len(fields))}
	for col, expr := range fields {
		col = strings.TrimSpace(col)
		if col == "" {
			return nil, fmt.Errorf("fields: empty column name")
		}
		p, err := compileJSONPath(expr)
		if err != nil {
			return nil, fmt.Errorf("fields.%s: %w", col, err)
		}
		op.columns = append(op.columns, col)
		op.paths[col] = p
	}
	sort.Strings(op.columns)
	return op, nil
}

func (o *jsonProbeOp) Name() string { return "jsonprobe" }

func (o *jsonProbeOp) Columns() []string {
	return append([]string(nil), o.columns...)
}

func (o *jsonProbeOp) Process(ctx context.Context, in operation.Input) (*operation.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	fields := make(map[string]string, len(o.columns))
	extracted := make(map[string]any, len(o.columns))
	for _, col := range o.columns {
		v, ok := o.paths[col].eval(doc)
		if !ok {
			// Absent paths record as empty rather than failing the file.
			fields[col] = ""
			extracted[col] = nil
			continue
		}
		fields[col] = stringify(v)
		extracted[col] = v
	}

	dir := in.WorkDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out, err := json.MarshalIndent(extracted, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	outPath := filepath.Join(dir, in.Identity+"_fields.json")
	if err := os.WriteFile(outPath, append(out, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write fields: %w", err)
	}

	return &operation.Result{OutputDir: dir, Fields: fields}, nil
}

// stringify renders an extracted JSON value for a CSV cell.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// jsonPath is a small JSON path selector.
//
// Supported forms:
// - $.a.b.c
// - a.b.c
// - a[0].b
type jsonPath struct {
	steps []jsonStep
}

type jsonStep struct {
	key   string
	index *int
}

func compileJSONPath(expr string) (*jsonPath, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("path is empty")
	}
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")

	var steps []jsonStep
	for len(expr) > 0 {
		seg := expr
		nextDot := strings.IndexByte(expr, '.')
		if nextDot >= 0 {
			seg = expr[:nextDot]
			expr = expr[nextDot+1:]
		} else {
			expr = ""
		}
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		step, err := parseSegment(seg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("path has no steps")
	}
	return &jsonPath{steps: steps}, nil
}

func parseSegment(seg string) (jsonStep, error) {
	// key or key[idx]
	open := strings.IndexByte(seg, '[')
	if open == -1 {
		return jsonStep{key: seg}, nil
	}
	if !strings.HasSuffix(seg, "]") {
		return jsonStep{}, fmt.Errorf("invalid path segment %q", seg)
	}
	key := strings.TrimSpace(seg[:open])
	idxStr := strings.TrimSpace(strings.TrimSuffix(seg[open+1:], "]"))
	if idxStr == "" {
		return jsonStep{}, fmt.Errorf("empty index in path segment %q", seg)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return jsonStep{}, fmt.Errorf("invalid index %q", idxStr)
	}
	if idx < 0 {
		return jsonStep{}, fmt.Errorf("index must be >= 0")
	}
	return jsonStep{key: key, index: &idx}, nil
}

func (p *jsonPath) eval(v any) (any, bool) {
	cur := v
	for _, step := range p.steps {
		if step.key != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			next, ok := m[step.key]
			if !ok {
				return nil, false
			}
			cur = next
		}
		if step.index != nil {
			arr, ok := cur.([]any)
			if !ok {
				return nil, false
			}
			idx := *step.index
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}
