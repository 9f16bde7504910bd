package probeop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gristmill/pkg/operation"
)

const sampleDoc = `{
  "meta": {"title": "Field Notes", "published": true},
  "stats": {"views": 1200},
  "tags": ["go", "pipelines"]
}`

func newOp(t *testing.T, fields map[string]any) operation.Operation {
	t.Helper()
	op, err := operation.New("jsonprobe", operation.Params{"fields": fields})
	require.NoError(t, err)
	return op
}

func TestJSONProbeExtractsFields(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(input, []byte(sampleDoc), 0o644))

	op := newOp(t, map[string]any{
		"title":     "$.meta.title",
		"views":     "stats.views",
		"published": "meta.published",
		"first_tag": "tags[0]",
		"missing":   "meta.absent",
	})

	// Columns come out sorted regardless of map order.
	assert.Equal(t, []string{"first_tag", "missing", "published", "title", "views"}, op.Columns())

	res, err := op.Process(context.Background(), operation.Input{
		Path:      input,
		OutputDir: filepath.Join(dir, "out"),
		Identity:  "doc",
	})
	require.NoError(t, err)

	assert.Equal(t, "Field Notes", res.Fields["title"])
	assert.Equal(t, "1200", res.Fields["views"])
	assert.Equal(t, "true", res.Fields["published"])
	assert.Equal(t, "go", res.Fields["first_tag"])
	assert.Equal(t, "", res.Fields["missing"], "absent paths record as empty")

	_, err = os.Stat(filepath.Join(res.OutputDir, "doc_fields.json"))
	assert.NoError(t, err)
}

func TestJSONProbeInvalidInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(input, []byte("{not json"), 0o644))

	op := newOp(t, map[string]any{"title": "meta.title"})
	_, err := op.Process(context.Background(), operation.Input{
		Path: input, OutputDir: dir, Identity: "doc",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse json")
}

func TestJSONProbeParamValidation(t *testing.T) {
	tests := []struct {
		name   string
		params operation.Params
	}{
		{"missing fields", operation.Params{}},
		{"empty fields", operation.Params{"fields": map[string]any{}}},
		{"empty column", operation.Params{"fields": map[string]any{" ": "a.b"}}},
		{"empty path", operation.Params{"fields": map[string]any{"x": ""}}},
		{"bad index", operation.Params{"fields": map[string]any{"x": "a[oops]"}}},
		{"negative index", operation.Params{"fields": map[string]any{"x": "a[-1]"}}},
		{"unknown param", operation.Params{"fields": map[string]any{"x": "a"}, "mode": "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := operation.New("jsonprobe", tt.params)
			require.Error(t, err)
		})
	}
}

func TestCompileJSONPath(t *testing.T) {
	p, err := compileJSONPath("$.a.b[2].c")
	require.NoError(t, err)
	require.Len(t, p.steps, 3)
	assert.Equal(t, "a", p.steps[0].key)
	assert.Equal(t, "b", p.steps[1].key)
	require.NotNil(t, p.steps[1].index)
	assert.Equal(t, 2, *p.steps[1].index)
	assert.Equal(t, "c", p.steps[2].key)

	_, err = compileJSONPath("")
	require.Error(t, err)
	_, err = compileJSONPath("$.")
	require.Error(t, err)
}
