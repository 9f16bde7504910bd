package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gristmill/pkg/manifest"
	"github.com/3leaps/gristmill/pkg/output"
	"github.com/3leaps/gristmill/pkg/runner"
	"github.com/3leaps/gristmill/pkg/store"
)

func testManifest(source, dest string) *manifest.Manifest {
	m := &manifest.Manifest{
		Version:     manifest.DefaultVersion,
		Name:        "test-job",
		Source:      manifest.LocationConfig{URI: source},
		Destination: manifest.LocationConfig{URI: dest},
		Operation:   manifest.OperationConfig{Name: "textstat"},
	}
	m.ApplyDefaults()
	return m
}

func TestBuildStore_LocalPair(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	work := t.TempDir()

	st, err := buildStore(context.Background(), testManifest(src, dst), work)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	assert.Equal(t, store.TypeLocal, st.Kind())
}

func TestBuildStore_SchemeMismatch(t *testing.T) {
	m := testManifest(t.TempDir(), "s3://bucket/processed/")

	_, err := buildStore(context.Background(), m, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same scheme")
}

func TestBuildStore_BucketMismatch(t *testing.T) {
	m := testManifest("s3://bucket-a/raw/", "s3://bucket-b/processed/")

	_, err := buildStore(context.Background(), m, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must match")
}

func TestBuildStore_UnsupportedScheme(t *testing.T) {
	m := testManifest("ftp://host/path", "ftp://host/out")

	_, err := buildStore(context.Background(), m, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported location scheme")
}

func TestBuildInputFilters(t *testing.T) {
	t.Run("nil filters", func(t *testing.T) {
		m := testManifest("/in", "/out")

		matcher, filter, err := buildInputFilters(m)
		require.NoError(t, err)
		assert.Nil(t, matcher)
		assert.Nil(t, filter)
	})

	t.Run("includes build a matcher", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Filters = &manifest.FiltersConfig{Includes: []string{"**/*.txt"}}

		matcher, filter, err := buildInputFilters(m)
		require.NoError(t, err)
		assert.NotNil(t, matcher)
		assert.Nil(t, filter)
	})

	t.Run("excludes without includes match everything else", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Filters = &manifest.FiltersConfig{Excludes: []string{"**/*.tmp"}}

		matcher, _, err := buildInputFilters(m)
		require.NoError(t, err)
		require.NotNil(t, matcher)
		assert.True(t, matcher.Match("a.txt"))
		assert.False(t, matcher.Match("a.tmp"))
	})

	t.Run("metadata filters build a composite", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Filters = &manifest.FiltersConfig{
			Size:      &manifest.SizeFilterConfig{Min: "1KB"},
			NameRegex: `cat-\d{4}`,
		}

		_, filter, err := buildInputFilters(m)
		require.NoError(t, err)
		assert.NotNil(t, filter)
	})

	t.Run("invalid regex is rejected", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Filters = &manifest.FiltersConfig{NameRegex: "("}

		_, _, err := buildInputFilters(m)
		assert.Error(t, err)
	})
}

func TestResolveWorkdir(t *testing.T) {
	fingerprint := "0123456789abcdef0123456789abcdef"

	t.Run("explicit workdir wins", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "scratch")
		m := testManifest("/in", "/out")
		m.Workdir = dir

		got, err := resolveWorkdir(m, fingerprint)
		require.NoError(t, err)
		assert.Equal(t, dir, got)

		info, err := os.Stat(got)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("default is fingerprint keyed", func(t *testing.T) {
		m := testManifest("/in", "/out")

		got, err := resolveWorkdir(m, fingerprint)
		require.NoError(t, err)
		assert.Contains(t, got, fingerprint[:12])
	})
}

func TestCreateWriter(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Output.Destination = "stdout"

		w, cleanup, err := createWriter(m, "run-1", "local")
		require.NoError(t, err)
		defer cleanup()
		assert.NotNil(t, w)
	})

	t.Run("file prefix", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "records.jsonl")
		m := testManifest("/in", "/out")
		m.Output.Destination = "file:" + path

		w, cleanup, err := createWriter(m, "run-1", "local")
		require.NoError(t, err)
		require.NoError(t, w.WriteProgress(context.Background(), &output.ProgressRecord{Phase: "discovering"}))
		cleanup()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "discovering")
	})

	t.Run("bare path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "records.jsonl")
		m := testManifest("/in", "/out")
		m.Output.Destination = path

		_, cleanup, err := createWriter(m, "run-1", "local")
		require.NoError(t, err)
		cleanup()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("unwritable path", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Output.Destination = filepath.Join(t.TempDir(), "missing", "records.jsonl")

		_, _, err := createWriter(m, "run-1", "local")
		assert.Error(t, err)
	})
}

func TestCreateTracker(t *testing.T) {
	t.Run("no tracking config is a noop", func(t *testing.T) {
		m := testManifest("/in", "/out")

		tr, err := createTracker(m)
		require.NoError(t, err)
		assert.NoError(t, tr.Update(context.Background(), "anything", "ref"))
		assert.NoError(t, tr.Close())
	})

	t.Run("tracking table must exist", func(t *testing.T) {
		m := testManifest("/in", "/out")
		m.Tracking = &manifest.TrackingConfig{Path: filepath.Join(t.TempDir(), "missing.csv")}
		m.ApplyDefaults()

		_, err := createTracker(m)
		assert.Error(t, err)
	})

	t.Run("tracking table with columns", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sheet.csv")
		require.NoError(t, os.WriteFile(path, []byte("identity,result\ncat-001,\n"), 0o644))

		m := testManifest("/in", "/out")
		m.Tracking = &manifest.TrackingConfig{Path: path}
		m.ApplyDefaults()

		tr, err := createTracker(m)
		require.NoError(t, err)
		assert.NoError(t, tr.Close())
	})
}

func TestShowRunPlan(t *testing.T) {
	m := testManifest("/in", "/out")
	plan := &runner.Plan{
		Items: []store.Input{
			{Identity: "cat-001", Name: "cat-001.jpg"},
			{Identity: "cat-002", Name: "cat-002.jpg"},
		},
		Discovered:       5,
		SkippedCompleted: 2,
		SkippedFiltered:  1,
		Demoted:          []string{"cat-003"},
	}

	out := captureStdout(t, func() {
		showRunPlan(m, plan)
	})

	assert.Contains(t, out, "Discovered:  5")
	assert.Contains(t, out, "Planned:     2")
	assert.Contains(t, out, "cat-001")
	assert.Contains(t, out, "cat-003")
	assert.Contains(t, out, "no files were processed")
}

func TestShowRunPlan_Empty(t *testing.T) {
	m := testManifest("/in", "/out")

	out := captureStdout(t, func() {
		showRunPlan(m, &runner.Plan{})
	})

	assert.Contains(t, out, "Nothing to process.")
}

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// what was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.String()
}
