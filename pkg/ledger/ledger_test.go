package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkCompleted(t *testing.T) {
	l := New()
	l.WidenColumns([]string{"samples"})

	require.NoError(t, l.MarkCompleted("cat001", "out/cat001", map[string]string{"samples": "4"}))

	assert.True(t, l.IsDone("cat001"))
	rec, ok := l.Get("cat001")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "out/cat001", rec.Result)
	assert.Equal(t, "4", rec.Fields["samples"])
}

func TestMarkCompletedRequiresResult(t *testing.T) {
	l := New()
	err := l.MarkCompleted("cat001", "", nil)
	require.Error(t, err)
	assert.False(t, l.IsDone("cat001"))
}

func TestMarkRejectsUndeclaredFields(t *testing.T) {
	l := New()
	err := l.MarkCompleted("cat001", "ref", map[string]string{"metric": "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metric")
}

func TestMarkFailedRecordsReason(t *testing.T) {
	l := New()
	l.WidenColumns([]string{ColError})

	require.NoError(t, l.MarkFailed("cat001", "decode error", nil))

	assert.False(t, l.IsDone("cat001"))
	rec, ok := l.Get("cat001")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Empty(t, rec.Result)
	assert.Equal(t, "decode error", rec.Fields[ColError])
}

func TestUpsertLastWriteWins(t *testing.T) {
	l := New()
	l.WidenColumns([]string{ColError})

	require.NoError(t, l.MarkFailed("cat001", "first try", nil))
	require.NoError(t, l.MarkCompleted("cat001", "out/cat001", nil))

	assert.True(t, l.IsDone("cat001"))
	assert.Equal(t, 1, l.Len())
}

func TestWidenColumns(t *testing.T) {
	l := New()

	l.WidenColumns([]string{"samples", "format"})
	assert.Equal(t, []string{ColIdentity, ColResult, ColStatus, "samples", "format"}, l.Columns())

	// Widening again with fewer columns preserves the extras.
	l.WidenColumns([]string{"samples"})
	assert.Equal(t, []string{ColIdentity, ColResult, ColStatus, "samples", "format"}, l.Columns())

	// Blank and duplicate names are ignored.
	l.WidenColumns([]string{"", "samples", "metric"})
	assert.Equal(t, []string{ColIdentity, ColResult, ColStatus, "samples", "format", "metric"}, l.Columns())
}

func TestSchemaWideningBackfillsExistingRows(t *testing.T) {
	persisted := "identity,result,status\ncat001,out/cat001,completed\n"

	l, err := Load(strings.NewReader(persisted))
	require.NoError(t, err)

	l.WidenColumns([]string{"metric"})

	var buf bytes.Buffer
	require.NoError(t, l.Persist(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "identity,result,status,metric", lines[0])
	assert.Equal(t, "cat001,out/cat001,completed,", lines[1])
}

func TestPersistRoundTrip(t *testing.T) {
	l := New()
	l.WidenColumns([]string{"samples", ColError})
	require.NoError(t, l.MarkCompleted("b", "out/b", map[string]string{"samples": "2"}))
	require.NoError(t, l.MarkCompleted("a", "out/a", nil))
	require.NoError(t, l.MarkFailed("c", "boom", nil))

	var buf bytes.Buffer
	require.NoError(t, l.Persist(&buf))

	reloaded, err := Load(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, l.Columns(), reloaded.Columns())
	assert.Equal(t, l.Records(), reloaded.Records())

	// Rows come out sorted by identity.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "a,"))
	assert.True(t, strings.HasPrefix(lines[2], "b,"))
	assert.True(t, strings.HasPrefix(lines[3], "c,"))
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	l, err := LoadFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, []string{ColIdentity, ColResult, ColStatus}, l.Columns())
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"wrong base columns", "name,path,state\nx,y,completed\n"},
		{"unknown status", "identity,result,status\ncat001,out,running\n"},
		{"blank identity", "identity,result,status\n,out,completed\n"},
		{"duplicate column", "identity,result,status,x,x\n"},
		{"ragged row", "identity,result,status\ncat001,out\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.data))
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestPersistFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")

	l := New()
	require.NoError(t, l.MarkCompleted("a", "out/a", nil))
	require.NoError(t, l.PersistFile(path))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ledger.csv", entries[0].Name())

	reloaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsDone("a"))
}

func TestReconcileDemotesVanishedResults(t *testing.T) {
	l := New()
	l.WidenColumns([]string{ColError})
	require.NoError(t, l.MarkCompleted("keep", "out/keep", nil))
	require.NoError(t, l.MarkCompleted("gone", "out/gone", nil))
	require.NoError(t, l.MarkFailed("broken", "boom", nil))

	report, err := l.Reconcile(context.Background(), func(ctx context.Context, ref string) (bool, error) {
		return ref == "out/keep", nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked, "only completed records are probed")
	assert.Equal(t, []string{"gone"}, report.Demoted)

	// Demoted means removed entirely: pending again.
	_, ok := l.Get("gone")
	assert.False(t, ok)
	assert.True(t, l.IsDone("keep"))
	_, ok = l.Get("broken")
	assert.True(t, ok, "failed records are never touched")
}

func TestReconcileKeepsRecordOnProbeError(t *testing.T) {
	l := New()
	require.NoError(t, l.MarkCompleted("a", "out/a", nil))

	probeErr := errors.New("transient")
	report, err := l.Reconcile(context.Background(), func(ctx context.Context, ref string) (bool, error) {
		return false, probeErr
	})
	require.NoError(t, err)

	require.Contains(t, report.ProbeErrors, "a")
	assert.True(t, l.IsDone("a"), "an indeterminate probe never demotes")
}

func TestReconcileHonorsCancellation(t *testing.T) {
	l := New()
	require.NoError(t, l.MarkCompleted("a", "out/a", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Reconcile(ctx, func(ctx context.Context, ref string) (bool, error) {
		return true, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCountsAndRecords(t *testing.T) {
	l := New()
	l.WidenColumns([]string{ColError})
	require.NoError(t, l.MarkCompleted("b", "out/b", nil))
	require.NoError(t, l.MarkCompleted("a", "out/a", nil))
	require.NoError(t, l.MarkFailed("c", "x", nil))

	completed, failed := l.Counts()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, failed)

	recs := l.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].Identity)
	assert.Equal(t, "b", recs[1].Identity)
	assert.Equal(t, "c", recs[2].Identity)
}
