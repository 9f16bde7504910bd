package preflight_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gristmill/pkg/ledger"
	"github.com/3leaps/gristmill/pkg/output"
	"github.com/3leaps/gristmill/pkg/preflight"
	"github.com/3leaps/gristmill/pkg/store"
)

// fakeStore satisfies store.Store plus both probe capabilities, with
// injectable failures.
type fakeStore struct {
	dir       string
	sourceErr error
	writeErr  error
	ledgerCSV string // served by FetchLedger; empty means not yet published
	fetchErr  error
}

func (f *fakeStore) ListInputs(ctx context.Context) ([]store.Input, error) { return nil, nil }
func (f *fakeStore) Fetch(ctx context.Context, in store.Input) (string, error) {
	return "", nil
}
func (f *fakeStore) Publish(ctx context.Context, localDir, identity string) (string, error) {
	return "", nil
}
func (f *fakeStore) OutputRef(identity string) string { return identity }
func (f *fakeStore) ProbeExists(ctx context.Context, ref string) (bool, error) {
	return false, nil
}
func (f *fakeStore) FetchLedger(ctx context.Context, name string) (string, bool, error) {
	if f.fetchErr != nil {
		return "", false, f.fetchErr
	}
	if f.ledgerCSV == "" {
		return "", false, nil
	}
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(f.ledgerCSV), 0o644); err != nil {
		return "", false, err
	}
	return path, true, nil
}
func (f *fakeStore) PublishLedger(ctx context.Context, localPath, name string) error { return nil }
func (f *fakeStore) Kind() store.Type                                                { return store.TypeLocal }
func (f *fakeStore) Close() error                                                    { return nil }

func (f *fakeStore) ProbeSource(ctx context.Context) error { return f.sourceErr }
func (f *fakeStore) ProbeWrite(ctx context.Context) error  { return f.writeErr }

func capOf(results []output.PreflightCheckResult) []string {
	caps := make([]string, len(results))
	for i, r := range results {
		caps[i] = r.Capability
	}
	return caps
}

func TestRun_AllChecksPass(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		dir:       t.TempDir(),
		ledgerCSV: "identity,result,status\ncat001,s3://b/out/cat001/,completed\n",
	}

	res, err := preflight.Run(ctx, st, preflight.Options{
		CheckWrite: true,
		LedgerName: "ledger.csv",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t,
		[]string{preflight.CapSourceList, preflight.CapDestWrite, preflight.CapLedgerLoad},
		capOf(res.Record.Results))
	for _, r := range res.Record.Results {
		assert.True(t, r.Allowed, "check %s should be allowed", r.Capability)
		assert.Empty(t, r.ErrorCode)
	}

	require.NotNil(t, res.Ledger)
	assert.True(t, res.Ledger.IsDone("cat001"))
	assert.NotEmpty(t, res.LedgerPath)
}

func TestRun_NoPersistedLedger(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{dir: t.TempDir()}

	res, err := preflight.Run(ctx, st, preflight.Options{LedgerName: "ledger.csv"})
	require.NoError(t, err)

	require.NotNil(t, res.Ledger)
	completed, failed := res.Ledger.Counts()
	assert.Zero(t, completed)
	assert.Zero(t, failed)
	assert.Empty(t, res.LedgerPath)
}

func TestRun_SourceDenied(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		dir: t.TempDir(),
		sourceErr: &store.StoreError{
			Op: "ProbeSource", Store: store.TypeS3, Path: "raw/", Err: store.ErrAccessDenied,
		},
	}

	res, err := preflight.Run(ctx, st, preflight.Options{CheckWrite: true, LedgerName: "ledger.csv"})
	require.Error(t, err)
	require.NotNil(t, res)

	// Fail-fast: nothing after the failing check ran.
	require.Len(t, res.Record.Results, 1)
	r := res.Record.Results[0]
	assert.Equal(t, preflight.CapSourceList, r.Capability)
	assert.False(t, r.Allowed)
	assert.Equal(t, output.ErrCodeAccessDenied, r.ErrorCode)
	assert.NotEmpty(t, r.Detail)
	assert.Nil(t, res.Ledger)
}

func TestRun_WriteDenied(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		dir: t.TempDir(),
		writeErr: &store.StoreError{
			Op: "ProbeWrite", Store: store.TypeS3, Path: "processed/", Err: store.ErrAccessDenied,
		},
	}

	res, err := preflight.Run(ctx, st, preflight.Options{CheckWrite: true, LedgerName: "ledger.csv"})
	require.Error(t, err)

	require.Len(t, res.Record.Results, 2)
	assert.True(t, res.Record.Results[0].Allowed)
	r := res.Record.Results[1]
	assert.Equal(t, preflight.CapDestWrite, r.Capability)
	assert.False(t, r.Allowed)
	assert.Equal(t, output.ErrCodeAccessDenied, r.ErrorCode)
}

func TestRun_SourceMissing(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		dir: t.TempDir(),
		sourceErr: &store.StoreError{
			Op: "ProbeSource", Store: store.TypeLocal, Path: "/data/raw", Err: store.ErrSourceNotFound,
		},
	}

	res, err := preflight.Run(ctx, st, preflight.Options{})
	require.Error(t, err)
	require.Len(t, res.Record.Results, 1)
	assert.Equal(t, output.ErrCodeNotFound, res.Record.Results[0].ErrorCode)
}

func TestRun_CorruptLedger(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{
		dir:       t.TempDir(),
		ledgerCSV: "wrong,header\nx,y\n",
	}

	res, err := preflight.Run(ctx, st, preflight.Options{LedgerName: "ledger.csv"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrCorrupt))

	last := res.Record.Results[len(res.Record.Results)-1]
	assert.Equal(t, preflight.CapLedgerLoad, last.Capability)
	assert.False(t, last.Allowed)
	assert.Equal(t, output.ErrCodeInternal, last.ErrorCode)
	assert.Nil(t, res.Ledger)
}

func TestRun_SkippedChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("write skipped for plan-only", func(t *testing.T) {
		st := &fakeStore{dir: t.TempDir(), ledgerCSV: "identity,result,status\n"}
		res, err := preflight.Run(ctx, st, preflight.Options{LedgerName: "ledger.csv"})
		require.NoError(t, err)
		assert.Equal(t,
			[]string{preflight.CapSourceList, preflight.CapLedgerLoad},
			capOf(res.Record.Results))
	})

	t.Run("ledger skipped when unnamed", func(t *testing.T) {
		st := &fakeStore{dir: t.TempDir()}
		res, err := preflight.Run(ctx, st, preflight.Options{CheckWrite: true})
		require.NoError(t, err)
		assert.Equal(t,
			[]string{preflight.CapSourceList, preflight.CapDestWrite},
			capOf(res.Record.Results))
		assert.Nil(t, res.Ledger)
	})
}
