package tracking

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSheet(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracking.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	cw := csv.NewWriter(f)
	require.NoError(t, cw.WriteAll(rows))
	require.NoError(t, f.Close())
	return path
}

func readSheet(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg:  Config{Path: "/data/t.csv", KeyColumn: "identity", ResultColumn: "result"},
		},
		{
			name:    "missing path",
			cfg:     Config{KeyColumn: "identity", ResultColumn: "result"},
			wantErr: "path",
		},
		{
			name:    "missing key column",
			cfg:     Config{Path: "/data/t.csv", ResultColumn: "result"},
			wantErr: "key column",
		},
		{
			name:    "missing result column",
			cfg:     Config{Path: "/data/t.csv", KeyColumn: "identity"},
			wantErr: "result column",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewCSVSheet(t *testing.T) {
	t.Run("opens valid table", func(t *testing.T) {
		path := writeSheet(t, [][]string{
			{"shot_id", "notes", "output_uri"},
			{"cat001", "good take", ""},
		})

		s, err := NewCSVSheet(Config{Path: path, KeyColumn: "shot_id", ResultColumn: "output_uri"})
		require.NoError(t, err)
		assert.NoError(t, s.Close())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewCSVSheet(Config{
			Path:         filepath.Join(t.TempDir(), "absent.csv"),
			KeyColumn:    "shot_id",
			ResultColumn: "output_uri",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open tracking table")
	})

	t.Run("empty file has no header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.csv")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		_, err := NewCSVSheet(Config{Path: path, KeyColumn: "shot_id", ResultColumn: "output_uri"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no header row")
	})

	t.Run("key column absent", func(t *testing.T) {
		path := writeSheet(t, [][]string{{"name", "output_uri"}})

		_, err := NewCSVSheet(Config{Path: path, KeyColumn: "shot_id", ResultColumn: "output_uri"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrColumnNotFound)
		assert.Contains(t, err.Error(), "shot_id")
	})

	t.Run("result column absent", func(t *testing.T) {
		path := writeSheet(t, [][]string{{"shot_id", "notes"}})

		_, err := NewCSVSheet(Config{Path: path, KeyColumn: "shot_id", ResultColumn: "output_uri"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrColumnNotFound)
		assert.Contains(t, err.Error(), "output_uri")
	})
}

func TestCSVSheet_Update(t *testing.T) {
	cfg := func(path string) Config {
		return Config{Path: path, KeyColumn: "shot_id", ResultColumn: "output_uri"}
	}

	t.Run("writes result into matching row", func(t *testing.T) {
		path := writeSheet(t, [][]string{
			{"shot_id", "notes", "output_uri"},
			{"cat001", "good take", ""},
			{"cat002", "retake", ""},
		})
		s, err := NewCSVSheet(cfg(path))
		require.NoError(t, err)

		err = s.Update(context.Background(), "cat002", "s3://bucket/processed/cat002/")
		require.NoError(t, err)

		rows := readSheet(t, path)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"cat001", "good take", ""}, rows[1])
		assert.Equal(t, []string{"cat002", "retake", "s3://bucket/processed/cat002/"}, rows[2])
	})

	t.Run("first matching row wins", func(t *testing.T) {
		path := writeSheet(t, [][]string{
			{"shot_id", "output_uri"},
			{"cat001", ""},
			{"cat001", ""},
		})
		s, err := NewCSVSheet(cfg(path))
		require.NoError(t, err)

		require.NoError(t, s.Update(context.Background(), "cat001", "ref"))

		rows := readSheet(t, path)
		assert.Equal(t, "ref", rows[1][1])
		assert.Equal(t, "", rows[2][1])
	})

	t.Run("missing identity returns row not found", func(t *testing.T) {
		path := writeSheet(t, [][]string{
			{"shot_id", "output_uri"},
			{"cat001", ""},
		})
		s, err := NewCSVSheet(cfg(path))
		require.NoError(t, err)

		err = s.Update(context.Background(), "cat999", "ref")
		require.Error(t, err)
		assert.True(t, IsRowNotFound(err))
		assert.Contains(t, err.Error(), "cat999")

		// Table is untouched.
		rows := readSheet(t, path)
		assert.Equal(t, "", rows[1][1])
	})

	t.Run("pads short rows", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ragged.csv")
		content := "shot_id,notes,output_uri\ncat001\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		s, err := NewCSVSheet(cfg(path))
		require.NoError(t, err)

		require.NoError(t, s.Update(context.Background(), "cat001", "ref"))

		rows := readSheet(t, path)
		assert.Equal(t, []string{"cat001", "", "ref"}, rows[1])
	})

	t.Run("sequential updates accumulate", func(t *testing.T) {
		path := writeSheet(t, [][]string{
			{"shot_id", "output_uri"},
			{"cat001", ""},
			{"cat002", ""},
		})
		s, err := NewCSVSheet(cfg(path))
		require.NoError(t, err)

		require.NoError(t, s.Update(context.Background(), "cat001", "ref1"))
		require.NoError(t, s.Update(context.Background(), "cat002", "ref2"))

		rows := readSheet(t, path)
		assert.Equal(t, "ref1", rows[1][1])
		assert.Equal(t, "ref2", rows[2][1])
	})

	t.Run("cancelled context", func(t *testing.T) {
		path := writeSheet(t, [][]string{
			{"shot_id", "output_uri"},
			{"cat001", ""},
		})
		s, err := NewCSVSheet(cfg(path))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = s.Update(ctx, "cat001", "ref")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNoop(t *testing.T) {
	var tr Tracker = Noop{}
	assert.NoError(t, tr.Update(context.Background(), "cat001", "ref"))
	assert.NoError(t, tr.Close())
}
