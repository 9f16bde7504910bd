package textop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gristmill/pkg/operation"
)

func TestTextStat(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantWords string
		wantLines string
	}{
		{"simple", "hello world\nsecond line\n", "4", "2"},
		{"empty", "", "0", "0"},
		{"tabs and runs of spaces", "a\t\tb   c\n", "3", "1"},
		{"no trailing newline", "one two", "2", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "doc.txt")
			require.NoError(t, os.WriteFile(input, []byte(tt.content), 0o644))

			op, err := operation.New("textstat", nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"word_count", "line_count"}, op.Columns())

			res, err := op.Process(context.Background(), operation.Input{
				Path:      input,
				OutputDir: filepath.Join(dir, "out"),
				Identity:  "doc",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantWords, res.Fields["word_count"])
			assert.Equal(t, tt.wantLines, res.Fields["line_count"])

			stats, err := os.ReadFile(filepath.Join(res.OutputDir, "doc_stats.txt"))
			require.NoError(t, err)
			assert.Contains(t, string(stats), "words: "+tt.wantWords)
		})
	}
}

func TestTextStatRejectsUnknownParams(t *testing.T) {
	_, err := operation.New("textstat", operation.Params{"samples": 4})
	require.Error(t, err)
}

func TestTextStatMissingInput(t *testing.T) {
	op, err := operation.New("textstat", nil)
	require.NoError(t, err)

	_, err = op.Process(context.Background(), operation.Input{
		Path:      filepath.Join(t.TempDir(), "nope.txt"),
		OutputDir: t.TempDir(),
		Identity:  "nope",
	})
	require.Error(t, err)
}
