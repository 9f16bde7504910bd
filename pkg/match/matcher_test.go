package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     error
		wantErrType interface{}
	}{
		{
			name:    "valid single include",
			cfg:     Config{Includes: []string{"scans/**"}},
			wantErr: nil,
		},
		{
			name:    "valid with excludes",
			cfg:     Config{Includes: []string{"scans/**"}, Excludes: []string{"**/rejects/**"}},
			wantErr: nil,
		},
		{
			name:    "no includes",
			cfg:     Config{},
			wantErr: ErrNoIncludes,
		},
		{
			name:    "empty includes slice",
			cfg:     Config{Includes: []string{}},
			wantErr: ErrNoIncludes,
		},
		{
			name:        "invalid include pattern",
			cfg:         Config{Includes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
		{
			name:        "invalid exclude pattern",
			cfg:         Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, m)
			} else if tt.wantErrType != nil {
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.Nil(t, m)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		excludes []string
		hidden   bool
		key      string
		expected bool
	}{
		// Basic matching
		{"simple match", []string{"**/*.jpg"}, nil, false, "cat001.jpg", true},
		{"simple no match", []string{"**/*.jpg"}, nil, false, "cat001.json", false},
		{"nested match", []string{"scans/**/*.jpg"}, nil, false, "scans/2024/01/cat001.jpg", true},
		{"nested no match", []string{"scans/**/*.jpg"}, nil, false, "logs/cat001.jpg", false},

		// Exclude patterns
		{"excluded", []string{"**/*"}, []string{"**/*.log"}, false, "run.log", false},
		{"not excluded", []string{"**/*"}, []string{"**/*.log"}, false, "cat001.jpg", true},
		{"rejects excluded", []string{"scans/**"}, []string{"**/rejects/**"}, false, "scans/rejects/cat001.jpg", false},
		{"rejects not excluded", []string{"scans/**"}, []string{"**/rejects/**"}, false, "scans/keep/cat001.jpg", true},

		// Hidden file handling
		{"hidden excluded by default", []string{"**/*"}, nil, false, ".hidden", false},
		{"hidden dir excluded by default", []string{"**/*"}, nil, false, ".git/config", false},
		{"hidden included when enabled", []string{"**/*"}, nil, true, ".hidden", true},
		{"hidden dir included when enabled", []string{"**/*"}, nil, true, ".git/config", true},
		{"hidden in path excluded", []string{"**/*"}, nil, false, "path/.hidden/cat001.jpg", false},

		// Multiple includes (OR)
		{"multi include first", []string{"*.jpg", "*.png"}, nil, false, "cat001.jpg", true},
		{"multi include second", []string{"*.jpg", "*.png"}, nil, false, "cat001.png", true},
		{"multi include none", []string{"*.jpg", "*.png"}, nil, false, "cat001.csv", false},

		// Names are opaque - no normalization applied
		// Backslash in name is treated as literal character (S3 allows this)
		{"backslash in key literal", []string{"scans/**"}, nil, false, "scans\\cat001.jpg", false},
		{"leading slash in pattern and key", []string{"/scans/**"}, nil, false, "/scans/cat001.jpg", true},
		{"leading slash mismatch", []string{"scans/**"}, nil, false, "/scans/cat001.jpg", false},
		{"no leading slash", []string{"scans/**"}, nil, false, "scans/cat001.jpg", true},

		// Edge cases
		{"empty key", []string{"**"}, nil, false, "", true},
		{"exact match", []string{"exact/cat001.jpg"}, nil, false, "exact/cat001.jpg", true},
		{"exact no match", []string{"exact/cat001.jpg"}, nil, false, "exact/other.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Config{
				Includes:      tt.includes,
				Excludes:      tt.excludes,
				IncludeHidden: tt.hidden,
			})
			require.NoError(t, err)

			result := m.Match(tt.key)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMatcher_IncludePatterns(t *testing.T) {
	m, err := New(Config{Includes: []string{"scans/**", "extra/**"}})
	require.NoError(t, err)

	patterns := m.IncludePatterns()
	assert.Equal(t, []string{"scans/**", "extra/**"}, patterns)
}

func TestMatcher_ExcludePatterns(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"**"},
		Excludes: []string{"**/rejects/**", "**/.git/**"},
	})
	require.NoError(t, err)

	patterns := m.ExcludePatterns()
	assert.Equal(t, []string{"**/rejects/**", "**/.git/**"}, patterns)
}

func TestPatternError(t *testing.T) {
	err := &PatternError{Pattern: "[invalid", Err: ErrInvalidPattern}

	assert.Equal(t, "pattern [invalid: invalid glob pattern", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidPattern))
	assert.Equal(t, ErrInvalidPattern, err.Unwrap())
}

// Benchmark Match - this is the hot path during planning.
func BenchmarkMatcher_Match(b *testing.B) {
	m, _ := New(Config{
		Includes: []string{"scans/**/*.jpg", "scans/**/*.png"},
		Excludes: []string{"**/rejects/**", "**/.thumbs/**"},
	})

	key := "scans/year=2024/month=01/day=15/cat-00000.jpg"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Match(key)
	}
}

func BenchmarkMatcher_Match_Excluded(b *testing.B) {
	m, _ := New(Config{
		Includes: []string{"scans/**"},
		Excludes: []string{"**/rejects/**"},
	})

	key := "scans/rejects/cat-00000.jpg"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Match(key)
	}
}
