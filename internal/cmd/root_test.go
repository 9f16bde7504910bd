package cmd

import (
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		assert.Nil(t, GetAppIdentity())
	})

	t.Run("returns identity after init", func(t *testing.T) {
		result := GetAppIdentity()
		assert.NotNil(t, result)
		assert.Equal(t, "gristmill", result.BinaryName)
		assert.Equal(t, "GRISTMILL", result.EnvPrefix)
		assert.Equal(t, "gristmill", result.ConfigName)
	})
}

func TestRootOverrides(t *testing.T) {
	origLevel := flagLogLevel
	origProfile := flagLogProfile
	defer func() {
		flagLogLevel = origLevel
		flagLogProfile = origProfile
	}()

	t.Run("no flags set", func(t *testing.T) {
		flagLogLevel = ""
		flagLogProfile = ""

		assert.Empty(t, rootOverrides())
	})

	t.Run("log level only", func(t *testing.T) {
		flagLogLevel = "debug"
		flagLogProfile = ""

		got := rootOverrides()
		logging, ok := got["logging"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "debug", logging["level"])
		assert.NotContains(t, logging, "profile")
	})

	t.Run("both flags set", func(t *testing.T) {
		flagLogLevel = "warn"
		flagLogProfile = "structured"

		got := rootOverrides()
		logging, ok := got["logging"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "warn", logging["level"])
		assert.Equal(t, "structured", logging["profile"])
	})
}

func TestExitError(t *testing.T) {
	base := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "Invalid manifest")
	assert.Contains(t, err.Error(), "boom")
}

func TestExitCodeFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "nil error",
			err:  nil,
			want: 0,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: 1,
		},
		{
			name: "exit error carries its code",
			err:  exitError(foundry.ExitExternalServiceUnavailable, "Run failed", errors.New("boom")),
			want: foundry.ExitExternalServiceUnavailable,
		},
		{
			name: "wrapped exit error keeps the code suffix",
			err:  exitError(foundry.ExitSignalInt, "Run interrupted", errors.New("context canceled")),
			want: foundry.ExitSignalInt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFrom(tt.err))
		})
	}
}
