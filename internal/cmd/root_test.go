package cmd

import (
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
			buildDate: "2026-08-31",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
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

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))

	assert.Equal(t, 4, viper.GetInt("jobs"))

	assert.Equal(t, "localhost", viper.GetString("server.host"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "30s", viper.GetString("server.read_timeout"))
	assert.Equal(t, "30s", viper.GetString("server.write_timeout"))
	assert.Equal(t, "120s", viper.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", viper.GetString("server.shutdown_timeout"))
}

func TestExitErrorCarriesCode(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", errors.New("version missing"))

	var ec *exitCodeError
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, foundry.ExitInvalidArgument, ec.code)
	assert.Contains(t, err.Error(), "Invalid manifest")
	assert.Contains(t, err.Error(), "version missing")
}

func TestExitErrorWithoutCause(t *testing.T) {
	err := exitError(foundry.ExitFileWriteError, "Failed to write output", nil)
	assert.Equal(t, "Failed to write output", err.Error())
}

func TestBuildMatcher(t *testing.T) {
	t.Run("no patterns means no matcher", func(t *testing.T) {
		m, err := buildMatcher(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("includes only", func(t *testing.T) {
		m, err := buildMatcher([]string{"align:*"}, nil)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.True(t, m.Match("align:osat-sbic"))
		assert.False(t, m.Match("merge:osat-sbic"))
	})

	t.Run("excludes only match everything else", func(t *testing.T) {
		m, err := buildMatcher(nil, []string{"download:*"})
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.True(t, m.Match("align:osat-sbic"))
		assert.False(t, m.Match("download:osat"))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := buildMatcher([]string{"align:["}, nil)
		require.Error(t, err)
	})
}
