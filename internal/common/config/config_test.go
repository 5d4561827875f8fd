package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexops/indexops/internal/common/config"
)

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0600), "failed to write temp config file")
	return tmpFile
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content     string
		missingFile bool

		wantSources []string
		wantToken   string
		wantErr     bool
	}{
		"Valid config loads": {
			content:     `{"sources": ["Deal4", "JobsEU"], "apiTokens": ["t0ken"]}`,
			wantSources: []string{"Deal4", "JobsEU"},
			wantToken:   "t0ken",
		},
		"Empty JSON loads": {
			content: "{}",
		},

		// Error cases
		"Invalid JSON fails": {
			content: `{"sources": ["Deal4"]`, // Missing closing brace
			wantErr: true,
		},
		"Missing file fails": {
			content:     "{}",
			missingFile: true,
			wantErr:     true,
		},
		"Empty file fails": {
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			configPath := "nonexistent.json"
			if !tc.missingFile {
				configPath = createTempConfigFile(t, tc.content)
			}

			cm := config.New(configPath)
			err := cm.Load()

			if tc.wantErr {
				require.Error(t, err, "expected error loading config")
				assert.Empty(t, cm.Sources(), "expected no sources on error")
				return
			}
			require.NoError(t, err, "expected no error loading config")

			assert.Equal(t, tc.wantSources, cm.Sources())
			if tc.wantToken != "" {
				assert.True(t, cm.IsValidToken(tc.wantToken), "expected configured token to validate")
			}
			assert.False(t, cm.IsValidToken("not-a-token"), "unknown token must not validate")
		})
	}
}

func TestIsValidTokenEmptyConfig(t *testing.T) {
	t.Parallel()

	cm := config.New(createTempConfigFile(t, "{}"))
	require.NoError(t, cm.Load())
	assert.False(t, cm.IsValidToken(""), "empty token must never validate")
}

func TestWatchMissingDirFails(t *testing.T) {
	t.Parallel()

	cm := config.New("somewhere/nonexistent.json")
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.Error(t, err, "Expected error starting watch on missing config directory")

	select {
	case <-watchErr:
		require.Fail(t, "expected no error in watchErr channel")
	case <-watchEvent:
		require.Fail(t, "expected no event for missing config file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchConfigReloadsOnChange(t *testing.T) {
	t.Parallel()

	initial := `{"sources": ["alpha"]}`
	updated := `{"sources": ["beta"]}`
	tmpFile := createTempConfigFile(t, initial)

	cm := config.New(tmpFile)
	require.NoError(t, cm.Load(), "Setup: initial load failed")

	watchEvent, _, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")
	require.Equal(t, []string{"alpha"}, cm.Sources(), "Setup: expected initial sources")

	require.NoError(t, os.WriteFile(tmpFile, []byte(updated), 0600), "Setup: failed to update config file")

	select {
	case <-watchEvent:
	case <-time.After(5 * time.Second):
		require.Fail(t, "timed out waiting for config reload event")
	}

	assert.Equal(t, []string{"beta"}, cm.Sources(), "expected sources to be reloaded")
}
