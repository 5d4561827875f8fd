package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/indexops/indexops/internal/common/config"
)

type (
	AppConfig = appConfig
)

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// NewForTests creates a new App instance for testing purposes.
func NewForTests(t *testing.T, conf *AppConfig, daemonConfigPath string, args ...string) *App {
	t.Helper()

	if conf == nil {
		conf = &AppConfig{}
	}

	if conf.FeedsDir == "" {
		conf.FeedsDir = filepath.Join(t.TempDir(), "feeds")
	}

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--config", p, "--daemon-config", daemonConfigPath}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestDaemonConfig generates a temporary daemon config file for testing.
func GenerateTestDaemonConfig(t *testing.T, daemonConfig *config.Conf) string {
	t.Helper()

	d, err := json.Marshal(daemonConfig)
	require.NoError(t, err, "Setup: failed to marshal daemon config for tests")
	daemonConfigPath := filepath.Join(t.TempDir(), "daemon-config.json")
	require.NoError(t, os.WriteFile(daemonConfigPath, d, 0600), "Setup: failed to write daemon config for tests")

	return daemonConfigPath
}

// GenerateTestConfig generates a temporary config file for testing.
func GenerateTestConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	var conf appConfig

	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}

	d, err := yaml.Marshal(conf)
	require.NoError(t, err, "Setup: failed to marshal config for tests")

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	require.NoError(t, os.WriteFile(confPath, d, 0600), "Setup: failed to write config for tests")

	return confPath
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetSilenceUsage set the SilenceUsage flag on root command for tests.
func (a *App) SetSilenceUsage(silence bool) {
	a.cmd.SilenceUsage = silence
}
