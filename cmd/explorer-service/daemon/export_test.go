package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	"gopkg.in/yaml.v3"
)

type (
	AppConfig   = appConfig
	CacheConfig = cacheConfig
)

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// NewForTests creates a new App instance for testing purposes.
// The servers listen on random local ports.
func NewForTests(t *testing.T, conf *AppConfig, args ...string) *App {
	t.Helper()

	if conf == nil {
		conf = &AppConfig{}
	}
	if conf.Daemon.ConfigPath == "" {
		conf.Daemon.ConfigPath = GenerateTestDaemonConfig(t, &config.Conf{})
	}
	if conf.Daemon.RequestTimeout == 0 {
		conf.Daemon.ReadTimeout = 5 * time.Second
		conf.Daemon.WriteTimeout = 10 * time.Second
		conf.Daemon.RequestTimeout = 5 * time.Second
		conf.Daemon.MaxBodyBytes = 1 << 17
	}
	conf.Daemon.ListenHost = "127.0.0.1"
	conf.Daemon.MetricsHost = "127.0.0.1"

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--config", p}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestDaemonConfig generates a temporary dynamic config file for testing.
func GenerateTestDaemonConfig(t *testing.T, conf *config.Conf) string {
	t.Helper()

	d, err := json.Marshal(conf)
	require.NoError(t, err, "Setup: failed to marshal dynamic config for tests")
	p := filepath.Join(t.TempDir(), "daemon-testconfig.json")
	require.NoError(t, os.WriteFile(p, d, 0600), "Setup: failed to write dynamic config for tests")

	return p
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
