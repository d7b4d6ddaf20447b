package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_login_client/internal/config"
	"github.com/larriantoniy/tg_login_client/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "env: dev\n"))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, config.BackendWire, cfg.Backend)
	assert.Equal(t, "./settings.json", cfg.SettingsPath)
	assert.Equal(t, 15*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.Client.CodeWindow)
	assert.Equal(t, "127.0.0.1:8443", cfg.Remote.Addr)
	assert.EqualValues(t, 3, cfg.Remote.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Remote.RetryBase)
	assert.True(t, cfg.Remote.ProbeConnectivity)
	assert.Equal(t, "./tdlib-sessions", cfg.TDLib.BaseDir)
	assert.Equal(t, "tglogin", cfg.Redis.Prefix)
	assert.Equal(t, []string{"127.0.0.1", "localhost"}, cfg.Server.Hosts)
	assert.Equal(t, 5, cfg.Server.CodeLength)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
env: prod
backend: tdlib
settings_path: /var/lib/tglogin/settings.yaml
api_id: 777
api_hash: deadbeef
client:
  request_timeout: 3s
remote:
  addr: login.example.com:443
  ca_file: /etc/tglogin/ca.pem
tdlib:
  base_dir: /var/lib/tdlib
redis:
  addr: 127.0.0.1:6379
  prefix: bot
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendTDLib, cfg.Backend)
	assert.Equal(t, "/var/lib/tglogin/settings.yaml", cfg.SettingsPath)
	assert.Equal(t, 3*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, "login.example.com:443", cfg.Remote.Addr)
	assert.Equal(t, "/etc/tglogin/ca.pem", cfg.Remote.CAFile)
	assert.Equal(t, "/var/lib/tdlib", cfg.TDLib.BaseDir)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "bot", cfg.Redis.Prefix)
	assert.Equal(t, domain.Credentials{APIID: 777, APIHash: "deadbeef"}, cfg.Credentials())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api_id: 1\napi_hash: fromfile\n")
	t.Setenv("TELEGRAM_API_ID", "12345")
	t.Setenv("TELEGRAM_API_HASH", "abc")
	t.Setenv("REMOTE_ADDR", "10.0.0.5:9443")
	t.Setenv("CLIENT_REQUEST_TIMEOUT", "7s")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.Credentials{APIID: 12345, APIHash: "abc"}, cfg.Credentials())
	assert.Equal(t, "10.0.0.5:9443", cfg.Remote.Addr)
	assert.Equal(t, 7*time.Second, cfg.Client.RequestTimeout)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("BACKEND", "tdlib")
	t.Setenv("TDLIB_BASE_DIR", "/tmp/sessions")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.BackendTDLib, cfg.Backend)
	assert.Equal(t, "/tmp/sessions", cfg.TDLib.BaseDir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(writeConfig(t, "backend: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "unknown backend")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "client:\n  request_timeout: -1s\n"))
	assert.Error(t, err)
}

func TestFetchConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/from/env.yaml")

	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var path string
	config.BindConfigFlag(flagSet, &path)

	require.NoError(t, flagSet.Parse(nil))
	assert.Equal(t, "/from/env.yaml", config.FetchConfigPath(path))

	require.NoError(t, flagSet.Parse([]string{"--config", "/from/flag.yaml"}))
	assert.Equal(t, "/from/flag.yaml", config.FetchConfigPath(path))

	require.NoError(t, flagSet.Parse([]string{"-c", "short.yaml"}))
	assert.Equal(t, "short.yaml", config.FetchConfigPath(path))
}
