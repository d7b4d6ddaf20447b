package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_login_client/internal/adapters/tg/session"
	"github.com/larriantoniy/tg_login_client/internal/domain"
)

func TestConfig_ProxyConfig(t *testing.T) {
	tests := []struct {
		name    string
		proxy   []any
		want    domain.ProxyConfig
		ok      bool
		wantErr bool
	}{
		{name: "absent", want: domain.DefaultProxy()},
		{name: "short", proxy: []any{3, "h"}, wantErr: true},
		{name: "bad port type", proxy: []any{3, "h", "1080", false, "", ""}, wantErr: true},
		{name: "empty host", proxy: []any{3, "", 1080.0, false, "", ""}, want: domain.DefaultProxy()},
		{
			name:  "no auth",
			proxy: []any{3, "10.0.0.1", 1080.0, false, "u", "p"},
			want:  domain.ProxyConfig{Enabled: true, Host: "10.0.0.1", Port: 1080},
			ok:    true,
		},
		{
			name:  "with auth",
			proxy: []any{3, "proxy.local", 9050, true, "u", "p"},
			want:  domain.ProxyConfig{Enabled: true, Host: "proxy.local", Port: 9050, Username: "u", Password: "p"},
			ok:    true,
		},
		{name: "port out of range", proxy: []any{3, "h", 70000.0, false, "", ""}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := session.Config{Proxy: tt.proxy}
			p, ok, err := c.ProxyConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := session.Load(t.TempDir(), "15551234567")
	require.NoError(t, err)

	assert.Equal(t, "15551234567", cfg.SessionFile)
	assert.Equal(t, "en", cfg.LangCode)
	assert.Equal(t, "Desktop", cfg.Device)
	assert.Equal(t, "Windows 10", cfg.SDK)
	assert.Equal(t, "2.0", cfg.AppVersion)
}

func TestLoad_ReadsConfigJSON(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "acc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"session_file": "acc-main",
		"phone": "+15551234567",
		"device": "Pixel 8",
		"lang_code": "ru",
		"proxy": [3, "10.0.0.1", 1080, true, "u", "p"]
	}`), 0o600))

	cfg, err := session.Load(base, "acc")
	require.NoError(t, err)
	assert.Equal(t, "acc-main", cfg.SessionFile)
	assert.Equal(t, "Pixel 8", cfg.Device)
	assert.Equal(t, "ru", cfg.LangCode)

	p, ok, err := cfg.ProxyConfig()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u", p.Username)

	db, files, err := cfg.Dirs(base)
	require.NoError(t, err)
	assert.DirExists(t, db)
	assert.DirExists(t, files)
	assert.Equal(t, filepath.Join(base, "acc-main", "database"), db)
}

func TestLoad_CorruptJSON(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "acc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "acc", "config.json"), []byte("{"), 0o600))

	_, err := session.Load(base, "acc")
	assert.Error(t, err)
}

func TestName(t *testing.T) {
	assert.Equal(t, "15551234567", session.Name(" +15551234567 "))
}
