package store_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_login_client/internal/adapters/store"
	"github.com/larriantoniy/tg_login_client/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	testCreds = domain.Credentials{APIID: 12345, APIHash: "abc", PhoneNumber: "+15551234567"}
	testProxy = domain.ProxyConfig{Enabled: true, Host: "10.0.0.1", Port: 9050, Username: "u", Password: "p"}
)

func TestFileStore_DefaultsWhenMissing(t *testing.T) {
	s, err := store.OpenFile(filepath.Join(t.TempDir(), "settings.json"), discard())
	require.NoError(t, err)

	c, err := s.Credentials(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c)

	p, err := s.Proxy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultProxy(), p)
	assert.Equal(t, 1080, p.Port)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.yaml", "nested/dir/settings.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			ctx := context.Background()

			s, err := store.OpenFile(path, discard())
			require.NoError(t, err)
			require.NoError(t, s.SetCredentials(ctx, testCreds))
			require.NoError(t, s.SetProxy(ctx, testProxy))

			reopened, err := store.OpenFile(path, discard())
			require.NoError(t, err)

			c, err := reopened.Credentials(ctx)
			require.NoError(t, err)
			assert.Equal(t, testCreds, c)

			p, err := reopened.Proxy(ctx)
			require.NoError(t, err)
			assert.Equal(t, testProxy, p)
		})
	}
}

func TestFileStore_ReadsHandWrittenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
credentials:
  api_id: 777
  api_hash: deadbeef
  phone_number: "+15550001111"
proxy:
  enabled: false
  host: proxy.local
`), 0o600))

	s, err := store.OpenFile(path, discard())
	require.NoError(t, err)

	c, err := s.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{APIID: 777, APIHash: "deadbeef", PhoneNumber: "+15550001111"}, c)

	p, err := s.Proxy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "proxy.local", p.Host)
	assert.Equal(t, domain.DefaultProxyPort, p.Port)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := store.OpenFile(path, discard())
	assert.Error(t, err)
}

func TestFileStore_WatchProxy(t *testing.T) {
	s, err := store.OpenFile(filepath.Join(t.TempDir(), "settings.json"), discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.WatchProxy(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetProxy(context.Background(), testProxy))
	select {
	case p := <-ch:
		assert.Equal(t, testProxy, p)
	case <-time.After(time.Second):
		t.Fatal("no proxy notification")
	}

	// то же значение не рассылается
	require.NoError(t, s.SetProxy(context.Background(), testProxy))
	select {
	case p := <-ch:
		t.Fatalf("unexpected notification %+v", p)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestFileStore_SlowWatcherSeesLatest(t *testing.T) {
	s, err := store.OpenFile(filepath.Join(t.TempDir(), "settings.json"), discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := s.WatchProxy(ctx)
	require.NoError(t, err)

	for port := 2000; port < 2005; port++ {
		p := testProxy
		p.Port = port
		require.NoError(t, s.SetProxy(context.Background(), p))
	}

	p := <-ch
	assert.Equal(t, 2004, p.Port)
}
