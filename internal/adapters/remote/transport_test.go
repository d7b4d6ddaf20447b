package remote_test

import (
	"context"
	"crypto/x509"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/tg_login_client/internal/adapters/remote"
	"github.com/larriantoniy/tg_login_client/internal/authserver"
	"github.com/larriantoniy/tg_login_client/internal/domain"
)

var creds = domain.Credentials{APIID: 12345, APIHash: "abc", PhoneNumber: "+15551234567"}

type codes struct {
	mu   sync.Mutex
	last map[string]string
}

func (c *codes) sink(phone, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[phone] = code
}

func (c *codes) get(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[phone]
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	srv   *authserver.Server
	pool  *x509.CertPool
	codes *codes
}

func startEnv(t *testing.T, cfg authserver.Config) *env {
	t.Helper()

	cert, pool, err := authserver.SelfSigned("127.0.0.1")
	require.NoError(t, err)
	cfg.Addr = "127.0.0.1:0"
	cfg.Certificate = cert

	e := &env{pool: pool, codes: &codes{last: map[string]string{}}}
	e.srv = authserver.New(cfg, discard(), authserver.WithCodeSink(e.codes.sink))
	require.NoError(t, e.srv.Listen())
	go func() { _ = e.srv.Serve() }()
	t.Cleanup(e.srv.Stop)
	return e
}

func (e *env) transport(t *testing.T) *remote.Transport {
	t.Helper()
	tr := remote.New(remote.Config{
		Addr:       e.srv.Addr(),
		RootCAs:    e.pool,
		MaxRetries: 1,
		RetryBase:  10 * time.Millisecond,
	}, discard())
	require.NoError(t, tr.CheckSecureChannel())
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func signIn(t *testing.T, e *env, tr *remote.Transport) domain.Authorization {
	t.Helper()
	sent, err := tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	require.NoError(t, err)
	auth, err := tr.SignIn(ctx(t), creds, creds.PhoneNumber, sent.PhoneCodeHash, e.codes.get(creds.PhoneNumber))
	require.NoError(t, err)
	return auth
}

func TestTransport_LoginFlow(t *testing.T) {
	e := startEnv(t, authserver.Config{})
	tr := e.transport(t)

	sent, err := tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	require.NoError(t, err)
	assert.NotEmpty(t, sent.PhoneCodeHash)
	assert.Equal(t, authserver.DefaultCodeLength, sent.CodeLength)
	assert.Equal(t, authserver.DefaultCodeTTL, sent.Timeout)

	auth, err := tr.SignIn(ctx(t), creds, creds.PhoneNumber, sent.PhoneCodeHash, e.codes.get(creds.PhoneNumber))
	require.NoError(t, err)
	assert.NotZero(t, auth.UserID)
	assert.NotEmpty(t, auth.AuthToken)

	profile, err := tr.GetProfile(ctx(t), creds)
	require.NoError(t, err)
	assert.Equal(t, auth.UserID, profile.UserID)
	assert.Equal(t, "user4567", profile.Username)

	require.NoError(t, tr.LogOut(ctx(t)))

	_, err = tr.GetProfile(ctx(t), creds)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTransport_ServerErrorsMapToKinds(t *testing.T) {
	e := startEnv(t, authserver.Config{
		APIHashes:    map[int32]string{12345: "abc"},
		CodeInterval: time.Minute,
		CodeBurst:    1,
	})
	tr := e.transport(t)

	_, err := tr.SendCode(ctx(t), creds, "12")
	assert.ErrorIs(t, err, domain.ErrInvalidPhone)

	_, err = tr.SendCode(ctx(t), domain.Credentials{APIID: 1, APIHash: "abc"}, creds.PhoneNumber)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	sent, err := tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	require.NoError(t, err)

	_, err = tr.SignIn(ctx(t), creds, creds.PhoneNumber, sent.PhoneCodeHash, "00000000")
	assert.ErrorIs(t, err, domain.ErrInvalidCode)

	_, err = tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	_, err = tr.GetProfile(ctx(t), creds)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestTransport_CheckSecureChannel(t *testing.T) {
	tr := remote.New(remote.Config{
		Addr:   "127.0.0.1:443",
		CAFile: filepath.Join(t.TempDir(), "missing.pem"),
	}, discard())

	err := tr.CheckSecureChannel()
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)

	_, err = tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
}

func TestTransport_UntrustedCertificate(t *testing.T) {
	e := startEnv(t, authserver.Config{})
	tr := remote.New(remote.Config{
		Addr:       e.srv.Addr(),
		RootCAs:    x509.NewCertPool(),
		MaxRetries: 1,
		RetryBase:  10 * time.Millisecond,
	}, discard())
	require.NoError(t, tr.CheckSecureChannel())

	_, err := tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestTransport_DisabledProxyIsNotUsed(t *testing.T) {
	e := startEnv(t, authserver.Config{})
	tr := e.transport(t)

	dead := domain.ProxyConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
	require.NoError(t, tr.ApplyProxy(ctx(t), dead))

	_, err := tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	require.NoError(t, tr.ApplyProxy(ctx(t), domain.DefaultProxy()))

	_, err = tr.SendCode(ctx(t), creds, creds.PhoneNumber)
	assert.NoError(t, err)
}

func TestTransport_ApplyProxyRejectsInvalidConfig(t *testing.T) {
	e := startEnv(t, authserver.Config{})
	tr := e.transport(t)

	err := tr.ApplyProxy(ctx(t), domain.ProxyConfig{Enabled: true, Host: "", Port: 1080})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTransport_ThroughSOCKS5(t *testing.T) {
	e := startEnv(t, authserver.Config{})
	tr := e.transport(t)
	px := startSOCKS5(t)

	host, port, err := net.SplitHostPort(px.addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	require.NoError(t, tr.ApplyProxy(ctx(t), domain.ProxyConfig{Enabled: true, Host: host, Port: p}))
	signIn(t, e, tr)
	assert.EqualValues(t, 1, px.connects.Load())

	// смена прокси рвёт соединение, авторизация восстанавливается напрямую
	require.NoError(t, tr.ApplyProxy(ctx(t), domain.DefaultProxy()))
	profile, err := tr.GetProfile(ctx(t), creds)
	require.NoError(t, err)
	assert.Equal(t, "user4567", profile.Username)
	assert.EqualValues(t, 1, px.connects.Load())
}

func TestTransport_ReconnectRestoresAuthorization(t *testing.T) {
	e := startEnv(t, authserver.Config{})
	tr := e.transport(t)

	auth := signIn(t, e, tr)

	require.NoError(t, tr.ApplyProxy(ctx(t), domain.DefaultProxy()))

	profile, err := tr.GetProfile(ctx(t), creds)
	require.NoError(t, err)
	assert.Equal(t, auth.UserID, profile.UserID)
}

func TestTransport_Timeout(t *testing.T) {
	// слушает, но никогда не отвечает на TLS
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	held := make(chan net.Conn, 8)
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case c := <-held:
				_ = c.Close()
			default:
				return
			}
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held <- c
		}
	}()

	tr := remote.New(remote.Config{Addr: ln.Addr().String(), RootCAs: x509.NewCertPool()}, discard())
	require.NoError(t, tr.CheckSecureChannel())

	c, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = tr.SendCode(c, creds, creds.PhoneNumber)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

// socks5 is a minimal no-auth CONNECT proxy.
type socks5 struct {
	ln       net.Listener
	connects atomic.Int32
}

func startSOCKS5(t *testing.T) *socks5 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &socks5{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(c)
		}
	}()
	return s
}

func (s *socks5) addr() string { return s.ln.Addr().String() }

func (s *socks5) handle(c net.Conn) {
	defer c.Close()

	buf := make([]byte, 256)
	if _, err := io.ReadFull(c, buf[:2]); err != nil {
		return
	}
	if _, err := io.ReadFull(c, buf[:buf[1]]); err != nil {
		return
	}
	if _, err := c.Write([]byte{5, 0}); err != nil {
		return
	}

	if _, err := io.ReadFull(c, buf[:4]); err != nil {
		return
	}
	var host string
	switch buf[3] {
	case 1:
		if _, err := io.ReadFull(c, buf[:4]); err != nil {
			return
		}
		host = net.IP(buf[:4]).String()
	case 3:
		if _, err := io.ReadFull(c, buf[:1]); err != nil {
			return
		}
		n := int(buf[0])
		if _, err := io.ReadFull(c, buf[:n]); err != nil {
			return
		}
		host = string(buf[:n])
	case 4:
		if _, err := io.ReadFull(c, buf[:16]); err != nil {
			return
		}
		host = net.IP(buf[:16]).String()
	default:
		return
	}
	if _, err := io.ReadFull(c, buf[:2]); err != nil {
		return
	}
	port := binary.BigEndian.Uint16(buf[:2])

	target, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		_, _ = c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
		return
	}
	defer target.Close()
	s.connects.Add(1)

	if _, err := c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(target, c); done <- struct{}{} }()
	go func() { _, _ = io.Copy(c, target); done <- struct{}{} }()
	<-done
}
