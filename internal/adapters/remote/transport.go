// Package remote talks to the login server over the tgwire protocol: TLS,
// optionally through a SOCKS5 proxy, with a sealed CBOR session on top.
package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/netprobe"
	"github.com/larriantoniy/tg_login_client/internal/wire"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryBase   = 200 * time.Millisecond
)

type Config struct {
	// Addr is the server host:port.
	Addr string
	// ServerName overrides the name checked against the certificate.
	ServerName string
	// CAFile is a PEM bundle used instead of the system roots.
	CAFile string
	// RootCAs takes precedence over CAFile.
	RootCAs *x509.CertPool

	DialTimeout time.Duration
	MaxRetries  uint64
	RetryBase   time.Duration

	// ProbeConnectivity logs IPv4/IPv6 egress once before the first dial.
	ProbeConnectivity bool
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	return c
}

// Transport implements ports.Transport. Calls share one connection, which is
// dropped and redialed when it breaks or the proxy changes.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	dialer *dialer
	probe  *netprobe.Prober

	dialMu    sync.Mutex
	probeOnce sync.Once

	mu        sync.Mutex
	tlsConfig *tls.Config
	conn      *rpcConn
	authToken string
}

func New(cfg Config, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	log = log.With("component", "remote", "addr", cfg.Addr)
	return &Transport{
		cfg:    cfg,
		log:    log,
		dialer: newDialer(cfg.Addr, cfg.DialTimeout),
		probe:  netprobe.New(log),
	}
}

func (t *Transport) buildTLSConfig() (*tls.Config, error) {
	pool := t.cfg.RootCAs
	if pool == nil && t.cfg.CAFile != "" {
		pem, err := os.ReadFile(t.cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s: no certificates", t.cfg.CAFile)
		}
	}
	if pool == nil {
		sys, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("system cert pool: %w", err)
		}
		pool = sys
	}

	serverName := t.cfg.ServerName
	if serverName == "" {
		host, _, err := net.SplitHostPort(t.cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("server address %q: %w", t.cfg.Addr, err)
		}
		serverName = host
	}

	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// CheckSecureChannel verifies that TLS can be configured and the session
// ciphers work on this host. No network I/O happens here.
func (t *Transport) CheckSecureChannel() error {
	cfg, err := t.buildTLSConfig()
	if err != nil {
		return domain.E(domain.KindTransportUnavailable, "secure channel", err)
	}
	if err := wire.SelfTest(); err != nil {
		return domain.E(domain.KindTransportUnavailable, "secure channel", err)
	}

	t.mu.Lock()
	t.tlsConfig = cfg
	t.mu.Unlock()
	return nil
}

// ApplyProxy switches the route for every following connection and drops
// the live one, so nothing keeps using the previous proxy.
func (t *Transport) ApplyProxy(ctx context.Context, p domain.ProxyConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}

	gen := t.dialer.setProxy(p)

	t.mu.Lock()
	old := t.conn
	t.conn = nil
	t.mu.Unlock()

	if old != nil {
		old.close(errors.New("proxy changed"))
	}

	if p.Active() {
		t.log.Info("proxy enabled", "proxy", p.Addr(), "generation", gen)
		go func() {
			// только диагностика, результат не влияет на маршрут
			if err := t.probe.Proxy(context.WithoutCancel(ctx), p); err != nil {
				t.log.Warn("proxy probe failed", "proxy", p.Addr(), "error", err)
			}
		}()
	} else {
		t.log.Info("proxy disabled", "generation", gen)
	}
	return nil
}

func (t *Transport) currentConn() *rpcConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && t.conn.alive() {
		return t.conn
	}
	t.conn = nil
	return nil
}

func (t *Transport) dropConn(c *rpcConn, reason error) {
	t.mu.Lock()
	if t.conn == c {
		t.conn = nil
	}
	t.mu.Unlock()
	c.close(reason)
}

// connect returns the live connection or dials a new one, retrying network
// failures with exponential backoff.
func (t *Transport) connect(ctx context.Context, creds domain.Credentials) (*rpcConn, error) {
	if c := t.currentConn(); c != nil {
		return c, nil
	}

	t.dialMu.Lock()
	defer t.dialMu.Unlock()

	if c := t.currentConn(); c != nil {
		return c, nil
	}

	t.mu.Lock()
	tlsConfig := t.tlsConfig
	t.mu.Unlock()
	if tlsConfig == nil {
		return nil, domain.E(domain.KindTransportUnavailable, "connect", errors.New("secure channel not checked"))
	}

	if t.cfg.ProbeConnectivity {
		t.probeOnce.Do(func() { t.probe.Connectivity(ctx) })
	}

	backoff := retry.WithMaxRetries(t.cfg.MaxRetries, retry.NewExponential(t.cfg.RetryBase))

	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*rpcConn, error) {
		c, err := t.dialOnce(ctx, tlsConfig, creds)
		if err != nil {
			if retryable(err) {
				t.log.Warn("connect failed, retrying", "error", err)
				return nil, retry.RetryableError(err)
			}
			return nil, err
		}
		return c, nil
	})
}

func (t *Transport) dialOnce(ctx context.Context, tlsConfig *tls.Config, creds domain.Credentials) (*rpcConn, error) {
	raw, gen, viaProxy, err := t.dialer.dial(ctx, tlsConfig)
	if err != nil {
		return nil, err
	}

	sc, err := wire.ClientHandshake(ctx, raw, creds.APIID)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	c := newRPCConn(sc, t.log)

	t.mu.Lock()
	token := t.authToken
	t.mu.Unlock()

	if token != "" {
		var auth wire.Authorization
		req := wire.ImportAuthorizationRequest{APIID: creds.APIID, AuthToken: token}
		if err := c.call(ctx, wire.MethodImportAuthorization, req, &auth); err != nil {
			if !isRPCError(err) {
				c.close(err)
				return nil, err
			}
			// сервер нас забыл, дальше он сам ответит unauthorized
			t.log.Warn("authorization not restored", "error", err)
			t.mu.Lock()
			t.authToken = ""
			t.mu.Unlock()
		}
	}

	if _, current := t.dialer.route(); current != gen {
		err := errors.New("proxy changed while connecting")
		c.close(err)
		return nil, err
	}

	t.mu.Lock()
	t.conn = c
	t.mu.Unlock()

	t.log.Info("connected",
		"session_id", sc.SessionID(),
		"auth_key_id", sc.AuthKeyID(),
		"via_proxy", viaProxy,
		"restored", token != "",
	)
	return c, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}
	if errors.Is(err, wire.ErrVersion) || errors.Is(err, wire.ErrHandshake) {
		return false
	}
	return true
}

func (t *Transport) invoke(ctx context.Context, creds domain.Credentials, method string, req, resp any) error {
	conn, err := t.connect(ctx, creds)
	if err != nil {
		return mapError(method, err)
	}

	if err := conn.call(ctx, method, req, resp); err != nil {
		if !isRPCError(err) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			t.dropConn(conn, err)
		}
		return mapError(method, err)
	}
	return nil
}

func (t *Transport) SendCode(ctx context.Context, creds domain.Credentials, phone string) (domain.SentCode, error) {
	req := wire.SendCodeRequest{
		PhoneNumber: phone,
		APIID:       creds.APIID,
		APIHash:     creds.APIHash,
		Settings:    wire.CodeSettings{CurrentNumber: true},
	}

	var sent wire.SentCode
	if err := t.invoke(ctx, creds, wire.MethodSendCode, req, &sent); err != nil {
		return domain.SentCode{}, err
	}
	if sent.PhoneCodeHash == "" {
		return domain.SentCode{}, domain.E(domain.KindNetwork, wire.MethodSendCode, errors.New("empty phone_code_hash"))
	}

	return domain.SentCode{
		PhoneCodeHash: sent.PhoneCodeHash,
		CodeLength:    sent.CodeLength,
		Timeout:       time.Duration(sent.Timeout) * time.Second,
	}, nil
}

func (t *Transport) SignIn(ctx context.Context, creds domain.Credentials, phone, phoneCodeHash, code string) (domain.Authorization, error) {
	req := wire.SignInRequest{PhoneNumber: phone, PhoneCodeHash: phoneCodeHash, PhoneCode: code}

	var auth wire.Authorization
	if err := t.invoke(ctx, creds, wire.MethodSignIn, req, &auth); err != nil {
		return domain.Authorization{}, err
	}

	t.mu.Lock()
	t.authToken = auth.AuthToken
	t.mu.Unlock()

	return domain.Authorization{
		UserID:    auth.User.ID,
		Username:  auth.User.Username,
		AuthToken: auth.AuthToken,
	}, nil
}

func (t *Transport) GetProfile(ctx context.Context, creds domain.Credentials) (domain.Profile, error) {
	var full wire.FullUser
	if err := t.invoke(ctx, creds, wire.MethodGetFullUser, wire.GetFullUserRequest{}, &full); err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{
		UserID:    full.User.ID,
		Username:  full.User.Username,
		FirstName: full.User.FirstName,
		LastName:  full.User.LastName,
	}, nil
}

func (t *Transport) LogOut(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.authToken = ""
		t.mu.Unlock()
	}()

	// без живого соединения разлогиниваться не на чем
	if conn == nil || !conn.alive() {
		return nil
	}

	var res wire.LogOutResult
	if err := conn.call(ctx, wire.MethodLogOut, wire.LogOutRequest{}, &res); err != nil {
		if !isRPCError(err) {
			t.dropConn(conn, err)
		}
		return mapError(wire.MethodLogOut, err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.close(errors.New("transport closed"))
	}
	return nil
}
