package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

// dialer opens TLS connections to the server, directly or through SOCKS5.
// The route is read on every dial, so a proxy change takes effect on the
// next connection.
type dialer struct {
	addr    string
	timeout time.Duration

	mu         sync.RWMutex
	proxy      domain.ProxyConfig
	generation uint64
}

func newDialer(addr string, timeout time.Duration) *dialer {
	return &dialer{addr: addr, timeout: timeout}
}

// setProxy replaces the route and returns the new route generation.
func (d *dialer) setProxy(p domain.ProxyConfig) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proxy = p
	d.generation++
	return d.generation
}

func (d *dialer) route() (domain.ProxyConfig, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.proxy, d.generation
}

func (d *dialer) contextDialer(p domain.ProxyConfig) (proxy.ContextDialer, error) {
	base := &net.Dialer{Timeout: d.timeout, KeepAlive: 30 * time.Second}
	if !p.Active() {
		return base, nil
	}

	var auth *proxy.Auth
	if p.HasAuth() {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	pd, err := proxy.SOCKS5("tcp", p.Addr(), auth, base)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := pd.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer %T does not support contexts", pd)
	}
	return cd, nil
}

// dial returns a TLS connection and the route generation it was made on.
func (d *dialer) dial(ctx context.Context, tlsConfig *tls.Config) (net.Conn, uint64, bool, error) {
	p, gen := d.route()

	cd, err := d.contextDialer(p)
	if err != nil {
		return nil, gen, false, err
	}

	raw, err := cd.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		if p.Active() {
			return nil, gen, true, fmt.Errorf("dial %s via socks5 %s: %w", d.addr, p.Addr(), err)
		}
		return nil, gen, false, fmt.Errorf("dial %s: %w", d.addr, err)
	}

	conn := tls.Client(raw, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, gen, p.Active(), fmt.Errorf("tls handshake with %s: %w", d.addr, err)
	}
	return conn, gen, p.Active(), nil
}
