// Package netprobe проверяет сетевую доступность (IPv4, IPv6, прокси) и пишет результат в лог.
package netprobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

const (
	ipv4Target = "8.8.8.8:53"
	ipv6Target = "[2606:4700:4700::1111]:53"

	connectivityTimeout = 3 * time.Second
	proxyTimeout        = 5 * time.Second
)

// DialFunc matches net.Dialer.DialContext; tests substitute it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Prober struct {
	log  *slog.Logger
	dial DialFunc
}

func New(log *slog.Logger) *Prober {
	d := &net.Dialer{}
	return &Prober{log: log.With("component", "netprobe"), dial: d.DialContext}
}

// WithDial returns a copy of p that dials through dial.
func (p *Prober) WithDial(dial DialFunc) *Prober {
	cp := *p
	cp.dial = dial
	return &cp
}

func (p *Prober) try(ctx context.Context, timeout time.Duration, network, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dial(ctx, network, addr)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// Connectivity logs whether IPv4 and IPv6 egress work. It never fails;
// the result is advisory.
func (p *Prober) Connectivity(ctx context.Context) (v4, v6 bool) {
	p.log.Info("checking IPv4 connectivity...")
	if err := p.try(ctx, connectivityTimeout, "tcp4", ipv4Target); err != nil {
		p.log.Warn("IPv4 seems not working", "error", err)
	} else {
		p.log.Info("IPv4 OK")
		v4 = true
	}

	p.log.Info("checking IPv6 connectivity...")
	if err := p.try(ctx, connectivityTimeout, "tcp6", ipv6Target); err != nil {
		p.log.Warn("IPv6 seems not working", "error", err)
	} else {
		p.log.Info("IPv6 OK")
		v6 = true
	}
	return v4, v6
}

// Proxy checks that the proxy accepts TCP connections. IP literals are dialed
// on their own family; hostnames try IPv6 first, then IPv4.
func (p *Prober) Proxy(ctx context.Context, proxy domain.ProxyConfig) error {
	if !proxy.Active() {
		p.log.Info("proxy disabled, skipping check")
		return nil
	}

	port := strconv.Itoa(proxy.Port)
	addr := net.JoinHostPort(proxy.Host, port)

	if ip, err := netip.ParseAddr(proxy.Host); err == nil {
		network := "tcp4"
		if ip.Is6() && !ip.Is4In6() {
			network = "tcp6"
		}
		p.log.Info("checking proxy...", "addr", addr, "network", network)
		if err := p.try(ctx, proxyTimeout, network, addr); err != nil {
			p.log.Error("proxy unreachable", "addr", addr, "network", network, "error", err)
			return fmt.Errorf("proxy %s unreachable: %w", addr, err)
		}
		p.log.Info("proxy reachable", "addr", addr, "network", network)
		return nil
	}

	p.log.Info("checking proxy via hostname, IPv6 first...", "addr", addr)
	err6 := p.try(ctx, proxyTimeout, "tcp6", addr)
	if err6 == nil {
		p.log.Info("proxy reachable on IPv6 via hostname", "addr", addr)
		return nil
	}
	p.log.Warn("proxy IPv6 via hostname failed, trying IPv4", "error_v6", err6)

	err4 := p.try(ctx, proxyTimeout, "tcp4", addr)
	if err4 == nil {
		p.log.Info("proxy reachable on IPv4 via hostname", "addr", addr)
		return nil
	}
	p.log.Error("proxy unreachable via hostname on both IPv6 and IPv4",
		"addr", addr, "error_v6", err6, "error_v4", err4)
	return fmt.Errorf("proxy %s unreachable: %w", addr, errors.Join(err6, err4))
}
