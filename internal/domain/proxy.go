package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const DefaultProxyPort = 1080

// ProxyConfig — настройки SOCKS5-прокси. При Enabled=false прокси не применяется.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// DefaultProxy is what a fresh settings store holds.
func DefaultProxy() ProxyConfig {
	return ProxyConfig{Port: DefaultProxyPort}
}

func (p ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return E(KindInvalidInput, "proxy", fmt.Errorf("host is empty"))
	}
	if p.Port < 1 || p.Port > 65535 {
		return E(KindInvalidInput, "proxy", fmt.Errorf("port %d out of range", p.Port))
	}
	return nil
}

// Active reports whether the proxy should be used for dialing.
func (p ProxyConfig) Active() bool {
	return p.Enabled && p.Host != "" && p.Port > 0
}

// Addr returns host:port, bracketing IPv6 literals.
func (p ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasAuth reports whether username/password authentication is configured.
func (p ProxyConfig) HasAuth() bool {
	return p.Username != ""
}
