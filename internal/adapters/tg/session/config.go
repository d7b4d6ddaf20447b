// Package session reads per-account TDLib session settings from
// <base_dir>/<session>/config.json.
package session

import (
	"fmt"

	"github.com/larriantoniy/tg_login_client/internal/domain"
)

type Config struct {
	SessionFile string `json:"session_file"`
	Phone       string `json:"phone"`
	UserID      int64  `json:"user_id"`

	SDK        string `json:"sdk"`         // SystemVersion
	AppVersion string `json:"app_version"` // ApplicationVersion
	Device     string `json:"device"`      // DeviceModel
	LangCode   string `json:"lang_code"`   // SystemLanguageCode
	UseTestDC  bool   `json:"use_test_dc"`

	Proxy []any `json:"proxy,omitempty"` // [type, host, port, useAuth, user, pass]
}

// Defaults fills in the device description TDLib reports to the server.
func (c *Config) Defaults() {
	if c.LangCode == "" {
		c.LangCode = "en"
	}
	if c.SDK == "" {
		c.SDK = "Windows 10"
	}
	if c.AppVersion == "" {
		c.AppVersion = "2.0"
	}
	if c.Device == "" {
		c.Device = "Desktop"
	}
}

// ProxyConfig decodes the legacy proxy array. ok is false when the session
// has no proxy.
func (c *Config) ProxyConfig() (p domain.ProxyConfig, ok bool, err error) {
	if len(c.Proxy) == 0 {
		return domain.DefaultProxy(), false, nil
	}
	if len(c.Proxy) < 6 {
		return domain.ProxyConfig{}, false, fmt.Errorf("invalid proxy length: %d", len(c.Proxy))
	}

	// c.Proxy[0] — тип, поддерживаем только socks5
	host, _ := c.Proxy[1].(string)

	// port может прийти как float64 из json.Unmarshal
	var port int
	switch v := c.Proxy[2].(type) {
	case float64:
		port = int(v)
	case int:
		port = v
	default:
		return domain.ProxyConfig{}, false, fmt.Errorf("invalid proxy port type %T", c.Proxy[2])
	}

	useAuth, _ := c.Proxy[3].(bool)
	user, _ := c.Proxy[4].(string)
	pass, _ := c.Proxy[5].(string)

	if host == "" || port == 0 {
		return domain.DefaultProxy(), false, nil
	}

	p = domain.ProxyConfig{Enabled: true, Host: host, Port: port}
	if useAuth {
		p.Username = user
		p.Password = pass
	}
	if err := p.Validate(); err != nil {
		return domain.ProxyConfig{}, false, err
	}
	return p, true, nil
}
