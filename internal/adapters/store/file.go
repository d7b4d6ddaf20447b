// Package store keeps credentials and proxy settings, in a local file or in
// Redis, and notifies watchers when the proxy changes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/larriantoniy/tg_login_client/internal/domain"
	"github.com/larriantoniy/tg_login_client/internal/ports"
)

var (
	_ ports.CredentialStore = (*FileStore)(nil)
	_ ports.CredentialStore = (*RedisStore)(nil)
)

type settings struct {
	Credentials domain.Credentials `json:"credentials" yaml:"credentials"`
	Proxy       domain.ProxyConfig `json:"proxy" yaml:"proxy"`
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// FileStore persists settings to a single JSON or YAML file, chosen by
// extension. Every mutation is written through.
type FileStore struct {
	path   string
	format format
	log    *slog.Logger
	hub    *proxyHub

	mu   sync.RWMutex
	data settings
}

// OpenFile loads path, or starts from defaults if it does not exist yet.
func OpenFile(path string, log *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		format: formatOf(path),
		log:    log.With("component", "store", "path", path),
		hub:    newProxyHub(),
		data:   settings{Proxy: domain.DefaultProxy()},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("settings file not found, using defaults")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := s.unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if s.data.Proxy.Port == 0 {
		s.data.Proxy.Port = domain.DefaultProxyPort
	}
	return s, nil
}

func (s *FileStore) unmarshal(raw []byte, v *settings) error {
	if s.format == formatYAML {
		return yaml.Unmarshal(raw, v)
	}
	return json.Unmarshal(raw, v)
}

func (s *FileStore) marshal(v settings) ([]byte, error) {
	if s.format == formatYAML {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}

// save writes through a temp file so a crash never leaves half a file.
func (s *FileStore) save(v settings) error {
	raw, err := s.marshal(v)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Credentials(ctx context.Context) (domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Credentials, nil
}

func (s *FileStore) SetCredentials(ctx context.Context, c domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data
	next.Credentials = c
	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	s.log.Debug("credentials saved", "api_id", c.APIID)
	return nil
}

func (s *FileStore) Proxy(ctx context.Context) (domain.ProxyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Proxy, nil
}

func (s *FileStore) SetProxy(ctx context.Context, p domain.ProxyConfig) error {
	s.mu.Lock()
	if p == s.data.Proxy {
		s.mu.Unlock()
		return nil
	}
	next := s.data
	next.Proxy = p
	if err := s.save(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data = next
	s.mu.Unlock()

	s.log.Debug("proxy saved", "enabled", p.Enabled, "host", p.Host, "port", p.Port)
	s.hub.publish(p)
	return nil
}

func (s *FileStore) WatchProxy(ctx context.Context) (<-chan domain.ProxyConfig, error) {
	return s.hub.subscribe(ctx), nil
}
