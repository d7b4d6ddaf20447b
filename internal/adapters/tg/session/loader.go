package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Name turns a phone number into a session directory name.
func Name(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}

// Load reads baseDir/sessionName/config.json. A missing file yields defaults.
func Load(baseDir, sessionName string) (*Config, error) {
	path := filepath.Join(baseDir, sessionName, "config.json")

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", path, err)
		}
	}

	// если в json другое имя или его нет
	if cfg.SessionFile == "" {
		cfg.SessionFile = sessionName
	}
	cfg.Defaults()
	return cfg, nil
}

// Dirs creates and returns the TDLib database and files directories.
func (c *Config) Dirs(baseDir string) (dbDir, filesDir string, err error) {
	sessionDir := filepath.Join(baseDir, c.SessionFile)
	dbDir = filepath.Join(sessionDir, "database")
	filesDir = filepath.Join(sessionDir, "files")

	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return "", "", fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return "", "", fmt.Errorf("mkdir files dir: %w", err)
	}
	return dbDir, filesDir, nil
}
