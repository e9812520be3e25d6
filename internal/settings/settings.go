// Package settings holds the dynamic configuration stanza: the admin switch
// that gates mutating upstream calls, the upstream timeout, and the log
// level. The stanza lives in a small YAML file that operators edit in place.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stanza is the on-disk settings document.
type Stanza struct {
	// Admin enables POST, PUT and DELETE forwarding.
	Admin bool `yaml:"admin"`

	// Timeout is the upstream request timeout in seconds. Zero means the
	// server default.
	Timeout int `yaml:"timeout,omitempty"`

	// LogLevel overrides the server log level when set.
	LogLevel string `yaml:"log_level,omitempty"`
}

// RequestTimeout returns the stanza timeout, or def when unset.
func (s Stanza) RequestTimeout(def time.Duration) time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Second
	}
	return def
}

// Load reads the stanza at path. A missing file yields the zero stanza
// (admin disabled).
func Load(path string) (Stanza, error) {
	var s Stanza
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Stanza{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if s.Timeout < 0 {
		return Stanza{}, fmt.Errorf("parse settings %s: timeout must be >= 0", path)
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	return s, nil
}

// Save writes s to path through a temp file and rename, so watchers never
// observe a partial document.
func Save(path string, s Stanza) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
