package world

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

const settingsFile = "settings.yaml"

// SeedLayout formats the default seed: the UTC creation time.
const SeedLayout = "20060102150405"

// Settings are the per-world values that must survive restarts.
type Settings struct {
	Seed      string    `yaml:"seed"`
	CreatedAt time.Time `yaml:"created_at"`
}

// LoadSettings reads <dir>/settings.yaml, filling a missing seed from now,
// and writes the result back so the world keeps its seed on the next start.
func LoadSettings(dir string, now time.Time) (Settings, error) {
	var s Settings
	path := filepath.Join(dir, settingsFile)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("settings.yaml: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return s, err
	}

	changed := false
	s.Seed = strings.TrimSpace(s.Seed)
	if s.Seed == "" {
		s.Seed = now.UTC().Format(SeedLayout)
		changed = true
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now.UTC()
		changed = true
	}
	if changed {
		if err := s.Save(dir); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s Settings) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, settingsFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, settingsFile))
}
