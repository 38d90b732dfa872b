// Package bundle describes an embedded server build: which program to run,
// which durable store it owns and which image version it writes.
package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/meshbridge/internal/domain/persistence"
)

// Manifest is the build description shipped next to the server program.
type Manifest struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version"`
	Module  string            `yaml:"module"`
	Store   string            `yaml:"store"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Parse decodes and validates a manifest. Relative module paths are
// resolved against dir.
func Parse(content []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if m.Name == "" {
		return nil, errors.New("manifest name is required")
	}
	if m.Module == "" {
		return nil, errors.New("manifest module is required")
	}
	if _, err := persistence.ParseVersion(m.Version); err != nil {
		return nil, fmt.Errorf("manifest version: %w", err)
	}
	if m.Store == "" {
		m.Store = m.Name
	}

	if !isURL(m.Module) && !filepath.IsAbs(m.Module) && dir != "" {
		m.Module = filepath.Join(dir, m.Module)
	}
	return &m, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// ImageVersion returns the parsed version tag.
func (m *Manifest) ImageVersion() persistence.Version {
	v, _ := persistence.ParseVersion(m.Version)
	return v
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
