package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProfileResource is one patchable file inside the target bundle.
type ProfileResource struct {
	// Path is relative to the bundle root.
	Path string `yaml:"path"`
	// Kind is "identifier" or "checksum".
	Kind string `yaml:"kind"`
	// Required resources abort the run when absent; optional ones are
	// skipped with a log line.
	Required bool `yaml:"required"`
}

// Profile describes the layout of one target application: where it is
// installed, which resources get patched, which helper bundles carry their
// own signatures, and which processes must not be running during a run.
type Profile struct {
	Name         string            `yaml:"name"`
	DisplayName  string            `yaml:"display_name"`
	BundleName   string            `yaml:"bundle_name"`
	InstallDir   string            `yaml:"install_dir"`
	ProcessNames []string          `yaml:"process_names"`
	Helpers      []string          `yaml:"helpers"`
	Resources    []ProfileResource `yaml:"resources"`
	// StoragePath is the persisted identifier store (storage.json). May
	// start with ~/ which is expanded against the invoking user's home.
	StoragePath string `yaml:"storage_path"`
	// MaxVerifiedVersion is the newest app version the patch tiers were
	// verified against. Newer installations get a drift warning.
	MaxVerifiedVersion string `yaml:"max_verified_version"`
}

// BundlePath returns the absolute installed bundle root.
func (p *Profile) BundlePath() string {
	return filepath.Join(p.InstallDir, p.BundleName)
}

// ExpandedStoragePath resolves a leading ~/ in StoragePath.
func (p *Profile) ExpandedStoragePath() (string, error) {
	return expandHome(p.StoragePath)
}

// LoadProfile returns the profile for name. A YAML document at
// <configdir>/profiles/<name>.yaml takes precedence over the built-in
// table, so new target layouts can be described without a rebuild.
func LoadProfile(name string) (*Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("profile name is empty")
	}

	custom := filepath.Join(configDir(), "profiles", name+".yaml")
	if data, err := os.ReadFile(custom); err == nil {
		p := builtinProfile(name)
		if p == nil {
			p = &Profile{Name: name}
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", custom, err)
		}
		if err := p.check(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", custom, err)
		}
		return p, nil
	}

	if p := builtinProfile(name); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("unknown profile %q (built-in: %s)", name, strings.Join(builtinProfileNames(), ", "))
}

func (p *Profile) check() error {
	if p.BundleName == "" {
		return fmt.Errorf("bundle_name is required")
	}
	if p.InstallDir == "" {
		return fmt.Errorf("install_dir is required")
	}
	if len(p.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}
	for _, r := range p.Resources {
		if r.Kind != "identifier" && r.Kind != "checksum" {
			return fmt.Errorf("resource %s: unknown kind %q", r.Path, r.Kind)
		}
		if filepath.IsAbs(r.Path) {
			return fmt.Errorf("resource %s: path must be bundle-relative", r.Path)
		}
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
