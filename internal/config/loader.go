package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Loader loads a base application.yml overlaid by an application-<profile>.yml,
// strictly expanding ${VAR} references.
type Loader struct {
	baseDir    string
	profileDir string
}

// NewLoader constructs a Loader reading the base config from baseDir and
// the profile overlay from profileDir.
func NewLoader(baseDir, profileDir string) *Loader {
	return &Loader{baseDir: baseDir, profileDir: profileDir}
}

// Load reads application.yml, determines the active profile from its
// meta.profile key, then overlays application-<profile>.yml on top.
func (l *Loader) Load() (*Properties, error) {
	base, err := loadAndExpandYAML(l.baseDir, "application")
	if err != nil {
		return nil, fmt.Errorf("config: load base: %w", err)
	}

	var cfg Properties
	if err := yaml.Unmarshal([]byte(base), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse base: %w", err)
	}

	profile := cfg.Meta.Profile
	if profile == "" || l.profileDir == "" {
		return nil, fmt.Errorf("config: profile and profile dir are required")
	}

	overlay, err := loadAndExpandYAML(l.profileDir, "application-"+profile)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %s: %w", profile, err)
	}
	if err := yaml.Unmarshal([]byte(overlay), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse profile %s: %w", profile, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func loadAndExpandYAML(dir, name string) (string, error) {
	path := filepath.Join(dir, name+".yml")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s.yml not found", name)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	return expandEnvStrict(string(raw))
}

var envRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvStrict expands ${VAR} references, failing loudly rather than
// silently substituting empty string when VAR is unset.
func expandEnvStrict(s string) (string, error) {
	for _, m := range envRefPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
	}
	return os.ExpandEnv(s), nil
}
