package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"deploy-reloaded/internal/util"
)

// FindWorkspaceRoot walks upward from start until it finds a directory
// containing deploy-reloaded.yaml, so commands work from any subfolder
// of the workspace.
func FindWorkspaceRoot(start string) (string, error) {
	current, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	current = filepath.Clean(current)

	for {
		if _, err := os.Stat(filepath.Join(current, ConfigFileName)); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%s not found in %s or any parent. Run 'deploy-reloaded init' first", ConfigFileName, start)
		}
		current = parent
	}
}

// ConfigExists reports whether root holds a workspace file.
func ConfigExists(root string) bool {
	_, err := os.Stat(filepath.Join(root, ConfigFileName))
	return !os.IsNotExist(err)
}

// GetConfigPath returns the workspace file path under root.
func GetConfigPath(root string) string {
	return filepath.Join(root, ConfigFileName)
}

// varsHead is the minimal first-pass parse used to pull the vars map
// before placeholder expansion.
type varsHead struct {
	Vars map[string]interface{} `yaml:"vars"`
}

// LoadAndValidateConfig reads, expands, parses and validates the
// workspace file rooted at root.
func LoadAndValidateConfig(root string) (*Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if !ConfigExists(absRoot) {
		return nil, errors.New(ConfigFileName + " not found. Run 'deploy-reloaded init' first")
	}

	data, err := os.ReadFile(GetConfigPath(absRoot))
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	dotenv := LoadDotEnv(filepath.Join(absRoot, ".env"))
	cfg, err := parse(data, dotenv)
	if err != nil {
		return nil, err
	}
	cfg.Root = absRoot

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse turns raw workspace YAML into a Config without touching the
// filesystem. Used by tests and the init scaffolder.
func Parse(data []byte) (*Config, error) {
	return parse(data, nil)
}

// parse expands placeholders in two passes: env references first so
// the vars section can use them, then vars references over the whole
// document.
func parse(data []byte, dotenv map[string]string) (*Config, error) {
	exp := &expander{dotenv: dotenv}
	data = exp.expandEnvOnly(data)

	var head varsHead
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}
	exp.vars = head.Vars
	data = exp.expand(data)

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	dedupeLaterWins(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// dedupeLaterWins keeps the last definition when a target or package
// name repeats. Earlier ones are dropped with a warning instead of
// failing the load.
func dedupeLaterWins(cfg *Config) {
	cfg.Targets = dedupeTargets(cfg.Targets)
	cfg.Packages = dedupePackages(cfg.Packages)
}

func dedupeTargets(in []*Target) []*Target {
	last := map[string]int{}
	for i, t := range in {
		last[t.NormalizedName()] = i
	}
	if len(last) == len(in) {
		return in
	}
	out := make([]*Target, 0, len(last))
	for i, t := range in {
		if last[t.NormalizedName()] == i {
			out = append(out, t)
		} else {
			util.Default.Warnf("duplicate target %q, keeping the later definition", t.Name)
		}
	}
	return out
}

func dedupePackages(in []*Package) []*Package {
	last := map[string]int{}
	for i, p := range in {
		last[p.NormalizedName()] = i
	}
	if len(last) == len(in) {
		return in
	}
	out := make([]*Package, 0, len(last))
	for i, p := range in {
		if last[p.NormalizedName()] == i {
			out = append(out, p)
		} else {
			util.Default.Warnf("duplicate package %q, keeping the later definition", p.Name)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
