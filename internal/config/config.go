package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName marks the workspace root.
	ConfigFileName = "deploy-reloaded.yaml"
	// IgnoreFileName holds gitignore-style patterns applied on top of
	// every package's excludes.
	IgnoreFileName = ".deployignore"
	// StateDirName is where logs, the state database and other scratch
	// data live. Always excluded from deploys.
	StateDirName = ".deploy_temp"
)

// Config is the parsed deploy-reloaded.yaml plus the workspace root it
// was loaded from.
type Config struct {
	ResetCache bool                   `yaml:"reset_cache,omitempty"`
	Vars       map[string]interface{} `yaml:"vars,omitempty"`
	Log        LogSettings            `yaml:"log,omitempty"`
	Targets    []*Target              `yaml:"targets" validate:"required,min=1,dive,required"`
	Packages   []*Package             `yaml:"packages,omitempty" validate:"dive,required"`

	// Root is the absolute workspace directory, filled by the loader.
	Root string `yaml:"-"`
}

// LogSettings mirrors the logging package knobs that make sense in the
// workspace file.
type LogSettings struct {
	Level   string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Console bool   `yaml:"console,omitempty"`
}

// Target is a named deploy destination. Connection settings are not
// modeled here; every key the common fields do not claim lands in
// Settings and is decoded by the plugin that handles the target's type.
type Target struct {
	Name        string     `yaml:"name" validate:"required"`
	Type        string     `yaml:"type" validate:"required"`
	Description string     `yaml:"description,omitempty"`
	Prepare     []HookSpec `yaml:"prepare,omitempty" validate:"dive"`
	Before      []HookSpec `yaml:"before,omitempty" validate:"dive"`
	After       []HookSpec `yaml:"after,omitempty" validate:"dive"`

	Settings map[string]interface{} `yaml:",inline"`
}

// NormalizedName returns the case-insensitive identity of the target.
// Sessions, cache rows and dedup all key on this.
func (t *Target) NormalizedName() string { return NormalizeName(t.Name) }

// NormalizedType returns the trimmed lowercase target type used for
// plugin dispatch.
func (t *Target) NormalizedType() string { return NormalizeType(t.Type) }

// DecodeSettings decodes the target's type-specific settings into the
// plugin's own config struct. Unknown keys are an error so typos in the
// workspace file surface early.
func (t *Target) DecodeSettings(out interface{}) error {
	raw, err := yaml.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("re-encoding settings of target %q: %w", t.Name, err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("settings of target %q: %w", t.Name, err)
	}
	return nil
}

// Package is a named set of workspace files plus the triggers that act
// on them.
type Package struct {
	Name        string   `yaml:"name" validate:"required"`
	Description string   `yaml:"description,omitempty"`
	Files       []string `yaml:"files,omitempty"`
	Exclude     []string `yaml:"exclude,omitempty"`
	Targets     []string `yaml:"targets,omitempty"`

	DeployOnSave   TriggerSetting `yaml:"deploy_on_save,omitempty"`
	DeployOnChange TriggerSetting `yaml:"deploy_on_change,omitempty"`
	RemoveOnChange TriggerSetting `yaml:"remove_on_change,omitempty"`
	SyncWhenOpen   TriggerSetting `yaml:"sync_when_open,omitempty"`

	Button *ButtonSpec `yaml:"button,omitempty"`
}

// NormalizedName returns the case-insensitive identity of the package.
func (p *Package) NormalizedName() string { return NormalizeName(p.Name) }

// FilePatterns returns the include globs, defaulting to everything.
func (p *Package) FilePatterns() []string {
	if len(p.Files) == 0 {
		return []string{"**"}
	}
	return p.Files
}

// ButtonSpec is a quick entry in the interactive menu.
type ButtonSpec struct {
	Label  string `yaml:"label,omitempty"`
	Target string `yaml:"target,omitempty"`
}

// HookSpec is one operation in a target's prepare/before/after list.
type HookSpec struct {
	Type string `yaml:"type" validate:"required,oneof=script wait http log"`

	// script
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// wait
	Duration Duration `yaml:"duration,omitempty"`

	// http
	URL    string `yaml:"url,omitempty"`
	Method string `yaml:"method,omitempty" validate:"omitempty,oneof=GET POST PUT DELETE get post put delete"`
	Body   string `yaml:"body,omitempty"`

	// log
	Message string `yaml:"message,omitempty"`

	IgnoreErrors bool `yaml:"ignore_errors,omitempty"`
	// ReloadFiles asks the orchestrator to re-glob the package after a
	// prepare hook ran, e.g. when the hook generates files.
	ReloadFiles bool `yaml:"reload_files,omitempty"`
}

// TriggerSetting is either a bool, a list of target names, or an object
// with per-trigger overrides:
//
//	deploy_on_change: true
//	deploy_on_change: [staging, mirror]
//	deploy_on_change:
//	  files: ["src/**"]
//	  exclude: ["**/*.tmp"]
//	  fast_check: false
type TriggerSetting struct {
	Enabled bool
	Files   []string
	Exclude []string
	Targets []string
	// FastCheck nil means true: match the changed path against the
	// globs directly. False re-globs the whole package and tests
	// membership instead.
	FastCheck *bool
	// Window suppresses repeat runs per path, used by sync_when_open.
	Window Duration
}

type triggerObject struct {
	Enabled   *bool    `yaml:"enabled"`
	Files     []string `yaml:"files"`
	Exclude   []string `yaml:"exclude"`
	Targets   []string `yaml:"targets"`
	FastCheck *bool    `yaml:"fast_check"`
	Window    Duration `yaml:"window"`
}

// UnmarshalYAML implements the bool-or-list-or-object union.
func (t *TriggerSetting) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("trigger setting must be bool, list or object: %w", err)
		}
		t.Enabled = b
		return nil
	case yaml.SequenceNode:
		var targets []string
		if err := value.Decode(&targets); err != nil {
			return fmt.Errorf("trigger target list: %w", err)
		}
		t.Enabled = true
		t.Targets = targets
		return nil
	case yaml.MappingNode:
		var obj triggerObject
		if err := value.Decode(&obj); err != nil {
			return fmt.Errorf("trigger setting object: %w", err)
		}
		t.Enabled = obj.Enabled == nil || *obj.Enabled
		t.Files = obj.Files
		t.Exclude = obj.Exclude
		t.Targets = obj.Targets
		t.FastCheck = obj.FastCheck
		t.Window = obj.Window
		return nil
	default:
		return fmt.Errorf("unsupported YAML node for trigger setting")
	}
}

// IsZero lets omitempty skip disabled triggers when re-marshalling.
func (t TriggerSetting) IsZero() bool {
	return !t.Enabled && t.Files == nil && t.Exclude == nil && t.Targets == nil && t.FastCheck == nil && t.Window == 0
}

// UseFastCheck reports whether the single-path glob check should be
// used for this trigger.
func (t TriggerSetting) UseFastCheck() bool {
	return t.FastCheck == nil || *t.FastCheck
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// NormalizeName lowercases and trims an identifier. Target and package
// names compare equal through this.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeType lowercases and trims a target type for plugin dispatch.
// An empty result matches only wildcard plugins.
func NormalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TargetByName resolves a target by its normalized name.
func (c *Config) TargetByName(name string) (*Target, bool) {
	want := NormalizeName(name)
	for _, t := range c.Targets {
		if t.NormalizedName() == want {
			return t, true
		}
	}
	return nil, false
}

// PackageByName resolves a package by its normalized name.
func (c *Config) PackageByName(name string) (*Package, bool) {
	want := NormalizeName(name)
	for _, p := range c.Packages {
		if p.NormalizedName() == want {
			return p, true
		}
	}
	return nil, false
}

// TargetsFor resolves a package's default target list. Unknown names
// were already rejected by validation.
func (c *Config) TargetsFor(pkg *Package) []*Target {
	out := make([]*Target, 0, len(pkg.Targets))
	for _, name := range pkg.Targets {
		if t, ok := c.TargetByName(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// StateDir returns the absolute scratch directory of the workspace.
func (c *Config) StateDir() string {
	return filepath.Join(c.Root, StateDirName)
}

// LogFile returns the default log file location.
func (c *Config) LogFile() string {
	return filepath.Join(c.StateDir(), "logs", "deploy.log")
}
