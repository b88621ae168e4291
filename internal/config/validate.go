package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateConfig validates the configuration for required fields and
// cross references. Struct tags catch the shape problems, the hand
// checks below catch everything tags cannot express.
func ValidateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var validationErrors []string

	targetNames := map[string]struct{}{}
	for _, t := range cfg.Targets {
		targetNames[t.NormalizedName()] = struct{}{}
	}

	for _, t := range cfg.Targets {
		validationErrors = append(validationErrors, validateHooks(t.Name, "prepare", t.Prepare)...)
		validationErrors = append(validationErrors, validateHooks(t.Name, "before", t.Before)...)
		validationErrors = append(validationErrors, validateHooks(t.Name, "after", t.After)...)
	}

	for _, p := range cfg.Packages {
		for _, ref := range p.Targets {
			if _, ok := targetNames[NormalizeName(ref)]; !ok {
				validationErrors = append(validationErrors,
					fmt.Sprintf("package %q references unknown target %q", p.Name, ref))
			}
		}
		for _, trig := range []struct {
			name    string
			setting TriggerSetting
		}{
			{"deploy_on_save", p.DeployOnSave},
			{"deploy_on_change", p.DeployOnChange},
			{"remove_on_change", p.RemoveOnChange},
			{"sync_when_open", p.SyncWhenOpen},
		} {
			for _, ref := range trig.setting.Targets {
				if _, ok := targetNames[NormalizeName(ref)]; !ok {
					validationErrors = append(validationErrors,
						fmt.Sprintf("package %q %s references unknown target %q", p.Name, trig.name, ref))
				}
			}
		}
		if p.Button != nil && p.Button.Target != "" {
			if _, ok := targetNames[NormalizeName(p.Button.Target)]; !ok {
				validationErrors = append(validationErrors,
					fmt.Sprintf("package %q button references unknown target %q", p.Name, p.Button.Target))
			}
		}
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}
	return nil
}

// validateHooks checks the per-type required fields of hook operations.
func validateHooks(target, phase string, hooks []HookSpec) []string {
	var errs []string
	for i, h := range hooks {
		where := fmt.Sprintf("target %q %s[%d]", target, phase, i)
		switch NormalizeType(h.Type) {
		case "script":
			if strings.TrimSpace(h.Command) == "" {
				errs = append(errs, where+": script hook needs a command")
			}
		case "wait":
			if h.Duration <= 0 {
				errs = append(errs, where+": wait hook needs a positive duration")
			}
		case "http":
			if strings.TrimSpace(h.URL) == "" {
				errs = append(errs, where+": http hook needs a url")
			}
		case "log":
			if strings.TrimSpace(h.Message) == "" {
				errs = append(errs, where+": log hook needs a message")
			}
		}
		if h.ReloadFiles && phase != "prepare" {
			errs = append(errs, where+": reload_files is only honored in prepare hooks")
		}
	}
	return errs
}
