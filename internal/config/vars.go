package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Placeholders look like ${web.host}, ${env:DEPLOY_TOKEN} or ${HOST}.
// They may appear anywhere in the workspace file. Resolution order:
// explicit env: prefix hits the environment, dotted paths walk the vars
// map, and ALL_CAPS names fall back to the environment so credentials
// never need to live in the file.
var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.:\-]*)\}`)

var allCapsRe = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// expander resolves placeholders against vars plus the environment,
// with .env values filling in for unset OS variables.
type expander struct {
	vars   map[string]interface{}
	dotenv map[string]string
}

func (e *expander) lookupEnv(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	v, ok := e.dotenv[name]
	return v, ok
}

func (e *expander) expand(raw []byte) []byte {
	return placeholderRe.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])

		if strings.HasPrefix(name, "env:") {
			v, _ := e.lookupEnv(strings.TrimPrefix(name, "env:"))
			return []byte(v)
		}

		if value, err := resolveVar(e.vars, strings.Split(name, ".")); err == nil {
			return []byte(value)
		}

		if allCapsRe.MatchString(name) {
			if v, ok := e.lookupEnv(name); ok {
				return []byte(v)
			}
		}

		// Unresolved references stay as-is so the error surfaces where
		// the value is actually used.
		return match
	})
}

// expandEnvOnly resolves just the environment forms. Runs before the
// vars section is parsed so vars themselves can reference the
// environment.
func (e *expander) expandEnvOnly(raw []byte) []byte {
	return placeholderRe.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		if strings.HasPrefix(name, "env:") {
			v, _ := e.lookupEnv(strings.TrimPrefix(name, "env:"))
			return []byte(v)
		}
		if allCapsRe.MatchString(name) {
			if v, ok := e.lookupEnv(name); ok {
				return []byte(v)
			}
		}
		return match
	})
}

// resolveVar walks a dotted path through nested maps and converts the
// final scalar to its string form.
func resolveVar(vars map[string]interface{}, parts []string) (string, error) {
	if vars == nil {
		return "", fmt.Errorf("vars section not found")
	}

	current := vars
	for i, part := range parts {
		value, exists := current[part]
		if !exists {
			return "", fmt.Errorf("var not found: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return scalarToString(value)
		}
		next, ok := value.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("cannot navigate into non-map value at %s", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	return "", fmt.Errorf("empty var path")
}

func scalarToString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// LoadDotEnv parses a .env file into a map. A missing file is fine,
// OS environment always wins over these values.
func LoadDotEnv(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, ln := range strings.Split(string(data), "\n") {
		l := strings.TrimSpace(ln)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		l = strings.TrimPrefix(l, "export ")
		key, value, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			out[key] = value
		}
	}
	return out
}
