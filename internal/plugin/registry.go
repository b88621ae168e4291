package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"deploy-reloaded/internal/config"
)

// Registry maps target types to plugin factories. Several plugins may
// register for the same type and wildcard plugins see every target;
// dispatch returns all of them, filtered by the requested capability.
type Registry struct {
	mu        sync.RWMutex
	factories map[string][]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string][]Factory)}
}

// Register adds a factory for a target type. Use Wildcard to match
// every type.
func (r *Registry) Register(typeName string, f Factory) {
	key := config.NormalizeType(typeName)
	if typeName == Wildcard {
		key = Wildcard
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = append(r.factories[key], f)
}

// Types returns the registered non-wildcard type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		if k != Wildcard {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// PluginsFor builds every plugin that can serve the target with the
// requested capability: type matches first, then wildcards. An empty
// result is not an error, the orchestrator turns it into a warning
// no-op.
func (r *Registry) PluginsFor(pctx *Context, cap Capability) ([]Plugin, error) {
	targetType := pctx.Target.NormalizedType()

	r.mu.RLock()
	factories := append([]Factory{}, r.factories[targetType]...)
	factories = append(factories, r.factories[Wildcard]...)
	r.mu.RUnlock()

	var out []Plugin
	for _, f := range factories {
		p, err := f(pctx)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("initializing plugin for target %q (type %s): %w",
				pctx.Target.Name, targetType, err)
		}
		if !Supports(p, cap) {
			closePlugin(p)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Describe renders "type: capabilities" lines for diagnostics. It
// builds each plugin against a bare target, so it only works for
// plugins that tolerate empty settings; others report their type
// without capabilities.
func (r *Registry) Describe() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		r.mu.RLock()
		factories := r.factories[k]
		r.mu.RUnlock()

		caps := map[Capability]struct{}{}
		for _, f := range factories {
			p, err := f(&Context{Target: &config.Target{Name: "probe", Type: k}})
			if err != nil {
				continue
			}
			for _, c := range Capabilities(p) {
				caps[c] = struct{}{}
			}
			closePlugin(p)
		}

		list := make([]Capability, 0, len(caps))
		for c := range caps {
			list = append(list, c)
		}
		if len(list) == 0 {
			out = append(out, k)
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", k, strings.Join(sortedCaps(list), ", ")))
	}
	return out
}

// CloseAll closes every plugin that holds resources.
func CloseAll(plugins []Plugin) {
	closeAll(plugins)
}

func closeAll(plugins []Plugin) {
	for _, p := range plugins {
		closePlugin(p)
	}
}

func closePlugin(p Plugin) {
	if c, ok := p.(Closer); ok {
		_ = c.Close()
	}
}
