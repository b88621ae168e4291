package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ig "github.com/sabhiram/go-gitignore"
)

// IgnoreCache caches compiled .deployignore matchers per directory and
// provides cascading ancestor matching with .gitignore semantics.
// Negation patterns win over everything, so a "!keep.log" anywhere in
// the cascade re-includes the file.
type IgnoreCache struct {
	Root string

	mu       sync.Mutex
	matchers map[string]*ig.GitIgnore
	lines    map[string][]string
}

// alwaysIgnored are never deployed no matter what the packages say.
var alwaysIgnored = []string{StateDirName, ConfigFileName, IgnoreFileName}

// NewIgnoreCache creates an IgnoreCache rooted at absRoot.
func NewIgnoreCache(absRoot string) *IgnoreCache {
	return &IgnoreCache{
		Root:     absRoot,
		matchers: map[string]*ig.GitIgnore{},
		lines:    map[string][]string{},
	}
}

// Reset invalidates all cached matchers, forcing reload on next Match.
// The watcher calls this when a .deployignore changes.
func (c *IgnoreCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchers = map[string]*ig.GitIgnore{}
	c.lines = map[string][]string{}
}

// Match reports whether path should be excluded from every operation.
// path may be absolute or relative to the root; isDir marks directories
// so their ignore files apply to themselves.
func (c *IgnoreCache) Match(path string, isDir bool) bool {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.Root, path)
	}

	base := filepath.Base(path)
	for _, name := range alwaysIgnored {
		if strings.EqualFold(name, base) {
			return true
		}
	}
	if strings.Contains(filepath.ToSlash(path), "/"+StateDirName+"/") {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dir := path
	if !isDir {
		dir = filepath.Dir(path)
	}
	ancestors := c.ancestorsOf(dir)

	// Negation anywhere in the cascade takes priority.
	if c.matchesNegation(ancestors, path) {
		return false
	}

	m := c.matcherFor(dir, ancestors)
	if m == nil {
		return false
	}

	relp, err := filepath.Rel(c.Root, path)
	if err != nil {
		relp = base
	}
	relp = filepath.ToSlash(relp)
	if m.MatchesPath(relp) {
		return true
	}
	return m.MatchesPath(base)
}

// ancestorsOf lists the directories from the root down to dir.
func (c *IgnoreCache) ancestorsOf(dir string) []string {
	var up []string
	cur := dir
	for {
		up = append(up, cur)
		if cur == c.Root || cur == string(os.PathSeparator) {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	for i, j := 0, len(up)-1; i < j; i, j = i+1, j-1 {
		up[i], up[j] = up[j], up[i]
	}
	return up
}

// matcherFor builds or reuses the cumulative matcher for dir.
func (c *IgnoreCache) matcherFor(dir string, ancestors []string) *ig.GitIgnore {
	if m, ok := c.matchers[dir]; ok {
		return m
	}

	var cumulative []string
	for _, d := range ancestors {
		cumulative = append(cumulative, c.linesFor(d)...)
	}

	var m *ig.GitIgnore
	if len(cumulative) > 0 {
		m = ig.CompileIgnoreLines(cumulative...)
	}
	c.matchers[dir] = m
	return m
}

// linesFor loads and preprocesses a directory's .deployignore once.
// Bare patterns like "*.log" get a "**/" twin so they match in any
// subtree, same as git treats them.
func (c *IgnoreCache) linesFor(dir string) []string {
	if lines, ok := c.lines[dir]; ok {
		return lines
	}

	file := filepath.Join(dir, IgnoreFileName)
	data, err := os.ReadFile(file)
	if err != nil {
		c.lines[dir] = nil
		return nil
	}

	raw := strings.Split(string(data), "\n")
	lines := make([]string, 0, len(raw)*2)
	for _, ln := range raw {
		l := strings.TrimSpace(ln)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		neg := ""
		if strings.HasPrefix(l, "!") {
			neg = "!"
			l = strings.TrimPrefix(l, "!")
		}
		l = filepath.ToSlash(l)
		lines = append(lines, neg+l)
		if !strings.Contains(l, "/") && !strings.Contains(l, "**") {
			lines = append(lines, neg+"**/"+l)
		}
	}
	c.lines[dir] = lines
	return lines
}

// matchesNegation tests path against only the "!" patterns of the
// cascade.
func (c *IgnoreCache) matchesNegation(ancestors []string, path string) bool {
	var patterns []string
	for _, d := range ancestors {
		for _, l := range c.linesFor(d) {
			if strings.HasPrefix(l, "!") {
				patterns = append(patterns, strings.TrimPrefix(l, "!"))
			}
		}
	}
	if len(patterns) == 0 {
		return false
	}

	m := ig.CompileIgnoreLines(patterns...)
	relp, err := filepath.Rel(c.Root, path)
	if err != nil {
		relp = filepath.Base(path)
	}
	if m.MatchesPath(filepath.ToSlash(relp)) {
		return true
	}
	return m.MatchesPath(filepath.Base(path))
}

// AllPatterns returns the deduplicated ignore patterns of the whole
// workspace, including the defaults. Used by listings and diagnostics.
func (c *IgnoreCache) AllPatterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := map[string]struct{}{}
	for _, d := range alwaysIgnored {
		found[d] = struct{}{}
	}

	_ = filepath.WalkDir(c.Root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.EqualFold(d.Name(), IgnoreFileName) {
			return nil
		}
		for _, l := range c.linesFor(filepath.Dir(p)) {
			found[l] = struct{}{}
		}
		return nil
	})

	out := make([]string, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
