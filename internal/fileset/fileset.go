package fileset

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/util"
)

// FileInfo describes one workspace file selected for an operation.
// Rel is always slash-separated, it is the path plugins see.
type FileInfo struct {
	Rel     string
	Abs     string
	Size    int64
	ModTime time.Time
}

// Matcher tests slash-relative paths against include and exclude
// globs. Patterns use doublestar syntax, "**" crosses directories.
type Matcher struct {
	includes []string
	excludes []string
}

// NewMatcher builds a matcher. Empty includes match nothing, callers
// pass the package's FilePatterns() which defaults to "**".
func NewMatcher(includes, excludes []string) *Matcher {
	return &Matcher{includes: includes, excludes: excludes}
}

// Match reports whether rel is selected: at least one include matches
// and no exclude does. Invalid patterns simply never match, validation
// happens at config load.
func (m *Matcher) Match(rel string) bool {
	rel = util.NormalizeRel(rel)

	included := false
	for _, p := range m.includes {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range m.excludes {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return false
		}
	}
	return true
}

// ValidatePatterns reports the first malformed glob, if any.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return &PatternError{Pattern: p}
		}
	}
	return nil
}

// PatternError marks a glob that doublestar cannot compile.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid glob pattern: " + e.Pattern
}

// List walks the workspace and returns every file the matcher selects,
// after the ignore cascade had its say. Results are sorted by Rel so
// operations process files in a stable order.
func List(root string, m *Matcher, ign *config.IgnoreCache) ([]FileInfo, error) {
	var out []FileInfo

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, not fatal
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		if d.IsDir() {
			if ign != nil && ign.Match(path, true) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		rel = util.NormalizeRel(rel)

		if ign != nil && ign.Match(path, false) {
			return nil
		}
		if !m.Match(rel) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		out = append(out, FileInfo{
			Rel:     rel,
			Abs:     path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

// Contains re-globs the package and tests membership of rel. This is
// the full check used when fast glob matching is turned off.
func Contains(root string, m *Matcher, ign *config.IgnoreCache, rel string) (bool, error) {
	rel = util.NormalizeRel(rel)
	files, err := List(root, m, ign)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f.Rel == rel {
			return true, nil
		}
	}
	return false, nil
}

// Stat fills a FileInfo for a single known workspace file.
func Stat(root, rel string) (FileInfo, error) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Rel:     util.NormalizeRel(rel),
		Abs:     abs,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}
