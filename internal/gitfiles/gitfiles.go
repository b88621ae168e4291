// Package gitfiles selects workspace files from git's view of the
// working tree, backing --git deploys.
package gitfiles

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/fileset"
)

// Changed returns the slash-relative paths git reports as changed.
// With a ref it asks `git diff --name-only <ref>`, otherwise the
// staged and unstaged entries of `git status --porcelain`. Deleted
// files and untracked directories are left out, deploys move files
// that exist.
func Changed(ctx context.Context, root, ref string) ([]string, error) {
	if ref != "" {
		out, err := run(ctx, root, "diff", "--name-only", "-z", ref)
		if err != nil {
			return nil, err
		}
		return parseList(out), nil
	}
	out, err := run(ctx, root, "status", "--porcelain", "-z")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

// Select stats the changed paths and filters them through the matcher
// and ignore cascade. Paths git mentions but the worktree no longer
// has are dropped.
func Select(ctx context.Context, root, ref string, m *fileset.Matcher, ign *config.IgnoreCache) ([]fileset.FileInfo, error) {
	rels, err := Changed(ctx, root, ref)
	if err != nil {
		return nil, err
	}
	out := make([]fileset.FileInfo, 0, len(rels))
	for _, rel := range rels {
		if m != nil && !m.Match(rel) {
			continue
		}
		if ign != nil && ign.Match(rel, false) {
			continue
		}
		fi, serr := fileset.Stat(root, rel)
		if serr != nil {
			continue
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

func run(ctx context.Context, root string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git %s: %s", args[0], msg)
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}

// parsePorcelain reads NUL-separated `status --porcelain -z` entries:
// two status letters, a space, the path, and for renames and copies an
// extra field holding the origin path.
func parsePorcelain(data []byte) []string {
	fields := strings.Split(string(data), "\x00")
	var rels []string
	skipOrigin := false
	for _, f := range fields {
		if f == "" {
			continue
		}
		if skipOrigin {
			skipOrigin = false
			continue
		}
		if len(f) < 4 {
			continue
		}
		x, y, rel := f[0], f[1], f[3:]
		if x == 'R' || x == 'C' {
			skipOrigin = true
		}
		if x == 'D' || y == 'D' {
			continue
		}
		if strings.HasSuffix(rel, "/") {
			continue
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	return rels
}

func parseList(data []byte) []string {
	var rels []string
	for _, f := range strings.Split(string(data), "\x00") {
		if f == "" {
			continue
		}
		rels = append(rels, filepath.ToSlash(f))
	}
	return rels
}
