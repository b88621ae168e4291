package gitfiles

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/fileset"
)

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, root string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(body), 0o644))
}

func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	git(t, root, "init", "-q")
	writeFile(t, root, "a.txt", "one")
	writeFile(t, root, "sub/b.txt", "two")
	git(t, root, "add", ".")
	git(t, root, "commit", "-q", "-m", "base")
	return root
}

func TestChangedWorkingTree(t *testing.T) {
	gitOrSkip(t)
	root := initRepo(t)

	writeFile(t, root, "a.txt", "one changed")
	writeFile(t, root, "fresh.txt", "new")
	require.NoError(t, os.Remove(filepath.Join(root, "sub/b.txt")))

	rels, err := Changed(context.Background(), root, "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "fresh.txt"}, rels)
}

func TestChangedIncludesStaged(t *testing.T) {
	gitOrSkip(t)
	root := initRepo(t)

	writeFile(t, root, "staged.txt", "staged")
	git(t, root, "add", "staged.txt")
	writeFile(t, root, "a.txt", "dirty")

	rels, err := Changed(context.Background(), root, "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "staged.txt"}, rels)
}

func TestChangedAgainstRef(t *testing.T) {
	gitOrSkip(t)
	root := initRepo(t)

	writeFile(t, root, "a.txt", "second")
	writeFile(t, root, "sub/c.txt", "added later")
	git(t, root, "add", ".")
	git(t, root, "commit", "-q", "-m", "second")

	rels, err := Changed(context.Background(), root, "HEAD~1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "sub/c.txt"}, rels)
}

func TestChangedBadRef(t *testing.T) {
	gitOrSkip(t)
	root := initRepo(t)

	_, err := Changed(context.Background(), root, "no-such-ref")
	require.Error(t, err)
	require.Contains(t, err.Error(), "git diff")
}

func TestSelectFiltersAndStats(t *testing.T) {
	gitOrSkip(t)
	root := initRepo(t)

	writeFile(t, root, "a.txt", "changed")
	writeFile(t, root, "secrets.env", "TOKEN=1")
	writeFile(t, root, "sub/b.txt", "changed too")

	m := fileset.NewMatcher([]string{"**"}, []string{"*.env"})
	files, err := Select(context.Background(), root, "", m, nil)
	require.NoError(t, err)

	rels := make([]string, len(files))
	for i, fi := range files {
		rels[i] = fi.Rel
		require.Positive(t, fi.Size)
		require.Equal(t, filepath.Join(root, filepath.FromSlash(fi.Rel)), fi.Abs)
	}
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, rels)
}

func TestSelectDropsVanishedPaths(t *testing.T) {
	gitOrSkip(t)
	root := initRepo(t)

	writeFile(t, root, "a.txt", "second")
	git(t, root, "add", ".")
	git(t, root, "commit", "-q", "-m", "second")
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))

	files, err := Select(context.Background(), root, "HEAD~1", nil, nil)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestParsePorcelain(t *testing.T) {
	raw := "R  new.txt\x00old.txt\x00?? fresh.txt\x00 D gone.txt\x00M  kept.txt\x00?? dir/\x00"
	rels := parsePorcelain([]byte(raw))
	require.Equal(t, []string{"new.txt", "fresh.txt", "kept.txt"}, rels)
}
