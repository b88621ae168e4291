package util

import (
	"path"
	"path/filepath"
	"strings"
)

// JoinRemote joins path segments with forward slashes regardless of the
// local OS. Remote paths are always Unix-style.
func JoinRemote(base string, parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if base != "" {
		segs = append(segs, strings.TrimSuffix(base, "/"))
	}
	for _, p := range parts {
		p = strings.Trim(filepath.ToSlash(p), "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	if len(segs) == 0 {
		return ""
	}
	joined := strings.Join(segs, "/")
	// path.Clean collapses "./" and duplicate slashes but keeps a
	// leading slash when the base was absolute.
	if strings.HasPrefix(joined, "/") {
		return path.Clean(joined)
	}
	return strings.TrimPrefix(path.Clean("/"+joined), "/")
}

// RemoteDir returns the Unix-style parent directory of a remote path.
func RemoteDir(p string) string {
	d := path.Dir(filepath.ToSlash(p))
	if d == "." {
		return ""
	}
	return d
}

// NormalizeRel converts a local relative path into the slash form used
// everywhere outside the filesystem layer.
func NormalizeRel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}
