// Package plugin defines the contract between the transfer
// orchestrator and the backends that move files: which target types a
// backend handles, which operations it supports, and the per-file
// descriptor protocol the two sides speak.
package plugin

import (
	"context"
	"sort"
	"time"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/statecache"
)

// Wildcard is the type name that matches every target type.
const Wildcard = "*"

// Plugin is the minimal surface every backend implements. Operations
// are optional capabilities discovered by type assertion: a backend
// that cannot download simply does not implement Downloader.
type Plugin interface {
	// Type returns the normalized target type this plugin handles, or
	// Wildcard for plugins that accept any target.
	Type() string
}

// Uploader deploys local files to the target.
type Uploader interface {
	Plugin
	UploadFiles(ctx context.Context, files []*FileToUpload) error
}

// Downloader pulls remote files back into the workspace.
type Downloader interface {
	Plugin
	DownloadFiles(ctx context.Context, files []*FileToDownload) error
}

// Deleter removes files on the target.
type Deleter interface {
	Plugin
	DeleteFiles(ctx context.Context, files []*FileToDelete) error
}

// Lister enumerates a remote directory.
type Lister interface {
	Plugin
	ListDirectory(ctx context.Context, dir string) ([]Entry, error)
}

// Closer is implemented by plugins that hold connections. The
// orchestrator closes every plugin it built once the operation ends.
type Closer interface {
	Close() error
}

// Entry is one row of a remote directory listing.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Capability names one optional plugin operation.
type Capability string

const (
	CapUpload   Capability = "upload"
	CapDownload Capability = "download"
	CapDelete   Capability = "delete"
	CapList     Capability = "list"
)

// Supports reports whether the plugin implements the capability.
func Supports(p Plugin, cap Capability) bool {
	switch cap {
	case CapUpload:
		_, ok := p.(Uploader)
		return ok
	case CapDownload:
		_, ok := p.(Downloader)
		return ok
	case CapDelete:
		_, ok := p.(Deleter)
		return ok
	case CapList:
		_, ok := p.(Lister)
		return ok
	default:
		return false
	}
}

// Capabilities lists what the plugin can do, for diagnostics output.
func Capabilities(p Plugin) []Capability {
	var out []Capability
	for _, c := range []Capability{CapUpload, CapDownload, CapDelete, CapList} {
		if Supports(p, c) {
			out = append(out, c)
		}
	}
	return out
}

// Context carries everything a factory needs to build a plugin for one
// target. Plugins decode their connection settings from Target via
// DecodeSettings.
type Context struct {
	Target *config.Target
	Root   string
	Log    logging.Interface
	Cache  *statecache.Cache

	// Config and Registry let meta plugins resolve other targets and
	// dispatch nested operations.
	Config   *config.Config
	Registry *Registry
}

// For derives a context for another target of the same workspace.
func (c *Context) For(target *config.Target) *Context {
	sub := *c
	sub.Target = target
	return &sub
}

// Logger never returns nil so plugins can log unconditionally.
func (c *Context) Logger() logging.Interface {
	if c.Log == nil {
		return logging.Nop()
	}
	return c.Log
}

// Factory builds a plugin instance for one operation. Instances are
// not reused across operations, connections live at most that long.
type Factory func(pctx *Context) (Plugin, error)

// sortedCaps is a helper for stable diagnostics output.
func sortedCaps(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	sort.Strings(out)
	return out
}
