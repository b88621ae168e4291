// Package testplugin backs the "test" target type with an in-memory
// file tree. It exists for dry runs and for exercising the transfer
// pipeline without a network.
package testplugin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
)

const TypeName = "test"

var errInjected = errors.New("target is configured to fail this path")

// Settings tunes the fake target. Fail lists path patterns whose
// transfers report an error, Latency delays each file.
type Settings struct {
	Fail    []string        `yaml:"fail"`
	Latency config.Duration `yaml:"latency"`
}

type entry struct {
	data    []byte
	modTime time.Time
}

// Store is the file tree behind one test target. Stores persist for
// the life of the process so a deploy can be inspected by a later
// list or pull.
type Store struct {
	mu    sync.Mutex
	files map[string]entry
}

var (
	storesMu sync.Mutex
	stores   = map[string]*Store{}
)

// StoreFor returns the store backing the named target, creating it on
// first use.
func StoreFor(target string) *Store {
	storesMu.Lock()
	defer storesMu.Unlock()
	s, ok := stores[target]
	if !ok {
		s = &Store{files: map[string]entry{}}
		stores[target] = s
	}
	return s
}

// ResetStores drops every store.
func ResetStores() {
	storesMu.Lock()
	defer storesMu.Unlock()
	stores = map[string]*Store{}
}

// Put stores content under the slash-separated rel path.
func (s *Store) Put(rel string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[rel] = entry{data: append([]byte(nil), data...), modTime: modTime}
}

// Get returns the stored content, its mtime, and whether it exists.
func (s *Store) Get(rel string) ([]byte, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[rel]
	if !ok {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), e.data...), e.modTime, true
}

// Delete removes rel and reports whether it was present.
func (s *Store) Delete(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[rel]
	delete(s.files, rel)
	return ok
}

// Paths returns every stored path, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for rel := range s.files {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of stored files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// List returns the immediate children of dir. Directories are derived
// from stored paths.
func (s *Store) List(dir string) []plugin.Entry {
	dir = strings.Trim(path.Clean("/"+dir), "/")

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]plugin.Entry{}
	for rel, e := range s.files {
		sub := rel
		if dir != "" {
			if !strings.HasPrefix(rel, dir+"/") {
				continue
			}
			sub = strings.TrimPrefix(rel, dir+"/")
		}
		name, _, nested := strings.Cut(sub, "/")
		if nested {
			seen[name] = plugin.Entry{Name: name, IsDir: true}
			continue
		}
		seen[name] = plugin.Entry{Name: name, Size: int64(len(e.data)), ModTime: e.modTime}
	}

	out := make([]plugin.Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Plugin records transfers against the store of its target.
type Plugin struct {
	target   string
	store    *Store
	settings Settings
}

// Register adds the test factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New builds a plugin bound to the target's persistent store.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	name := pctx.Target.NormalizedName()
	return &Plugin{target: name, store: StoreFor(name), settings: s}, nil
}

func (p *Plugin) Type() string { return TypeName }

func (p *Plugin) shouldFail(rel string) bool {
	for _, pat := range p.settings.Fail {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (p *Plugin) pause(ctx context.Context) error {
	d := p.settings.Latency.Std()
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Plugin) location(rel string) string {
	return "test://" + p.target + "/" + rel
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pause(ctx); err != nil {
			return err
		}
		f.ReportStart(p.location(f.Rel))
		if p.shouldFail(f.Rel) {
			f.ReportDone(plugin.NewError("upload", p.target, f.Rel, errInjected))
			continue
		}
		rc, err := f.Content()
		if err != nil {
			f.ReportDone(plugin.NewError("upload", p.target, f.Rel, err))
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			f.ReportDone(plugin.NewError("upload", p.target, f.Rel, err))
			continue
		}
		p.store.Put(f.Rel, data, f.ModTime)
		f.ReportDone(nil)
	}
	return nil
}

func (p *Plugin) DownloadFiles(ctx context.Context, files []*plugin.FileToDownload) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pause(ctx); err != nil {
			return err
		}
		f.ReportStart(p.location(f.Rel))
		if p.shouldFail(f.Rel) {
			f.ReportDone(plugin.NewError("download", p.target, f.Rel, errInjected))
			continue
		}
		data, _, ok := p.store.Get(f.Rel)
		if !ok {
			f.ReportDone(plugin.NewError("download", p.target, f.Rel, plugin.ErrNotFound))
			continue
		}
		f.ReportDone(f.Store(bytes.NewReader(data)))
	}
	return nil
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pause(ctx); err != nil {
			return err
		}
		f.ReportStart(p.location(f.Rel))
		if p.shouldFail(f.Rel) {
			f.ReportDone(plugin.NewError("delete", p.target, f.Rel, errInjected))
			continue
		}
		if !p.store.Delete(f.Rel) {
			f.ReportDone(plugin.NewError("delete", p.target, f.Rel, plugin.ErrNotFound))
			continue
		}
		f.ReportDone(nil)
	}
	return nil
}

func (p *Plugin) ListDirectory(ctx context.Context, dir string) ([]plugin.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.store.List(dir), nil
}
