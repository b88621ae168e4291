// Package localplugin backs the "local" target type: deploys into
// another directory on the same machine, for network shares and
// staging folders.
package localplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"deploy-reloaded/internal/plugin"
)

const TypeName = "local"

// Settings holds the local target knobs. Dir is the destination base,
// resolved against the workspace root when relative. Empty clears the
// destination before the first upload of an operation.
type Settings struct {
	Dir   string `yaml:"dir"`
	Empty bool   `yaml:"empty"`
}

// Plugin copies files through an afero filesystem so tests can run it
// against memory.
type Plugin struct {
	target   string
	root     string
	settings Settings
	fs       afero.Fs

	baseOnce sync.Once
	base     string
	baseErr  error

	emptyOnce sync.Once
}

// Register adds the local factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New builds a plugin against the OS filesystem.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	return newWithFs(pctx, afero.NewOsFs())
}

func newWithFs(pctx *plugin.Context, fs afero.Fs) (*Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	return &Plugin{
		target:   pctx.Target.NormalizedName(),
		root:     pctx.Root,
		settings: s,
		fs:       fs,
	}, nil
}

func (p *Plugin) Type() string { return TypeName }

// basePath resolves and memoizes the destination directory. Settings
// problems surface here, at first use.
func (p *Plugin) basePath() (string, error) {
	p.baseOnce.Do(func() {
		if p.settings.Dir == "" {
			p.baseErr = plugin.NewError("configure", p.target, "",
				fmt.Errorf("%w: local target needs a dir", plugin.ErrInvalidConfig))
			return
		}
		dir := p.settings.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.root, dir)
		}
		p.base = filepath.Clean(dir)
	})
	return p.base, p.baseErr
}

// emptyBase clears the destination's children once per operation.
func (p *Plugin) emptyBase(base string) error {
	var err error
	p.emptyOnce.Do(func() {
		entries, readErr := afero.ReadDir(p.fs, base)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return
			}
			err = readErr
			return
		}
		for _, e := range entries {
			if rmErr := p.fs.RemoveAll(filepath.Join(base, e.Name())); rmErr != nil {
				err = rmErr
				return
			}
		}
	})
	return err
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	base, err := p.basePath()
	if err != nil {
		return err
	}
	if p.settings.Empty {
		if err := p.emptyBase(base); err != nil {
			return plugin.NewError("upload", p.target, "", err)
		}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(base, filepath.FromSlash(f.Rel))
		f.ReportStart(dest)
		f.ReportDone(p.writeFile(dest, f))
	}
	return nil
}

func (p *Plugin) writeFile(dest string, f *plugin.FileToUpload) error {
	rc, err := f.Content()
	if err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	defer rc.Close()

	if err := p.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	if err := afero.WriteReader(p.fs, dest, rc); err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	if !f.ModTime.IsZero() {
		_ = p.fs.Chtimes(dest, f.ModTime, f.ModTime)
	}
	return nil
}

func (p *Plugin) DownloadFiles(ctx context.Context, files []*plugin.FileToDownload) error {
	base, err := p.basePath()
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(base, filepath.FromSlash(f.Rel))
		f.ReportStart(src)
		f.ReportDone(p.readFile(src, f))
	}
	return nil
}

func (p *Plugin) readFile(src string, f *plugin.FileToDownload) error {
	fh, err := p.fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return plugin.NewError("download", p.target, f.Rel, plugin.ErrNotFound)
		}
		return plugin.NewError("download", p.target, f.Rel, err)
	}
	defer fh.Close()
	return f.Store(fh)
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	base, err := p.basePath()
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		loc := filepath.Join(base, filepath.FromSlash(f.Rel))
		f.ReportStart(loc)
		if err := p.fs.Remove(loc); err != nil {
			if os.IsNotExist(err) {
				f.ReportDone(plugin.NewError("delete", p.target, f.Rel, plugin.ErrNotFound))
			} else {
				f.ReportDone(plugin.NewError("delete", p.target, f.Rel, err))
			}
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
	base, err := p.basePath()
	if err != nil {
		return nil, err
	}

	target := filepath.Join(base, filepath.FromSlash(dir))
	infos, err := afero.ReadDir(p.fs, target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plugin.NewError("list", p.target, dir, plugin.ErrNotFound)
		}
		return nil, plugin.NewError("list", p.target, dir, err)
	}

	out := make([]plugin.Entry, 0, len(infos))
	for _, info := range infos {
		out = append(out, plugin.Entry{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return out, nil
}
