// Package batchplugin backs the "batch" target type, a meta target
// that fans every operation out to other named targets in order. A
// failing member is recorded and the fan-out continues with the next
// one.
package batchplugin

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
)

const TypeName = "batch"

// Settings names the member targets of a batch target.
type Settings struct {
	Targets []string `yaml:"targets"`
}

// Plugin dispatches to the members through the shared registry.
type Plugin struct {
	target   string
	settings Settings
	pctx     *plugin.Context
	log      logging.Interface
}

// Register adds the batch factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New decodes the member list.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	return &Plugin{
		target:   pctx.Target.NormalizedName(),
		settings: s,
		pctx:     pctx,
		log:      pctx.Logger(),
	}, nil
}

func (p *Plugin) Type() string { return TypeName }

type visitedKey struct{}

func visited(ctx context.Context) map[string]bool {
	if m, ok := ctx.Value(visitedKey{}).(map[string]bool); ok {
		return m
	}
	return nil
}

// enter guards against batch targets that reference each other in a
// cycle.
func (p *Plugin) enter(ctx context.Context) (context.Context, error) {
	seen := visited(ctx)
	if seen[p.target] {
		return nil, plugin.NewError("dispatch", p.target, "",
			fmt.Errorf("%w: batch targets form a cycle", plugin.ErrInvalidConfig))
	}
	next := make(map[string]bool, len(seen)+1)
	for k := range seen {
		next[k] = true
	}
	next[p.target] = true
	return context.WithValue(ctx, visitedKey{}, next), nil
}

// members resolves the configured target names against the workspace.
func (p *Plugin) members(cap plugin.Capability) ([]memberRun, error) {
	if p.pctx.Config == nil || p.pctx.Registry == nil {
		return nil, plugin.NewError("dispatch", p.target, "",
			fmt.Errorf("%w: batch target needs the workspace dispatcher", plugin.ErrInvalidConfig))
	}
	if len(p.settings.Targets) == 0 {
		return nil, plugin.NewError("dispatch", p.target, "",
			fmt.Errorf("%w: batch target needs a targets list", plugin.ErrInvalidConfig))
	}

	var runs []memberRun
	for _, name := range p.settings.Targets {
		target, ok := p.pctx.Config.TargetByName(name)
		if !ok {
			return nil, plugin.NewError("dispatch", p.target, "",
				fmt.Errorf("%w: unknown member target %q", plugin.ErrInvalidConfig, name))
		}
		plugins, err := p.pctx.Registry.PluginsFor(p.pctx.For(target), cap)
		if err != nil {
			return nil, err
		}
		runs = append(runs, memberRun{name: target.NormalizedName(), plugins: plugins})
	}
	return runs, nil
}

type memberRun struct {
	name    string
	plugins []plugin.Plugin
}

func closeRuns(runs []memberRun) {
	for _, run := range runs {
		plugin.CloseAll(run.plugins)
	}
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	ctx, err := p.enter(ctx)
	if err != nil {
		return err
	}
	runs, err := p.members(plugin.CapUpload)
	if err != nil {
		return err
	}
	defer closeRuns(runs)

	var errs *multierror.Error
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, member := range run.plugins {
			uploader := member.(plugin.Uploader)
			if err := uploader.UploadFiles(ctx, p.relabelUploads(run.name, files)); err != nil {
				if plugin.IsCancelled(err) {
					return err
				}
				errs = multierror.Append(errs, fmt.Errorf("member %s: %w", run.name, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

// relabelUploads prefixes progress locations with the member name so
// batch output shows where each copy went.
func (p *Plugin) relabelUploads(member string, files []*plugin.FileToUpload) []*plugin.FileToUpload {
	out := make([]*plugin.FileToUpload, len(files))
	for i, f := range files {
		orig := f
		copied := *f
		copied.BeforeUpload = func(destination string) {
			orig.ReportStart(member + ": " + destination)
		}
		copied.UploadCompleted = orig.ReportDone
		out[i] = &copied
	}
	return out
}

func (p *Plugin) DownloadFiles(ctx context.Context, files []*plugin.FileToDownload) error {
	ctx, err := p.enter(ctx)
	if err != nil {
		return err
	}
	runs, err := p.members(plugin.CapDownload)
	if err != nil {
		return err
	}
	defer closeRuns(runs)

	var errs *multierror.Error
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, member := range run.plugins {
			downloader := member.(plugin.Downloader)
			if err := downloader.DownloadFiles(ctx, p.relabelDownloads(run.name, files)); err != nil {
				if plugin.IsCancelled(err) {
					return err
				}
				errs = multierror.Append(errs, fmt.Errorf("member %s: %w", run.name, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func (p *Plugin) relabelDownloads(member string, files []*plugin.FileToDownload) []*plugin.FileToDownload {
	out := make([]*plugin.FileToDownload, len(files))
	for i, f := range files {
		orig := f
		copied := *f
		copied.BeforeDownload = func(source string) {
			orig.ReportStart(member + ": " + source)
		}
		copied.DownloadCompleted = orig.ReportDone
		out[i] = &copied
	}
	return out
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	ctx, err := p.enter(ctx)
	if err != nil {
		return err
	}
	runs, err := p.members(plugin.CapDelete)
	if err != nil {
		return err
	}
	defer closeRuns(runs)

	var errs *multierror.Error
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, member := range run.plugins {
			deleter := member.(plugin.Deleter)
			if err := deleter.DeleteFiles(ctx, p.relabelDeletes(run.name, files)); err != nil {
				if plugin.IsCancelled(err) {
					return err
				}
				errs = multierror.Append(errs, fmt.Errorf("member %s: %w", run.name, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func (p *Plugin) relabelDeletes(member string, files []*plugin.FileToDelete) []*plugin.FileToDelete {
	out := make([]*plugin.FileToDelete, len(files))
	for i, f := range files {
		orig := f
		copied := *f
		copied.BeforeDelete = func(location string) {
			orig.ReportStart(member + ": " + location)
		}
		copied.DeleteCompleted = orig.ReportDone
		out[i] = &copied
	}
	return out
}

// ListDirectory shows the first member that can list. Merging views of
// unrelated backends would not say anything useful.
func (p *Plugin) ListDirectory(ctx context.Context, dir string) ([]plugin.Entry, error) {
	ctx, err := p.enter(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := p.members(plugin.CapList)
	if err != nil {
		return nil, err
	}
	defer closeRuns(runs)

	for _, run := range runs {
		for _, member := range run.plugins {
			return member.(plugin.Lister).ListDirectory(ctx, dir)
		}
	}
	return nil, plugin.NewError("list", p.target, dir,
		fmt.Errorf("%w: no member target can list", plugin.ErrNotSupported))
}
