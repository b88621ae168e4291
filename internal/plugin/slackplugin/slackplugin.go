// Package slackplugin backs the "slack" target type: deploying a
// package posts its files into Slack channels. Only uploads make
// sense here, so the other capabilities are absent and dispatch skips
// this plugin for pull and delete.
package slackplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"

	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
)

const TypeName = "slack"

// Settings holds the workspace parameters of a slack target.
type Settings struct {
	Token    string   `yaml:"token"`
	Channels []string `yaml:"channels"`
	Comment  string   `yaml:"comment"`
}

// Plugin posts files through the Slack Web API.
type Plugin struct {
	target   string
	settings Settings
	log      logging.Interface

	once   sync.Once
	client *slack.Client
}

// Register adds the slack factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New decodes the target settings.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	return &Plugin{
		target:   pctx.Target.NormalizedName(),
		settings: s,
		log:      pctx.Logger(),
	}, nil
}

func (p *Plugin) Type() string { return TypeName }

func (p *Plugin) api() (*slack.Client, error) {
	if p.settings.Token == "" {
		return nil, plugin.NewError("configure", p.target, "",
			fmt.Errorf("%w: slack target needs a token", plugin.ErrInvalidConfig))
	}
	if len(p.settings.Channels) == 0 {
		return nil, plugin.NewError("configure", p.target, "",
			fmt.Errorf("%w: slack target needs at least one channel", plugin.ErrInvalidConfig))
	}
	p.once.Do(func() {
		p.client = slack.New(p.settings.Token)
	})
	return p.client, nil
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	api, err := p.api()
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.ReportDone(p.uploadOne(ctx, api, f))
	}
	return nil
}

func (p *Plugin) uploadOne(ctx context.Context, api *slack.Client, f *plugin.FileToUpload) error {
	for _, channel := range p.settings.Channels {
		f.ReportStart("slack:" + channel)

		rc, err := f.Content()
		if err != nil {
			return plugin.NewError("upload", p.target, f.Rel, err)
		}

		_, err = api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:        channel,
			Reader:         rc,
			Filename:       f.Name,
			FileSize:       int(f.Size),
			Title:          f.Rel,
			InitialComment: p.settings.Comment,
		})
		rc.Close()
		if err != nil {
			return plugin.NewError("upload", p.target, f.Rel, err)
		}
		p.log.WithField("target", p.target).
			WithField("channel", channel).
			Debugf("posted %s", f.Rel)
	}
	return nil
}
