// Package ftpplugin backs the "ftp" target type using a single FTP
// control connection per operation.
package ftpplugin

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/util"
)

const TypeName = "ftp"

const defaultTimeout = 10 * time.Second

// Settings holds the connection parameters of an ftp target. An empty
// user logs in anonymously.
type Settings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dir      string `yaml:"dir"`

	// TLS switches to explicit FTPS. SkipVerify accepts self-signed
	// certificates.
	TLS        bool `yaml:"tls"`
	SkipVerify bool `yaml:"tls_skip_verify"`

	Timeout config.Duration `yaml:"timeout"`
}

// Plugin drives one control connection, dialed lazily.
type Plugin struct {
	target   string
	settings Settings
	log      logging.Interface

	mu       sync.Mutex
	conn     *ftp.ServerConn
	madeDirs map[string]bool
}

// Register adds the ftp factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New decodes the target settings without dialing.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	if s.Port == 0 {
		s.Port = 21
	}
	if s.Timeout.Std() <= 0 {
		s.Timeout = config.Duration(defaultTimeout)
	}
	return &Plugin{
		target:   pctx.Target.NormalizedName(),
		settings: s,
		log:      pctx.Logger(),
		madeDirs: map[string]bool{},
	}, nil
}

func (p *Plugin) Type() string { return TypeName }

func (p *Plugin) connection(ctx context.Context) (*ftp.ServerConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, nil
	}
	if p.settings.Host == "" {
		return nil, plugin.NewError("configure", p.target, "",
			fmt.Errorf("%w: ftp target needs a host", plugin.ErrInvalidConfig))
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(p.settings.Timeout.Std()),
	}
	if p.settings.TLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName:         p.settings.Host,
			InsecureSkipVerify: p.settings.SkipVerify,
		}))
	}

	addr := fmt.Sprintf("%s:%d", p.settings.Host, p.settings.Port)
	err := plugin.Retry(ctx, plugin.DefaultRetryConfig(), func() error {
		conn, dialErr := ftp.Dial(addr, opts...)
		if dialErr != nil {
			return dialErr
		}
		user, pass := p.settings.User, p.settings.Password
		if user == "" {
			user, pass = "anonymous", "anonymous"
		}
		if loginErr := conn.Login(user, pass); loginErr != nil {
			conn.Quit()
			return loginErr
		}
		p.conn = conn
		return nil
	})
	if err != nil {
		return nil, plugin.NewError("connect", p.target, "", err)
	}

	p.log.WithField("target", p.target).WithField("addr", addr).Debug("ftp connected")
	return p.conn, nil
}

// Close quits the control connection.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Quit()
	p.conn = nil
	return err
}

func (p *Plugin) remotePath(rel string) string {
	return util.JoinRemote(p.settings.Dir, rel)
}

// ensureDir creates every missing segment of dir. Servers answer 550
// for segments that already exist, which is fine.
func (p *Plugin) ensureDir(conn *ftp.ServerConn, dir string) {
	if dir == "" || dir == "/" || dir == "." || p.madeDirs[dir] {
		return
	}
	var prefix string
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		if prefix == "" && strings.HasPrefix(dir, "/") {
			prefix = "/" + part
		} else if prefix == "" {
			prefix = part
		} else {
			prefix = prefix + "/" + part
		}
		if !p.madeDirs[prefix] {
			_ = conn.MakeDir(prefix)
			p.madeDirs[prefix] = true
		}
	}
	p.madeDirs[dir] = true
}

func isNotAvailable(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable
	}
	return false
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		remote := p.remotePath(f.Rel)
		f.ReportStart(remote)
		f.ReportDone(p.uploadOne(conn, remote, f))
	}
	return nil
}

func (p *Plugin) uploadOne(conn *ftp.ServerConn, remote string, f *plugin.FileToUpload) error {
	rc, err := f.Content()
	if err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	defer rc.Close()

	p.ensureDir(conn, util.RemoteDir(remote))
	if err := conn.Stor(remote, rc); err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	return nil
}

func (p *Plugin) DownloadFiles(ctx context.Context, files []*plugin.FileToDownload) error {
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		remote := p.remotePath(f.Rel)
		f.ReportStart(remote)
		f.ReportDone(p.downloadOne(conn, remote, f))
	}
	return nil
}

func (p *Plugin) downloadOne(conn *ftp.ServerConn, remote string, f *plugin.FileToDownload) error {
	resp, err := conn.Retr(remote)
	if err != nil {
		if isNotAvailable(err) {
			return plugin.NewError("download", p.target, f.Rel, plugin.ErrNotFound)
		}
		return plugin.NewError("download", p.target, f.Rel, err)
	}
	defer resp.Close()
	return f.Store(resp)
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		remote := p.remotePath(f.Rel)
		f.ReportStart(remote)
		if err := conn.Delete(remote); err != nil {
			if isNotAvailable(err) {
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
	conn, err := p.connection(ctx)
	if err != nil {
		return nil, err
	}

	remote := p.remotePath(dir)
	entries, err := conn.List(remote)
	if err != nil {
		if isNotAvailable(err) {
			return nil, plugin.NewError("list", p.target, dir, plugin.ErrNotFound)
		}
		return nil, plugin.NewError("list", p.target, dir, err)
	}

	out := make([]plugin.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, plugin.Entry{
			Name:    e.Name,
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}
