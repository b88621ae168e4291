// Package azureplugin backs the "azure" target type against Azure Blob
// Storage. Credentials come from a connection string, a shared key, a
// SAS token, or the ambient Azure identity, in that order.
package azureplugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/util"
)

const TypeName = "azure"

const (
	defaultBlockSizeMB = 4
	defaultConcurrency = 5
	maxRetries         = 3
)

// Settings holds the blob storage parameters of an azure target.
type Settings struct {
	Container string `yaml:"container"`
	Prefix    string `yaml:"prefix"`

	Account          string `yaml:"account"`
	Key              string `yaml:"key"`
	SASToken         string `yaml:"sas_token"`
	ConnectionString string `yaml:"connection_string"`

	// Endpoint overrides the account service URL, for Azurite and
	// sovereign clouds.
	Endpoint string `yaml:"endpoint"`

	BlockSizeMB int `yaml:"block_size_mb"`
	Concurrency int `yaml:"concurrency"`
}

// Plugin talks to one container. The client is built on first use.
type Plugin struct {
	target   string
	settings Settings
	log      logging.Interface

	mu     sync.Mutex
	client *azblob.Client
}

// Register adds the azure factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New decodes the target settings without touching the network.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	if s.BlockSizeMB <= 0 {
		s.BlockSizeMB = defaultBlockSizeMB
	}
	if s.Concurrency <= 0 {
		s.Concurrency = defaultConcurrency
	}
	return &Plugin{
		target:   pctx.Target.NormalizedName(),
		settings: s,
		log:      pctx.Logger(),
	}, nil
}

func (p *Plugin) Type() string { return TypeName }

func (p *Plugin) serviceURL() string {
	if p.settings.Endpoint != "" {
		return p.settings.Endpoint
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", p.settings.Account)
}

func (p *Plugin) connect() (*azblob.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.settings.Container == "" {
		return nil, plugin.NewError("configure", p.target, "",
			fmt.Errorf("%w: azure target needs a container", plugin.ErrInvalidConfig))
	}
	if p.settings.ConnectionString == "" && p.settings.Account == "" {
		return nil, plugin.NewError("configure", p.target, "",
			fmt.Errorf("%w: azure target needs an account or connection_string", plugin.ErrInvalidConfig))
	}

	opts := &azblob.ClientOptions{}
	opts.Retry = policy.RetryOptions{MaxRetries: maxRetries}

	var client *azblob.Client
	var err error
	switch {
	case p.settings.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(p.settings.ConnectionString, opts)
	case p.settings.Key != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(p.settings.Account, p.settings.Key)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(p.serviceURL(), cred, opts)
		}
	case p.settings.SASToken != "":
		url := strings.TrimSuffix(p.serviceURL(), "/") + "/?" + strings.TrimPrefix(p.settings.SASToken, "?")
		client, err = azblob.NewClientWithNoCredential(url, opts)
	default:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(p.serviceURL(), cred, opts)
		}
	}
	if err != nil {
		return nil, plugin.NewError("connect", p.target, "", err)
	}

	p.client = client
	p.log.WithField("target", p.target).WithField("container", p.settings.Container).Debug("azure client ready")
	return client, nil
}

// blobName maps a workspace path onto the container.
func (p *Plugin) blobName(rel string) string {
	return strings.TrimPrefix(util.JoinRemote(p.settings.Prefix, rel), "/")
}

func classify(err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return plugin.ErrNotFound
	}
	if bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions) {
		return fmt.Errorf("%w: %v", plugin.ErrAccessDenied, err)
	}
	return err
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	client, err := p.connect()
	if err != nil {
		return err
	}

	streamOpts := &azblob.UploadStreamOptions{
		BlockSize:   int64(p.settings.BlockSizeMB) * 1024 * 1024,
		Concurrency: p.settings.Concurrency,
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := p.blobName(f.Rel)
		f.ReportStart("azblob://" + p.settings.Container + "/" + name)
		f.ReportDone(p.uploadOne(ctx, client, name, streamOpts, f))
	}
	return nil
}

func (p *Plugin) uploadOne(ctx context.Context, client *azblob.Client, name string, opts *azblob.UploadStreamOptions, f *plugin.FileToUpload) error {
	rc, err := f.Content()
	if err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	defer rc.Close()

	if _, err := client.UploadStream(ctx, p.settings.Container, name, rc, opts); err != nil {
		return plugin.NewError("upload", p.target, f.Rel, classify(err))
	}
	return nil
}

func (p *Plugin) DownloadFiles(ctx context.Context, files []*plugin.FileToDownload) error {
	client, err := p.connect()
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := p.blobName(f.Rel)
		f.ReportStart("azblob://" + p.settings.Container + "/" + name)
		f.ReportDone(p.downloadOne(ctx, client, name, f))
	}
	return nil
}

func (p *Plugin) downloadOne(ctx context.Context, client *azblob.Client, name string, f *plugin.FileToDownload) error {
	resp, err := client.DownloadStream(ctx, p.settings.Container, name, nil)
	if err != nil {
		return plugin.NewError("download", p.target, f.Rel, classify(err))
	}
	defer resp.Body.Close()
	return f.Store(resp.Body)
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	client, err := p.connect()
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := p.blobName(f.Rel)
		f.ReportStart("azblob://" + p.settings.Container + "/" + name)
		if _, err := client.DeleteBlob(ctx, p.settings.Container, name, nil); err != nil {
			f.ReportDone(plugin.NewError("delete", p.target, f.Rel, classify(err)))
			continue
		}
		f.ReportDone(nil)
	}
	return nil
}

func (p *Plugin) ListDirectory(ctx context.Context, dir string) ([]plugin.Entry, error) {
	client, err := p.connect()
	if err != nil {
		return nil, err
	}

	prefix := p.blobName(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	pager := client.ServiceClient().
		NewContainerClient(p.settings.Container).
		NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{Prefix: &prefix})

	var out []plugin.Entry
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, plugin.NewError("list", p.target, dir, classify(err))
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			e := plugin.Entry{Name: strings.TrimPrefix(*item.Name, prefix)}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					e.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					e.ModTime = *item.Properties.LastModified
				}
			}
			out = append(out, e)
		}
		for _, bp := range page.Segment.BlobPrefixes {
			if bp.Name == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*bp.Name, prefix), "/")
			out = append(out, plugin.Entry{Name: name, IsDir: true})
		}
	}
	return out, nil
}

// Close releases nothing: the SDK client keeps no long-lived
// connection.
func (p *Plugin) Close() error { return nil }
