// Package s3plugin backs the "s3" target type against AWS S3 and
// S3-compatible services like MinIO.
package s3plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/util"
)

const TypeName = "s3"

const (
	defaultPartSizeMB  = 5
	defaultConcurrency = 10
	maxRetries         = 3
)

// Settings holds the bucket parameters of an s3 target. Empty
// credentials fall back to the default AWS chain (env, shared config,
// instance profile).
type Settings struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`

	// Endpoint points at an S3-compatible service. Non-AWS endpoints
	// switch to path-style addressing automatically.
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`

	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`

	// RequestsPerSecond caps API calls, for shared buckets with strict
	// rate limits. Zero means no cap.
	RequestsPerSecond int `yaml:"requests_per_second"`

	PartSizeMB  int `yaml:"part_size_mb"`
	Concurrency int `yaml:"concurrency"`
}

// Plugin talks to one bucket. The client is built on first use.
type Plugin struct {
	target   string
	settings Settings
	log      logging.Interface
	limiter  *rate.Limiter

	mu       sync.Mutex
	client   *s3.Client
	uploader *manager.Uploader
}

// Register adds the s3 factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New decodes the target settings without touching the network.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	if s.PartSizeMB <= 0 {
		s.PartSizeMB = defaultPartSizeMB
	}
	if s.Concurrency <= 0 {
		s.Concurrency = defaultConcurrency
	}

	p := &Plugin{
		target:   pctx.Target.NormalizedName(),
		settings: s,
		log:      pctx.Logger(),
	}
	if s.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), s.RequestsPerSecond)
	}
	return p, nil
}

func (p *Plugin) Type() string { return TypeName }

func (p *Plugin) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *Plugin) connect(ctx context.Context) (*s3.Client, *manager.Uploader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, p.uploader, nil
	}
	if p.settings.Bucket == "" {
		return nil, nil, plugin.NewError("configure", p.target, "",
			fmt.Errorf("%w: s3 target needs a bucket", plugin.ErrInvalidConfig))
	}

	configOpts := []func(*awsconfig.LoadOptions) error{}
	if p.settings.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(p.settings.Region))
	}
	if p.settings.AccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				p.settings.AccessKey, p.settings.SecretKey, p.settings.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, nil, plugin.NewError("connect", p.target, "", fmt.Errorf("loading AWS config: %w", err))
	}
	awsCfg.RetryMode = aws.RetryModeStandard
	awsCfg.RetryMaxAttempts = maxRetries

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if p.settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.settings.Endpoint)
		}
		o.UsePathStyle = p.usePathStyle()
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = int64(p.settings.PartSizeMB) * 1024 * 1024
		u.Concurrency = p.settings.Concurrency
	})

	p.client = client
	p.uploader = uploader
	p.log.WithField("target", p.target).WithField("bucket", p.settings.Bucket).Debug("s3 client ready")
	return client, uploader, nil
}

func (p *Plugin) usePathStyle() bool {
	if p.settings.PathStyle {
		return true
	}
	return p.settings.Endpoint != "" && !strings.Contains(p.settings.Endpoint, "amazonaws.com")
}

// key maps a workspace path onto the bucket. Keys never carry a leading
// slash.
func (p *Plugin) key(rel string) string {
	return strings.TrimPrefix(util.JoinRemote(p.settings.Prefix, rel), "/")
}

func (p *Plugin) classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return plugin.ErrNotFound
		case "AccessDenied":
			return fmt.Errorf("%w: %s", plugin.ErrAccessDenied, apiErr.ErrorMessage())
		}
	}
	var notFound *s3types.NoSuchKey
	if errors.As(err, &notFound) {
		return plugin.ErrNotFound
	}
	return err
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	_, uploader, err := p.connect(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := p.key(f.Rel)
		f.ReportStart("s3://" + p.settings.Bucket + "/" + key)
		f.ReportDone(p.uploadOne(ctx, uploader, key, f))
	}
	return nil
}

func (p *Plugin) uploadOne(ctx context.Context, uploader *manager.Uploader, key string, f *plugin.FileToUpload) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	rc, err := f.Content()
	if err != nil {
		return plugin.NewError("upload", p.target, f.Rel, err)
	}
	defer rc.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.settings.Bucket),
		Key:    aws.String(key),
		Body:   rc,
	})
	if err != nil {
		return plugin.NewError("upload", p.target, f.Rel, p.classify(err))
	}
	return nil
}

func (p *Plugin) DownloadFiles(ctx context.Context, files []*plugin.FileToDownload) error {
	client, _, err := p.connect(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := p.key(f.Rel)
		f.ReportStart("s3://" + p.settings.Bucket + "/" + key)
		f.ReportDone(p.downloadOne(ctx, client, key, f))
	}
	return nil
}

func (p *Plugin) downloadOne(ctx context.Context, client *s3.Client, key string, f *plugin.FileToDownload) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.settings.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return plugin.NewError("download", p.target, f.Rel, p.classify(err))
	}
	defer result.Body.Close()
	return f.Store(result.Body)
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	client, _, err := p.connect(ctx)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := p.key(f.Rel)
		f.ReportStart("s3://" + p.settings.Bucket + "/" + key)
		if err := p.wait(ctx); err != nil {
			return err
		}
		// S3 deletes are idempotent, a missing key is not an error.
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.settings.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			f.ReportDone(plugin.NewError("delete", p.target, f.Rel, p.classify(err)))
			continue
		}
		f.ReportDone(nil)
	}
	return nil
}

func (p *Plugin) ListDirectory(ctx context.Context, dir string) ([]plugin.Entry, error) {
	client, _, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	prefix := p.key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.settings.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}

	var out []plugin.Entry
	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		if err := p.wait(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, plugin.NewError("list", p.target, dir, p.classify(err))
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || *obj.Key == prefix {
				continue
			}
			out = append(out, plugin.Entry{
				Name:    strings.TrimPrefix(*obj.Key, prefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			out = append(out, plugin.Entry{Name: name, IsDir: true})
		}
	}
	return out, nil
}

// Close releases nothing: the SDK client is connectionless between
// calls.
func (p *Plugin) Close() error { return nil }
