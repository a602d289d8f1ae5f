// Package checkpoint makes sure the model checkpoint is present on local
// disk, downloading it from the model hub, a plain URL or an S3-compatible
// store on first use.
package checkpoint

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/ngupuk/kupu/internal/metrics"
)

// Transport pooling defaults.
const (
	defaultTimeout             = 30 * time.Minute
	defaultDialTimeout         = 30 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
)

// S3Config holds the S3-compatible store settings for s3:// sources.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Config configures a Fetcher.
type Config struct {
	Source string
	HubURL string
	// Token is sent as a bearer token to the hub and to plain URLs.
	Token   string
	Timeout time.Duration
	S3      S3Config
}

// ObjectGetter downloads an object to a local file.
type ObjectGetter interface {
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
}

// Fetcher resolves and downloads a checkpoint.
type Fetcher struct {
	source Source
	token  string
	client *http.Client
	s3     ObjectGetter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the pooled HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithObjectGetter overrides the S3 client.
func WithObjectGetter(g ObjectGetter) Option {
	return func(f *Fetcher) { f.s3 = g }
}

// NewFetcher parses the configured source and prepares the client it needs.
func NewFetcher(cfg Config, opts ...Option) (*Fetcher, error) {
	raw := cfg.Source
	if raw == "" {
		raw = DefaultSource
	}
	src, err := ParseSource(raw, cfg.HubURL)
	if err != nil {
		return nil, err
	}

	f := &Fetcher{source: src, token: cfg.Token}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		f.client = newHTTPClient(timeout)
	}

	if src.Scheme == SchemeS3 && f.s3 == nil {
		client, err := newS3Client(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		f.s3 = client
	}

	return f, nil
}

// Source returns the parsed source.
func (f *Fetcher) Source() Source { return f.source }

// FetchIfMissing returns localPath when it already holds a non-empty
// regular file. Otherwise the checkpoint is downloaded next to it and
// renamed into place, so a partial download never appears at localPath.
func (f *Fetcher) FetchIfMissing(ctx context.Context, localPath string) (string, error) {
	if info, err := os.Stat(localPath); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		log.Debug().Str("path", localPath).Msg("Checkpoint already present")
		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	log.Info().Str("source", f.source.String()).Str("path", localPath).Msg("Downloading checkpoint")

	start := time.Now()
	tmp := localPath + ".part"
	n, err := f.download(ctx, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		metrics.RecordCheckpointDownload(f.source.Scheme, false, 0)
		return "", fmt.Errorf("failed to download checkpoint from %s: %w", f.source, err)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		metrics.RecordCheckpointDownload(f.source.Scheme, false, 0)
		return "", fmt.Errorf("checkpoint from %s is empty", f.source)
	}

	if err := os.Rename(tmp, localPath); err != nil {
		_ = os.Remove(tmp)
		metrics.RecordCheckpointDownload(f.source.Scheme, false, 0)
		return "", fmt.Errorf("failed to move checkpoint into place: %w", err)
	}

	metrics.RecordCheckpointDownload(f.source.Scheme, true, n)
	log.Info().
		Str("path", localPath).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("Checkpoint downloaded")

	return localPath, nil
}

func (f *Fetcher) download(ctx context.Context, dst string) (int64, error) {
	if f.source.Scheme == SchemeS3 {
		if err := f.s3.FGetObject(ctx, f.source.Bucket, f.source.Key, dst, minio.GetObjectOptions{}); err != nil {
			return 0, err
		}
		info, err := os.Stat(dst)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	return f.downloadHTTP(ctx, dst)
}

func (f *Fetcher) downloadHTTP(ctx context.Context, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source.URL, nil)
	if err != nil {
		return 0, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return 0, errors.New("truncated download")
	}
	return n, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func newS3Client(cfg S3Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is required for s3:// sources")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	}
	if cfg.Region != "" {
		opts.Region = cfg.Region
	}

	return minio.New(cfg.Endpoint, opts)
}
