// Package fetch makes a local copy of a source file, downloading it only when absent.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// DefaultChunkSize is the copy buffer used while streaming a download to disk.
const DefaultChunkSize = 256 << 10

// S3Downloader is the part of s3manager.Downloader used for s3:// locators.
type S3Downloader interface {
	DownloadWithContext(ctx aws.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*s3manager.Downloader)) (int64, error)
}

// Fetcher resolves a locator to a file on local disk.
type Fetcher struct {
	dir       string
	chunkSize int
	client    *http.Client
	s3        S3Downloader
	awsRegion string
	logger    *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDir sets the directory downloads are written to. Defaults to the working directory.
func WithDir(dir string) Option {
	return func(f *Fetcher) { f.dir = dir }
}

// WithHTTPClient replaces the client used for http and https locators.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithS3Downloader replaces the downloader used for s3 locators.
func WithS3Downloader(d S3Downloader) Option {
	return func(f *Fetcher) { f.s3 = d }
}

// WithAWSRegion sets the region of the lazily created S3 session.
func WithAWSRegion(region string) Option {
	return func(f *Fetcher) { f.awsRegion = region }
}

// WithChunkSize sets the streaming buffer size.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		dir:       ".",
		chunkSize: DefaultChunkSize,
		client:    &http.Client{Timeout: 30 * time.Minute},
		awsRegion: os.Getenv("AWS_REGION"),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LocalName derives the local file name from the final path segment of a locator.
func LocalName(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid locator %q: %w", locator, err)
	}
	p := u.Path
	if u.Scheme == "" {
		p = filepath.ToSlash(locator)
	}
	name := path.Base(p)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("locator %q has no file name", locator)
	}
	return name, nil
}

// Fetch returns the path of a local copy of locator. Existing local copies are
// reused without any transfer.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", &TransferError{Locator: locator, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "", "file":
		return f.fetchLocal(locator, u)
	case "http", "https", "s3":
	default:
		return "", &TransferError{Locator: locator, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	name, err := LocalName(locator)
	if err != nil {
		return "", &TransferError{Locator: locator, Err: err}
	}
	dest := filepath.Join(f.dir, name)

	if _, err := os.Stat(dest); err == nil {
		f.logger.Info("file already exists, skipping download", zap.String("file", dest))
		return dest, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", &TransferError{Locator: locator, Err: err}
	}

	f.logger.Info("file is downloading", zap.String("locator", locator), zap.String("file", dest))
	start := time.Now()

	var written int64
	if strings.EqualFold(u.Scheme, "s3") {
		written, err = f.writeAtomically(dest, func(out *os.File) (int64, error) {
			return f.downloadS3(ctx, u, out)
		})
	} else {
		written, err = f.writeAtomically(dest, func(out *os.File) (int64, error) {
			return f.downloadHTTP(ctx, locator, out)
		})
	}
	if err != nil {
		var transferErr *TransferError
		if errors.As(err, &transferErr) {
			return "", err
		}
		return "", &TransferError{Locator: locator, Err: err}
	}

	f.logger.Info("file has downloaded",
		zap.String("file", dest),
		zap.Int64("bytes", written),
		zap.Duration("elapsed", time.Since(start)),
	)
	return dest, nil
}

func (f *Fetcher) fetchLocal(locator string, u *url.URL) (string, error) {
	p := locator
	if u.Scheme != "" {
		p = filepath.FromSlash(u.Path)
	}
	if _, err := os.Stat(p); err != nil {
		return "", &TransferError{Locator: locator, Err: err}
	}
	f.logger.Info("using local file", zap.String("file", p))
	return p, nil
}

// writeAtomically writes into a temp file beside dest and renames it into place
// only once fill succeeds, so failed transfers leave nothing behind.
func (f *Fetcher) writeAtomically(dest string, fill func(*os.File) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	written, err := fill(tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return written, err
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return written, err
	}
	return written, nil
}

func (f *Fetcher) downloadHTTP(ctx context.Context, locator string, out io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return 0, &TransferError{Locator: locator, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &TransferError{Locator: locator, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &TransferError{
			Locator:    locator,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", resp.Status),
		}
	}

	written, err := io.CopyBuffer(out, resp.Body, make([]byte, f.chunkSize))
	if err != nil {
		return written, &TransferError{Locator: locator, Err: err}
	}
	return written, nil
}

func (f *Fetcher) downloadS3(ctx context.Context, u *url.URL, out *os.File) (int64, error) {
	locator := u.String()
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return 0, &TransferError{Locator: locator, Err: fmt.Errorf("s3 locator needs a bucket and key")}
	}

	downloader, err := f.s3Downloader()
	if err != nil {
		return 0, &TransferError{Locator: locator, Err: err}
	}

	written, err := downloader.DownloadWithContext(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(d *s3manager.Downloader) {
		d.PartSize = int64(f.chunkSize) * 64
		// Keep writes in file order.
		d.Concurrency = 1
	})
	if err != nil {
		transferErr := &TransferError{Locator: locator, Err: err}
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) {
			transferErr.StatusCode = reqErr.StatusCode()
		}
		return written, transferErr
	}
	return written, nil
}

func (f *Fetcher) s3Downloader() (S3Downloader, error) {
	if f.s3 != nil {
		return f.s3, nil
	}
	cfg := aws.NewConfig()
	if f.awsRegion != "" {
		cfg = cfg.WithRegion(f.awsRegion)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	f.s3 = s3manager.NewDownloader(sess)
	return f.s3, nil
}
