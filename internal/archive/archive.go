// Package archive offloads nuked and wiped release directories to S3
// before they are permanently lost, giving operators a recovery window
// (SITE NUKE/WIPE archive hook). It implements ftpproto.Archiver.
//
// Client construction and the PutObject-with-retry pattern are grounded on
// the teacher's pkg/store/content/s3 package: NewS3ClientFromConfig's
// config.LoadDefaultConfig + credentials.NewStaticCredentialsProvider +
// s3.NewFromConfig shape, and writeContentWithRetry's exponential-backoff
// retry loop around a single PutObject call.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/amftpd/amftpd/internal/logger"
)

// Config configures the S3-backed archiver.
type Config struct {
	Bucket          string
	KeyPrefix       string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Archiver tars a nuked/wiped directory and uploads it to S3.
type Archiver struct {
	client *s3.Client
	cfg    Config
}

// NewClientFromConfig builds an *s3.Client the same way the teacher's
// NewS3ClientFromConfig does: static credentials plus an optional custom
// endpoint for S3-compatible object stores.
func NewClientFromConfig(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return client, nil
}

// New builds an Archiver, constructing its S3 client from cfg. Bucket
// access is not verified here; the first PutObject surfaces any access
// error, since the archive hook is best-effort and should not block daemon
// startup.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	client, err := NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Archiver{client: client, cfg: cfg}, nil
}

// ArchiveDir tars and uploads dir (already renamed to its .NUKED path) for
// virtPath. Best-effort: callers log and continue on error.
func (a *Archiver) ArchiveDir(ctx context.Context, virtPath, dir string) error {
	data, err := tarGzDir(dir)
	if err != nil {
		return fmt.Errorf("archive: tar: %w", err)
	}
	key := a.objectKey(virtPath)
	if err := a.putWithRetry(ctx, key, data); err != nil {
		return fmt.Errorf("archive: upload: %w", err)
	}
	logger.Info("archived directory to S3", "virtual_path", virtPath, "bucket", a.cfg.Bucket, "key", key, "bytes", len(data))
	return nil
}

// ArchiveAndRemove tars and uploads dir, then removes it, used by SITE WIPE
// in place of a bare os.RemoveAll.
func (a *Archiver) ArchiveAndRemove(ctx context.Context, virtPath, dir string) error {
	if err := a.ArchiveDir(ctx, virtPath, dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("archive: remove after upload: %w", err)
	}
	return nil
}

func (a *Archiver) objectKey(virtPath string) string {
	name := strings.Trim(virtPath, "/")
	name = strings.ReplaceAll(name, "/", "_")
	stamp := time.Now().UTC().Format("20060102-150405")
	key := fmt.Sprintf("%s-%s.tar.gz", name, stamp)
	if a.cfg.KeyPrefix != "" {
		key = strings.TrimRight(a.cfg.KeyPrefix, "/") + "/" + key
	}
	return key
}

// putWithRetry uploads data to key with exponential backoff, matching the
// teacher's writeContentWithRetry shape.
func (a *Archiver) putWithRetry(ctx context.Context, key string, data []byte) error {
	var lastErr error
	backoff := a.cfg.InitialBackoff

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > a.cfg.MaxBackoff {
				backoff = a.cfg.MaxBackoff
			}
		}

		_, lastErr = a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if lastErr == nil {
			return nil
		}
		logger.Debug("archive: transient upload error", "attempt", attempt+1, "key", key, "err", lastErr)
	}
	return fmt.Errorf("upload failed after %d attempts: %w", a.cfg.MaxRetries+1, lastErr)
}

// tarGzDir walks dir and produces a gzip-compressed tar archive of its
// contents, relative paths rooted at dir's basename.
func tarGzDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	root := filepath.Base(dir)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(root, rel))

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
