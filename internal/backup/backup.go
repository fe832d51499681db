// Package backup copies the collected corpus to S3 on a fixed interval.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/audiolibrelab/voxcollect/internal/config"
)

// Uploader stores one object. It is satisfied by the S3 upload manager.
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type Backup struct {
	uploader Uploader
	bucket   string
	prefix   string
	interval time.Duration
	files    []string
	dirs     []string

	// OnPass is called after every pass with the number of uploaded files
	OnPass func(files int, err error)
}

// NewS3 builds a backup over the default AWS credential chain
func NewS3(cfg *config.Config) (*Backup, error) {
	if cfg.Backup.Bucket == "" {
		return nil, fmt.Errorf("backup bucket not configured")
	}

	sess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.Backup.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return New(s3manager.NewUploader(sess), cfg), nil
}

func New(uploader Uploader, cfg *config.Config) *Backup {
	return &Backup{
		uploader: uploader,
		bucket:   cfg.Backup.Bucket,
		prefix:   cfg.Backup.Prefix,
		interval: cfg.Backup.Interval,
		files:    []string{cfg.Corpus.ActiveFile, cfg.Corpus.MetadataFile},
		dirs:     []string{cfg.Corpus.RecordingsDir},
	}
}

// Run backs up immediately and then on every interval until ctx is cancelled
func (b *Backup) Run(ctx context.Context) error {
	if b.interval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %s", b.interval)
	}
	slog.Info("Will back data up", "bucket", b.bucket, "prefix", b.prefix, "interval", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if _, err := b.Once(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Backup pass failed", "bucket", b.bucket, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Once uploads every tracked file and returns how many were uploaded
func (b *Backup) Once(ctx context.Context) (int, error) {
	slog.Info("Backing up data", "bucket", b.bucket)
	start := time.Now()

	uploaded, err := b.pass(ctx)
	if b.OnPass != nil {
		b.OnPass(uploaded, err)
	}
	if err != nil {
		return uploaded, err
	}

	slog.Info("Backup complete", "files", uploaded, "elapsed", time.Since(start).Round(time.Millisecond))
	return uploaded, nil
}

func (b *Backup) pass(ctx context.Context) (int, error) {
	uploaded := 0

	for _, file := range b.files {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := b.upload(ctx, file, path.Join(b.prefix, filepath.Base(file))); err != nil {
			return uploaded, err
		}
		uploaded++
	}

	// directories keep their layout relative to the parent
	for _, dir := range b.dirs {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			continue
		}
		parent := filepath.Dir(dir)

		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(parent, p)
			if err != nil {
				return err
			}
			if err := b.upload(ctx, p, path.Join(b.prefix, filepath.ToSlash(rel))); err != nil {
				return err
			}
			uploaded++
			return nil
		})
		if err != nil {
			return uploaded, err
		}
	}

	return uploaded, nil
}

func (b *Backup) upload(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	slog.Debug("Copying file to backup", "file", file, "key", key)
	_, err = b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", file, b.bucket, key, err)
	}
	return nil
}
