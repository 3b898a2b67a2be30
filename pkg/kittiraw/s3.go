// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/spf13/afero"
)

// Coordinates of the public bucket for the native S3 transport.
const (
	DefaultBucket = "avg-kitti"
	DefaultRegion = "eu-central-1"
	DefaultPrefix = "raw_data"
)

// progressWriter counts bytes written and emits throttled progress events.
type progressWriter struct {
	w          io.Writer
	total      int64
	downloaded int64
	entry      string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressWriter(w io.Writer, total int64, entry string, emit func(ProgressEvent)) *progressWriter {
	return &progressWriter{
		w:        w,
		total:    total,
		entry:    entry,
		emit:     emit,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond,
	}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.downloaded += int64(n)
		if time.Since(pw.lastEmit) >= pw.interval {
			pw.emit(ProgressEvent{
				Event:      "entry_progress",
				Entry:      pw.entry,
				Downloaded: pw.downloaded,
				Total:      pw.total,
			})
			pw.lastEmit = time.Now()
		}
	}
	return n, err
}

// s3MaxAttempts maps Settings.Retries onto the SDK's total-attempt knob.
// Retries counts attempts beyond the first, so zero keeps this transport
// fail-fast like the HTTPS one.
func s3MaxAttempts(retries int) int {
	if retries < 0 {
		retries = 0
	}
	return retries + 1
}

// s3Fetcher downloads archives through the S3 API. The public bucket
// accepts anonymous requests; static credentials are only needed for
// mirrors that require them.
type s3Fetcher struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Fetcher(ctx context.Context, cfg Settings) (*s3Fetcher, error) {
	var provider aws.CredentialsProvider = aws.AnonymousCredentials{}
	if cfg.AccessKey != "" {
		provider = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(provider),
		config.WithRetryMaxAttempts(s3MaxAttempts(cfg.Retries)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Fetcher{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (f *s3Fetcher) fetchArchive(ctx context.Context, e Entry, out afero.File, emit func(ProgressEvent)) error {
	key := path.Join(f.prefix, e.RemotePath())

	obj, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, f.bucket, key)
		}
		return err
	}
	defer obj.Body.Close()

	pw := newProgressWriter(out, aws.ToInt64(obj.ContentLength), e.Name, emit)
	if _, err := io.Copy(pw, obj.Body); err != nil {
		return err
	}
	return nil
}
