// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/spf13/afero"
)

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	entry      string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, total int64, entry string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		entry:    entry,
		emit:     emit,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond, // Emit at most 5 times per second
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		// Throttle emissions to avoid flooding
		if time.Since(pr.lastEmit) >= pr.interval || err == io.EOF {
			pr.emit(ProgressEvent{
				Event:      "entry_progress",
				Entry:      pr.entry,
				Downloaded: pr.downloaded,
				Total:      pr.total,
			})
			pr.lastEmit = time.Now()
		}
	}
	return n, err
}

// httpFetcher downloads archives from the bucket's public HTTPS endpoint.
type httpFetcher struct {
	client *http.Client
	base   string
	cfg    Settings
}

func newHTTPFetcher(cfg Settings) *httpFetcher {
	return &httpFetcher{client: buildHTTPClient(), base: cfg.BaseURL, cfg: cfg}
}

func (f *httpFetcher) fetchArchive(ctx context.Context, e Entry, out afero.File, emit func(ProgressEvent)) error {
	url := e.URL(f.base)
	retry := newRetry(f.cfg)
	var lastErr error

	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// A retry restarts the archive from scratch; rewind the staging
		// file so partial bytes from the failed attempt are discarded.
		if attempt > 0 {
			if _, err := out.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if err := out.Truncate(0); err != nil {
				return err
			}
		}

		req, err := newRequest(ctx, url)
		if err != nil {
			return err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			se := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
			if !se.IsRetryable() {
				return se
			}
			lastErr = se
		} else {
			pr := newProgressReader(resp.Body, resp.ContentLength, e.Name, emit)
			_, cerr := io.Copy(out, pr)
			resp.Body.Close()
			if cerr == nil {
				return nil
			}
			lastErr = cerr
		}

		if attempt < f.cfg.Retries {
			emit(ProgressEvent{Event: "retry", Entry: e.Name, Attempt: attempt + 1, Message: lastErr.Error()})
			if d := retry.Next(); !sleepCtx(ctx, d) {
				return ctx.Err()
			}
		}
	}
	return lastErr
}
