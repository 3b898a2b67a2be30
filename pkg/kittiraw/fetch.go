// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// fetcher pulls one archive into a staging file.
type fetcher interface {
	fetchArchive(ctx context.Context, e Entry, out afero.File, emit func(ProgressEvent)) error
}

// newFetcher selects the transport from settings.
func newFetcher(ctx context.Context, cfg Settings) (fetcher, error) {
	switch cfg.Transport {
	case TransportHTTPS:
		return newHTTPFetcher(cfg), nil
	case TransportS3:
		return newS3Fetcher(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownTransport, cfg.Transport)
	}
}

// Fetch walks the catalog in order and brings up to job.MaxEntries entries
// to the complete state under job.Root. Entries whose marker already
// exists are counted and skipped; the rest are downloaded, extracted in
// place, and marked.
//
// The loop is strictly sequential and fail-fast: the first download,
// extraction, or filesystem error aborts the whole run. No marker is ever
// written for a failed entry, so a re-run resumes from the first
// incomplete entry.
//
// Cancellation: all downloads and sleeps are tied to ctx. An interrupted
// run may leave a partially extracted, unmarked entry behind; the next run
// redoes it from scratch.
func Fetch(ctx context.Context, job Job, cfg Settings, progress ProgressFunc) error {
	return FetchWithFS(ctx, afero.NewOsFs(), job, cfg, progress)
}

// FetchWithFS is Fetch against an explicit filesystem.
func FetchWithFS(ctx context.Context, fsys afero.Fs, job Job, cfg Settings, progress ProgressFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validate(job); err != nil {
		return err
	}

	// Apply defaults
	if job.Root == "" {
		job.Root = DefaultRoot()
	}
	if job.MaxEntries <= 0 {
		job.MaxEntries = DefaultMaxEntries
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTPS
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	emit := func(ev ProgressEvent) {
		if progress != nil {
			if ev.Time.IsZero() {
				ev.Time = time.Now()
			}
			if ev.Root == "" {
				ev.Root = job.Root
			}
			if ev.Max == 0 {
				ev.Max = job.MaxEntries
			}
			progress(ev)
		}
	}

	f, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	entries := Catalog()
	if len(job.Dates) > 0 {
		entries = filterDates(entries, job.Dates)
	}

	emit(ProgressEvent{
		Event:   "run_start",
		Message: fmt.Sprintf("catalog has %d eligible entries, processing up to %d", len(entries), job.MaxEntries),
	})

	var processed, skipped, downloaded int
	for _, e := range entries {
		if processed >= job.MaxEntries {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		marker := e.MarkerPath(job.Root)
		exists, err := afero.Exists(fsys, marker)
		if err != nil {
			ferr := &FilesystemError{Op: "stat", Path: marker, Err: err}
			emit(ProgressEvent{Level: "error", Event: "error", Entry: e.Name, Message: ferr.Error()})
			return ferr
		}

		processed++
		if exists {
			skipped++
			emit(ProgressEvent{
				Event:     "entry_skip",
				Entry:     e.Name,
				Kind:      e.Kind,
				Marker:    marker,
				Processed: processed,
			})
			continue
		}

		if err := fetchOne(ctx, fsys, f, e, job, cfg, emit); err != nil {
			emit(ProgressEvent{Level: "error", Event: "error", Entry: e.Name, Message: err.Error()})
			return err
		}

		downloaded++
		emit(ProgressEvent{
			Event:     "entry_done",
			Entry:     e.Name,
			Kind:      e.Kind,
			Marker:    marker,
			Processed: processed,
		})
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	emit(ProgressEvent{
		Event:     "done",
		Processed: processed,
		Message:   fmt.Sprintf("run complete (downloaded %d, skipped %d)", downloaded, skipped),
	})
	return nil
}

// fetchOne downloads, extracts, and marks a single incomplete entry.
// Download goes through a .part staging file so an interrupted transfer
// never masquerades as a finished archive.
func fetchOne(ctx context.Context, fsys afero.Fs, f fetcher, e Entry, job Job, cfg Settings, emit func(ProgressEvent)) error {
	if err := fsys.MkdirAll(job.Root, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: job.Root, Err: err}
	}

	archive := filepath.Join(job.Root, e.ArchiveName())
	staging := archive + ".part"

	out, err := fsys.Create(staging)
	if err != nil {
		return &FilesystemError{Op: "create", Path: staging, Err: err}
	}

	emit(ProgressEvent{
		Event:   "entry_start",
		Entry:   e.Name,
		Kind:    e.Kind,
		Archive: e.ArchiveName(),
		URL:     e.URL(cfg.BaseURL),
	})

	if err := f.fetchArchive(ctx, e, out, emit); err != nil {
		out.Close()
		_ = fsys.Remove(staging)
		return &DownloadError{Entry: e.Name, URL: e.URL(cfg.BaseURL), Err: err}
	}
	if err := out.Close(); err != nil {
		return &FilesystemError{Op: "close", Path: staging, Err: err}
	}
	if err := fsys.Rename(staging, archive); err != nil {
		return &FilesystemError{Op: "rename", Path: archive, Err: err}
	}

	emit(ProgressEvent{
		Event:   "entry_extract",
		Entry:   e.Name,
		Kind:    e.Kind,
		Archive: e.ArchiveName(),
	})

	if err := extractArchive(fsys, archive, job.Root); err != nil {
		return &ExtractionError{Entry: e.Name, Archive: e.ArchiveName(), Err: err}
	}
	if err := fsys.Remove(archive); err != nil {
		return &FilesystemError{Op: "remove", Path: archive, Err: err}
	}

	marker := e.MarkerPath(job.Root)
	if e.Kind == KindSession {
		// The marker's directory comes from the archive itself; writing
		// into a missing directory means the zip had an unexpected layout,
		// and the error keeps the entry incomplete.
		if err := afero.WriteFile(fsys, marker, nil, 0o644); err != nil {
			return &FilesystemError{Op: "write marker", Path: marker, Err: err}
		}
		return nil
	}

	// Calibration archives carry their own marker file; verify that
	// extraction actually produced it so the entry cannot stay silently
	// incomplete forever.
	ok, err := afero.Exists(fsys, marker)
	if err != nil {
		return &FilesystemError{Op: "stat", Path: marker, Err: err}
	}
	if !ok {
		return &ExtractionError{Entry: e.Name, Archive: e.ArchiveName(), Err: fmt.Errorf("archive did not produce %s", marker)}
	}
	return nil
}
