// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"errors"
	"fmt"
)

// Common errors returned by the library.
var (
	// ErrUnknownDate is returned when a requested capture date is not in
	// the catalog.
	ErrUnknownDate = errors.New("unknown capture date")

	// ErrUnknownTransport is returned for a Settings.Transport value other
	// than "https" or "s3".
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrNotFound is returned when the bucket has no object at a derived
	// archive path.
	ErrNotFound = errors.New("archive not found in bucket")
)

// DownloadError wraps a failed archive fetch with entry context.
// The run aborts on the first one; re-running resumes from the same entry.
type DownloadError struct {
	Entry string
	URL   string
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Entry, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ExtractionError is returned when a downloaded archive cannot be
// unpacked, or unpacking did not produce the expected contents. No marker
// is written for the entry, so a later run fetches it again.
type ExtractionError struct {
	Entry   string
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// FilesystemError is returned when the target tree cannot be prepared or
// a marker cannot be written.
type FilesystemError struct {
	Op   string // "mkdir", "create", "rename", "remove", "stat", "write marker"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response from the bucket's HTTPS endpoint.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bucket returned %s for %s", e.Status, e.URL)
}

// IsRetryable reports whether the request might succeed on retry.
func (e *StatusError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Is maps bucket status codes onto the package sentinels. The public
// bucket answers 403 rather than 404 for keys that do not exist.
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case 403, 404:
		return target == ErrNotFound
	default:
		return false
	}
}
