// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import "time"

// DefaultMaxEntries is how many catalog entries a run processes when the
// caller does not say otherwise. Entries found already complete count
// toward the cap exactly like fresh downloads.
const DefaultMaxEntries = 37

// Transport names accepted by Settings.Transport.
const (
	// TransportHTTPS fetches archives from the bucket's public HTTPS
	// endpoint. This is the default and needs no credentials.
	TransportHTTPS = "https"

	// TransportS3 fetches archives through the native S3 API with
	// anonymous credentials (or static ones, see Settings).
	TransportS3 = "s3"
)

// Job defines one fetch run over the raw-data catalog.
//
// The zero value is usable: the target root defaults to the per-user data
// directory (see DefaultRoot) and the entry cap to DefaultMaxEntries.
//
// Example:
//
//	job := kittiraw.Job{
//	    Root:       "/data/nova/KITTI/raw",
//	    MaxEntries: 10,
//	    Dates:      []string{"2011_09_26"},
//	}
type Job struct {
	// Root is the directory the dataset tree is assembled under. Archives
	// are downloaded into it, extracted in place, and the marker files
	// recording completed entries live beneath it.
	// If empty, DefaultRoot() is used.
	Root string

	// MaxEntries caps how many catalog entries this run processes, in
	// catalog order. Skipped-already-complete entries count toward the
	// cap the same as downloads, so repeated runs with the same cap walk
	// the same prefix of the catalog.
	// If <= 0, defaults to DefaultMaxEntries.
	MaxEntries int

	// Dates restricts the run to entries of the given capture dates
	// (e.g. "2011_09_26"). Unknown dates are rejected up front.
	// If empty, the whole catalog is eligible.
	Dates []string
}

// Settings configures how archives are fetched.
//
// All fields have working defaults; the zero value fetches from the
// public bucket over HTTPS with no retries.
//
// Example:
//
//	cfg := kittiraw.DefaultSettings()
//	cfg.Transport = kittiraw.TransportS3
//	cfg.Retries = 2
type Settings struct {
	// BaseURL is the HTTPS base that archive paths resolve against.
	// If empty, defaults to DefaultBaseURL.
	BaseURL string

	// Transport selects the fetch mechanism: TransportHTTPS (default)
	// or TransportS3.
	Transport string

	// Bucket, Region, and Prefix locate the archives for the S3
	// transport. Defaults target the public dataset bucket.
	Bucket string
	Region string
	Prefix string

	// Endpoint overrides the S3 endpoint URL (mirrors, MinIO). When set,
	// path-style addressing is used. S3 transport only.
	Endpoint string

	// AccessKey and SecretKey are optional static credentials for the S3
	// transport. The public bucket needs none; leave empty for anonymous
	// access.
	AccessKey string
	SecretKey string

	// Retries is the number of retry attempts per archive download.
	// The default 0 means the first failure aborts the whole run.
	Retries int

	// BackoffInitial is the delay before the first retry.
	// Accepts duration strings: "400ms", "1s", etc. Default "400ms".
	BackoffInitial string

	// BackoffMax caps the exponentially growing retry delay.
	// Default "10s".
	BackoffMax string
}

// DefaultSettings returns Settings with the package defaults filled in.
//
// Use it as a starting point and override specific fields:
//
//	cfg := kittiraw.DefaultSettings()
//	cfg.Retries = 2
func DefaultSettings() Settings {
	return Settings{
		BaseURL:        DefaultBaseURL,
		Transport:      TransportHTTPS,
		Bucket:         DefaultBucket,
		Region:         DefaultRegion,
		Prefix:         DefaultPrefix,
		Retries:        0,
		BackoffInitial: "400ms",
		BackoffMax:     "10s",
	}
}

// ProgressEvent represents a progress update during a fetch run.
//
// The Event field indicates the type of event:
//   - "run_start": the run has begun; Max holds the entry cap
//   - "entry_skip": an entry's marker already exists; counted, not fetched
//   - "entry_start": an archive download has started
//   - "entry_progress": periodic byte progress during a download
//   - "entry_extract": the downloaded archive is being unpacked
//   - "entry_done": the entry is complete and its marker is on disk
//   - "retry": a download attempt is being retried
//   - "error": the run is aborting
//   - "done": the run finished; Message has the download/skip tally
type ProgressEvent struct {
	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Level is the log level: "debug", "info", "warn", "error".
	// Empty defaults to "info".
	Level string `json:"level,omitempty"`

	// Event is the event type identifier.
	Event string `json:"event"`

	// Root is the target root of the run.
	Root string `json:"root,omitempty"`

	// Entry is the catalog entry name the event refers to.
	Entry string `json:"entry,omitempty"`

	// Kind is the entry's catalog kind.
	Kind Kind `json:"kind,omitempty"`

	// Marker is the completion evidence path that was checked or written.
	Marker string `json:"marker,omitempty"`

	// Archive is the zip file name being fetched or unpacked.
	Archive string `json:"archive,omitempty"`

	// URL is the archive's resolved download URL.
	URL string `json:"url,omitempty"`

	// Downloaded is the cumulative bytes fetched for the current archive.
	Downloaded int64 `json:"downloaded,omitempty"`

	// Total is the archive size in bytes when the bucket reports one.
	Total int64 `json:"total,omitempty"`

	// Processed is the running entry count for the run (skips included).
	Processed int `json:"processed,omitempty"`

	// Max is the run's entry cap.
	Max int `json:"max,omitempty"`

	// Attempt is the retry attempt number (1-based), set in "retry" events.
	Attempt int `json:"attempt,omitempty"`

	// Message carries additional context or error details.
	Message string `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
//
// The fetch loop is strictly sequential, so the callback is never invoked
// concurrently; it should still return quickly to avoid stalling a
// download in flight.
//
// Example:
//
//	progress := func(e kittiraw.ProgressEvent) {
//	    switch e.Event {
//	    case "entry_skip":
//	        fmt.Printf("skip %s (%s present)\n", e.Entry, e.Marker)
//	    case "entry_done":
//	        fmt.Printf("done %s [%d/%d]\n", e.Entry, e.Processed, e.Max)
//	    }
//	}
type ProgressFunc func(ProgressEvent)
