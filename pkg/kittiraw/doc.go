// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package kittiraw provides idempotent, resumable retrieval of the KITTI
raw-data recordings from their public object-storage bucket.

The dataset is published as a fixed set of zip archives: one calibration
bundle per capture date plus one archive per drive session. This package
carries that set as a static ordered catalog and brings entries to a
"complete" state on disk: download the archive, extract it in place,
delete the archive, and leave a marker file behind. Completeness is judged
from the filesystem alone, so interrupted runs resume for free.

# Features

  - Marker-based resume: entries whose marker exists are skipped, nothing
    else is consulted
  - Count cap: a run processes at most MaxEntries catalog entries, counting
    skips, so repeated runs walk the same catalog prefix until it is done
  - Fail-fast: the first download, extraction, or filesystem error aborts
    the run with a typed error; no marker is written for a failed entry
  - Two transports: plain HTTPS (default) or the native S3 API with
    anonymous credentials
  - Progress events: per-entry callbacks for UI integration
  - Context cancellation: downloads and retry sleeps abort promptly

# Quick Start

Fetch the first ten entries of the catalog:

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/avfield/kittifetch/pkg/kittiraw"
	)

	func main() {
		job := kittiraw.Job{
			Root:       "/data/nova/KITTI/raw",
			MaxEntries: 10,
		}

		err := kittiraw.Fetch(context.Background(), job, kittiraw.DefaultSettings(), func(e kittiraw.ProgressEvent) {
			switch e.Event {
			case "entry_skip":
				fmt.Printf("[%d/%d] %s already complete\n", e.Processed, e.Max, e.Entry)
			case "entry_done":
				fmt.Printf("[%d/%d] %s fetched\n", e.Processed, e.Max, e.Entry)
			}
		})
		if err != nil {
			log.Fatal(err)
		}
	}

# The Catalog

Catalog() returns the fixed entry list: for each capture date the
calibration bundle first, then that date's drives in ascending order. An
Entry derives everything else from its name:

	e := kittiraw.Entry{Name: "2011_09_26_drive_0001", Kind: kittiraw.KindSession}
	e.ArchiveName()                       // 2011_09_26_drive_0001_sync.zip
	e.RemotePath()                        // 2011_09_26_drive_0001/2011_09_26_drive_0001_sync.zip
	e.MarkerPath("/data/kitti")           // /data/kitti/2011_09_26/2011_09_26_drive_0001_sync/.full_download

Calibration markers are different: the calibration zip itself contains
calib_cam_to_cam.txt, so extraction is what completes the entry and no
separate marker is written.

# Dry-Run / Planning

PlanRun lists what a run would touch without any network traffic:

	plan, err := kittiraw.PlanRun(job, cfg)
	if err != nil {
		log.Fatal(err)
	}
	for _, it := range plan.Items {
		fmt.Printf("%-30s complete=%v\n", it.Name, it.Complete)
	}

# Error Handling

Fetch returns on the first failure, wrapped with entry context:
DownloadError for transfer failures, ExtractionError for corrupt or
misshapen archives, FilesystemError for the target tree. All three
unwrap to the underlying cause. Because markers are only written after a
fully successful extract, re-running after any failure resumes at the
first incomplete entry.

# Transports

The default transport issues plain GETs against DefaultBaseURL. Setting
Settings.Transport to TransportS3 switches to the S3 API, which is useful
behind endpoint overrides (Settings.Endpoint) such as mirrors or MinIO.
The public bucket requires no credentials in either mode.

# Testing

Fetch and PlanRun have WithFS variants taking an afero.Fs, so the whole
loop runs against an in-memory filesystem in tests.
*/
package kittiraw
