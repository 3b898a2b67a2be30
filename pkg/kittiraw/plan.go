// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kittiraw

import (
	"github.com/spf13/afero"
)

// PlanItem describes one catalog entry the way a run would see it.
type PlanItem struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Date     string `json:"date"`
	URL      string `json:"url"`
	Archive  string `json:"archive"`
	Marker   string `json:"marker"`
	Complete bool   `json:"complete"`
}

// Plan is the slice of the catalog a run with the same Job would touch.
type Plan struct {
	Root     string     `json:"root"`
	Items    []PlanItem `json:"items"`
	Complete int        `json:"complete"`
	Pending  int        `json:"pending"`
}

// PlanRun reports what Fetch would do for job without downloading
// anything: the first MaxEntries eligible entries in catalog order, each
// with its derived URL, marker path, and current completion state.
func PlanRun(job Job, cfg Settings) (*Plan, error) {
	return PlanRunWithFS(afero.NewOsFs(), job, cfg)
}

// PlanRunWithFS is PlanRun against an explicit filesystem.
func PlanRunWithFS(fsys afero.Fs, job Job, cfg Settings) (*Plan, error) {
	if err := validate(job); err != nil {
		return nil, err
	}
	if job.Root == "" {
		job.Root = DefaultRoot()
	}
	if job.MaxEntries <= 0 {
		job.MaxEntries = DefaultMaxEntries
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	entries := Catalog()
	if len(job.Dates) > 0 {
		entries = filterDates(entries, job.Dates)
	}
	if len(entries) > job.MaxEntries {
		entries = entries[:job.MaxEntries]
	}

	plan := &Plan{Root: job.Root, Items: make([]PlanItem, 0, len(entries))}
	for _, e := range entries {
		marker := e.MarkerPath(job.Root)
		complete, err := afero.Exists(fsys, marker)
		if err != nil {
			return nil, &FilesystemError{Op: "stat", Path: marker, Err: err}
		}
		if complete {
			plan.Complete++
		} else {
			plan.Pending++
		}
		plan.Items = append(plan.Items, PlanItem{
			Name:     e.Name,
			Kind:     e.Kind,
			Date:     e.Date(),
			URL:      e.URL(cfg.BaseURL),
			Archive:  e.ArchiveName(),
			Marker:   marker,
			Complete: complete,
		})
	}
	return plan, nil
}
