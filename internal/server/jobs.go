// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avfield/kittifetch/pkg/kittiraw"
)

// JobStatus represents the state of a fetch run.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one fetch run over the catalog.
type Job struct {
	ID        string             `json:"id"`
	Root      string             `json:"root"`
	Max       int                `json:"max"`
	Dates     []string           `json:"dates,omitempty"`
	Status    JobStatus          `json:"status"`
	Progress  JobProgress        `json:"progress"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	StartedAt *time.Time         `json:"startedAt,omitempty"`
	EndedAt   *time.Time         `json:"endedAt,omitempty"`
	Entries   []JobEntryProgress `json:"entries,omitempty"`

	cancel context.CancelFunc `json:"-"`
}

// snapshot returns a copy safe to read or marshal outside the manager's
// lock. The live Entries slice keeps changing while the run progresses, so
// it is copied too. The caller must hold the manager's lock.
func (j *Job) snapshot() *Job {
	c := *j
	c.cancel = nil
	if len(j.Entries) > 0 {
		c.Entries = make([]JobEntryProgress, len(j.Entries))
		copy(c.Entries, j.Entries)
	}
	if len(j.Dates) > 0 {
		c.Dates = append([]string(nil), j.Dates...)
	}
	return &c
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalEntries    int    `json:"totalEntries"`
	Processed       int    `json:"processed"`
	Skipped         int    `json:"skipped"`
	Downloaded      int    `json:"downloaded"`
	CurrentEntry    string `json:"currentEntry,omitempty"`
	TotalBytes      int64  `json:"totalBytes"`
	DownloadedBytes int64  `json:"downloadedBytes"`
}

// JobEntryProgress holds per-entry progress.
type JobEntryProgress struct {
	Name       string        `json:"name"`
	Kind       kittiraw.Kind `json:"kind"`
	TotalBytes int64         `json:"totalBytes"`
	Downloaded int64         `json:"downloaded"`
	Status     string        `json:"status"` // pending, skipped, downloading, extracting, complete, error
}

// JobManager manages fetch jobs.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	config     Config
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
	log        *slog.Logger
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, wsHub *WSHub, log *slog.Logger) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		config: cfg,
		wsHub:  wsHub,
		log:    log,
	}
}

// eligibleEntries returns the catalog slice a run with the given dates and
// cap would walk, in catalog order.
func eligibleEntries(dates []string, max int) []kittiraw.Entry {
	entries := kittiraw.Catalog()
	if len(dates) > 0 {
		want := make(map[string]bool, len(dates))
		for _, d := range dates {
			want[d] = true
		}
		kept := entries[:0]
		for _, e := range entries {
			if want[e.Date()] {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) > max {
		entries = entries[:max]
	}
	return entries
}

// CreateJob creates a new fetch job over the server's data root.
// Returns the existing job if a fetch is already in progress: concurrent
// runs over one root would race on staging files and markers.
func (m *JobManager) CreateJob(req FetchRequest) (*Job, bool, error) {
	max := req.Max
	if max <= 0 {
		max = kittiraw.DefaultMaxEntries
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Status == JobStatusQueued || existing.Status == JobStatusRunning {
			snap := existing.snapshot()
			m.mu.Unlock()
			return snap, true, nil // Return existing, wasExisting=true
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		Root:      m.config.DataRoot, // Server-controlled, not from request
		Max:       max,
		Dates:     req.Dates,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		Progress:  JobProgress{},
	}

	// The catalog is fixed, so the full entry list is known up front.
	entries := eligibleEntries(req.Dates, max)
	job.Progress.TotalEntries = len(entries)
	job.Entries = make([]JobEntryProgress, 0, len(entries))
	for _, e := range entries {
		job.Entries = append(job.Entries, JobEntryProgress{
			Name:   e.Name,
			Kind:   e.Kind,
			Status: "pending",
		})
	}

	m.jobs[job.ID] = job
	snap := job.snapshot()
	m.mu.Unlock()

	// Start the job
	go m.runJob(job)

	return snap, false, nil // New job, wasExisting=false
}

// GetJob retrieves a snapshot of a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// SetConfig replaces the settings used by subsequent runs.
func (m *JobManager) SetConfig(cfg Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || (job.Status != JobStatusQueued && job.Status != JobStatusRunning) {
		m.mu.Unlock()
		return false
	}

	if job.cancel != nil {
		job.cancel()
	}
	job.Status = JobStatusCancelled
	now := time.Now()
	job.EndedAt = &now
	snap := job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
	return true
}

// DeleteJob removes a job from the list.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}

	// Cancel if running
	if job.cancel != nil && (job.Status == JobStatusQueued || job.Status == JobStatusRunning) {
		job.cancel()
	}

	delete(m.jobs, id)
	return true
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifyListeners fans a job update out to subscribers and the WebSocket
// hub. Listeners and the hub marshal the job outside the manager's lock,
// so callers pass snapshots, never the live struct.
func (m *JobManager) notifyListeners(job *Job) {
	// Notify channel listeners
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	// Broadcast to WebSocket clients
	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// runJob executes the fetch run.
func (m *JobManager) runJob(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())

	// Update status
	m.mu.Lock()
	if job.Status != JobStatusQueued {
		// Cancelled before this goroutine got scheduled.
		m.mu.Unlock()
		cancel()
		return
	}
	job.cancel = cancel
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	cfg := m.config
	snap := job.snapshot()
	m.mu.Unlock()
	m.notifyListeners(snap)

	dlJob := kittiraw.Job{
		Root:       job.Root,
		MaxEntries: job.Max,
		Dates:      job.Dates,
	}

	settings := kittiraw.Settings{
		BaseURL:        cfg.BaseURL,
		Transport:      cfg.Transport,
		Endpoint:       cfg.Endpoint,
		Retries:        cfg.Retries,
		BackoffInitial: "400ms",
		BackoffMax:     "10s",
	}

	// Progress callback - NOTE: must not hold lock when calling notifyListeners
	progressFunc := func(evt kittiraw.ProgressEvent) {
		m.mu.Lock()

		switch evt.Event {
		case "entry_skip":
			for i := range job.Entries {
				if job.Entries[i].Name == evt.Entry {
					job.Entries[i].Status = "skipped"
					break
				}
			}
			job.Progress.Processed = evt.Processed
			job.Progress.Skipped++

		case "entry_start":
			for i := range job.Entries {
				if job.Entries[i].Name == evt.Entry {
					job.Entries[i].Status = "downloading"
					break
				}
			}
			job.Progress.CurrentEntry = evt.Entry

		case "entry_progress":
			for i := range job.Entries {
				if job.Entries[i].Name == evt.Entry {
					job.Entries[i].Downloaded = evt.Downloaded
					if evt.Total > 0 {
						job.Entries[i].TotalBytes = evt.Total
					}
					break
				}
			}
			// Update aggregates
			var down, total int64
			for _, e := range job.Entries {
				down += e.Downloaded
				total += e.TotalBytes
			}
			job.Progress.DownloadedBytes = down
			job.Progress.TotalBytes = total

		case "entry_extract":
			for i := range job.Entries {
				if job.Entries[i].Name == evt.Entry {
					job.Entries[i].Status = "extracting"
					break
				}
			}

		case "entry_done":
			for i := range job.Entries {
				if job.Entries[i].Name == evt.Entry {
					job.Entries[i].Status = "complete"
					job.Entries[i].Downloaded = job.Entries[i].TotalBytes
					break
				}
			}
			job.Progress.Processed = evt.Processed
			job.Progress.Downloaded++
			job.Progress.CurrentEntry = ""

		case "retry":
			m.log.Warn("retrying archive", "entry", evt.Entry, "attempt", evt.Attempt, "reason", evt.Message)

		case "error":
			for i := range job.Entries {
				if job.Entries[i].Name == evt.Entry {
					job.Entries[i].Status = "error"
					break
				}
			}

		case "done":
			job.Progress.Processed = evt.Processed
			job.Progress.CurrentEntry = ""
		}

		snap := job.snapshot()
		m.mu.Unlock() // Unlock BEFORE notifying to avoid deadlock
		m.notifyListeners(snap)
	}

	// Run the fetch
	err := kittiraw.Fetch(ctx, dlJob, settings, progressFunc)

	// Update final status
	m.mu.Lock()
	endTime := time.Now()
	job.EndedAt = &endTime
	if ctx.Err() != nil {
		job.Status = JobStatusCancelled
	} else if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
	}
	snap = job.snapshot()
	m.mu.Unlock()

	m.notifyListeners(snap)
}
