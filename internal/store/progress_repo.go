// Package store keeps the in-memory progress aggregates served by the ops API.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the lifecycle of one pipeline run.
type RunStatus string

// Run statuses tracked for the ops API.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunSummary models one pipeline run for API responses.
type RunSummary struct {
	// RunID is the crawl identifier shared with the pipeline.
	RunID uuid.UUID `json:"run_id"`
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is running/success/error.
	Status RunStatus `json:"status"`
	// Note optionally stores the final failure reason.
	Note string `json:"note,omitempty"`
}

// SiteStats captures per-site aggregation across runs.
type SiteStats struct {
	// Site is the normalized host label (e.g., example.com).
	Site string `json:"site"`
	// Fetches counts completed pages for the site.
	Fetches int64 `json:"fetches"`
	// BytesTotal accumulates response bytes.
	BytesTotal int64 `json:"bytes_total"`
	// Leads counts leads captured from the site's pages.
	Leads int64 `json:"leads"`
	// Denied counts fetches refused by robots or blocklist policy.
	Denied int64 `json:"denied"`
	// CaptchaFlags counts pages that tripped the anti-bot scan.
	CaptchaFlags int64 `json:"captcha_flags"`
	// Fetch2xx-5xx hold per-status counts for diagnostics.
	Fetch2xx int64 `json:"fetch_2xx"`
	Fetch3xx int64 `json:"fetch_3xx"`
	Fetch4xx int64 `json:"fetch_4xx"`
	Fetch5xx int64 `json:"fetch_5xx"`
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time `json:"last_update"`
}

// SiteDelta carries the increments collapsed from one batch of events.
type SiteDelta struct {
	Fetches      int64
	Bytes        int64
	Leads        int64
	Denied       int64
	CaptchaFlags int64
	Fetch2xx     int64
	Fetch3xx     int64
	Fetch4xx     int64
	Fetch5xx     int64
	At           time.Time
}

// Snapshot is the full progress view returned by the ops API.
type Snapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Runs        []RunSummary `json:"runs"`
	Sites       []SiteStats  `json:"sites"`
}

// Recorder applies incremental progress to the aggregate view.
type Recorder interface {
	// StartRun inserts (or idempotently updates) the run's started-at mark.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and note.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, note string) error
	// ApplySiteDelta folds one batch worth of per-site increments in.
	ApplySiteDelta(ctx context.Context, site string, delta SiteDelta) error
}

// ProgressRepo is the in-memory Recorder behind GET /v1/progress. All methods
// are safe for concurrent use.
type ProgressRepo struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*RunSummary
	sites map[string]*SiteStats
}

// NewProgressRepo creates an empty progress repository.
func NewProgressRepo() *ProgressRepo {
	return &ProgressRepo{
		runs:  make(map[uuid.UUID]*RunSummary),
		sites: make(map[string]*SiteStats),
	}
}

// StartRun records the run as running. A repeated start keeps the earliest
// started-at timestamp.
func (r *ProgressRepo) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		r.runs[runID] = &RunSummary{RunID: runID, StartedAt: startedAt, Status: RunRunning}
		return nil
	}
	if startedAt.Before(run.StartedAt) {
		run.StartedAt = startedAt
	}
	return nil
}

// CompleteRun marks the run finished. Completing an unknown run registers it
// so late events still surface in the API.
func (r *ProgressRepo) CompleteRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		run = &RunSummary{RunID: runID, StartedAt: finishedAt}
		r.runs[runID] = run
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.Status = status
	run.Note = note
	return nil
}

// ApplySiteDelta folds the increments into the site's aggregate row.
func (r *ProgressRepo) ApplySiteDelta(_ context.Context, site string, delta SiteDelta) error {
	if site == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.sites[site]
	if !ok {
		stats = &SiteStats{Site: site}
		r.sites[site] = stats
	}
	stats.Fetches += delta.Fetches
	stats.BytesTotal += delta.Bytes
	stats.Leads += delta.Leads
	stats.Denied += delta.Denied
	stats.CaptchaFlags += delta.CaptchaFlags
	stats.Fetch2xx += delta.Fetch2xx
	stats.Fetch3xx += delta.Fetch3xx
	stats.Fetch4xx += delta.Fetch4xx
	stats.Fetch5xx += delta.Fetch5xx
	if delta.At.After(stats.LastUpdate) {
		stats.LastUpdate = delta.At
	}
	return nil
}

// Snapshot returns a copy of the aggregates with runs ordered newest first
// and sites ordered by name.
func (r *ProgressRepo) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		GeneratedAt: time.Now().UTC(),
		Runs:        make([]RunSummary, 0, len(r.runs)),
		Sites:       make([]SiteStats, 0, len(r.sites)),
	}
	for _, run := range r.runs {
		copied := *run
		if run.FinishedAt != nil {
			finished := *run.FinishedAt
			copied.FinishedAt = &finished
		}
		snap.Runs = append(snap.Runs, copied)
	}
	for _, stats := range r.sites {
		snap.Sites = append(snap.Sites, *stats)
	}
	sort.Slice(snap.Runs, func(i, j int) bool {
		return snap.Runs[i].StartedAt.After(snap.Runs[j].StartedAt)
	})
	sort.Slice(snap.Sites, func(i, j int) bool {
		return snap.Sites[i].Site < snap.Sites[j].Site
	})
	return snap
}
