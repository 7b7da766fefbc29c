// Package registry is the in-memory table of live jobs: everything between
// submission and eviction. It is the single source of truth for current
// status. All mutation goes through the coordinator-facing methods, and
// reads return deep copies, so pollers never observe a torn update.
package registry

import (
	"math"
	"sort"
	"sync"
	"time"

	"playbookd/internal/model"
)

type entry struct {
	job    model.Job
	output []byte
	seq    uint64
}

// Registry holds live jobs keyed by id.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	seq  uint64
}

func New() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Add inserts a freshly submitted job. The job's Output field is ignored;
// output accumulates only through AppendOutput.
func (r *Registry) Add(job model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	job.Output = ""
	r.jobs[job.ID] = &entry{job: job, seq: r.seq}
}

// MarkRunning transitions a queued job to running. Transitions never go
// backward; any other current state leaves the job untouched.
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return model.ErrNotFound
	}
	if e.job.Status == model.StatusQueued {
		e.job.Status = model.StatusRunning
	}
	return nil
}

// AppendOutput grows the job's output buffer. Output is frozen once the job
// is terminal; late chunks are dropped.
func (r *Registry) AppendOutput(id string, chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return model.ErrNotFound
	}
	if e.job.Status.Terminal() {
		return nil
	}
	e.output = append(e.output, chunk...)
	return nil
}

// Finish moves the job into the given terminal state, recording the return
// code (nil for launch errors) and the completion time. Calling Finish on an
// already terminal job is a no-op.
func (r *Registry) Finish(id string, status model.Status, returnCode *int, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return model.ErrNotFound
	}
	if e.job.Status.Terminal() || !status.Terminal() {
		return nil
	}
	e.job.Status = status
	e.job.ReturnCode = returnCode
	at := completedAt
	e.job.CompletedAt = &at
	d := math.Round(completedAt.Sub(e.job.StartedAt).Seconds()*100) / 100
	e.job.Duration = &d
	return nil
}

// Get returns a consistent snapshot of the job. Mutating the returned value
// has no effect on the registry, and repeated calls with no intervening
// state change return identical results.
func (r *Registry) Get(id string) (model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return model.Job{}, model.ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns snapshots of all live jobs, most recently submitted first.
func (r *Registry) List() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	jobs := make([]model.Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.snapshot()
	}
	return jobs
}

// Remove evicts a job, normally after the retention grace window.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (e *entry) snapshot() model.Job {
	j := e.job
	j.Output = string(e.output)
	if e.job.CompletedAt != nil {
		at := *e.job.CompletedAt
		j.CompletedAt = &at
	}
	if e.job.ReturnCode != nil {
		rc := *e.job.ReturnCode
		j.ReturnCode = &rc
	}
	if e.job.Duration != nil {
		d := *e.job.Duration
		j.Duration = &d
	}
	return j
}
