// Package coordinator admits playbook submissions, drives each one through
// an external process, and moves finished jobs into the history store.
//
// The concurrency policy is one active job per (folder, playbook) target:
// two concurrent runs against the same hosts would race each other, while
// distinct targets run fully in parallel, one OS process each.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"playbookd/internal/history"
	"playbookd/internal/model"
	"playbookd/internal/registry"
	"playbookd/internal/runner"
	"playbookd/internal/workspace"
)

// Options tunes the coordinator. Zero values mean: no timeout, no history
// cap, immediate eviction.
type Options struct {
	// PlaybookCommand is the executable driven for every job,
	// normally ansible-playbook.
	PlaybookCommand string
	// Timeout kills jobs running longer than this. 0 leaves jobs unbounded.
	Timeout time.Duration
	// Retention is the grace window a terminal job stays readable in the
	// registry before eviction, so pollers can observe the final state.
	Retention time.Duration
	// HistoryLimit caps the history store after each append. 0 disables.
	HistoryLimit int
}

// Coordinator orchestrates submissions. It is the only writer to the
// registry and the only component appending to history.
type Coordinator struct {
	logger *log.Logger
	ws     *workspace.Workspace
	reg    *registry.Registry
	hist   *history.Store
	opts   Options

	mu        sync.Mutex
	active    map[string]string // target -> job id
	handles   map[string]*runner.Handle
	cancelled map[string]bool

	jobsWg sync.WaitGroup
}

func New(logger *log.Logger, ws *workspace.Workspace, reg *registry.Registry, hist *history.Store, opts Options) *Coordinator {
	if opts.PlaybookCommand == "" {
		opts.PlaybookCommand = "ansible-playbook"
	}
	return &Coordinator{
		logger:    logger,
		ws:        ws,
		reg:       reg,
		hist:      hist,
		opts:      opts,
		active:    make(map[string]string),
		handles:   make(map[string]*runner.Handle),
		cancelled: make(map[string]bool),
	}
}

// Submit validates the target, admits the job and returns its id. It
// returns before the process exits; callers observe progress by polling the
// registry. Variables are captured by value here -- later edits to the
// folder's files never affect this job.
func (c *Coordinator) Submit(folder, playbook, inventory string, vars map[string]any) (string, error) {
	target, err := c.ws.ResolveTarget(folder, playbook, inventory)
	if err != nil {
		return "", err
	}

	job := model.Job{
		ID:        uuid.NewString(),
		Folder:    target.Folder,
		Playbook:  target.Playbook,
		Inventory: target.Inventory,
		Variables: vars,
		Status:    model.StatusQueued,
		StartedAt: time.Now().UTC(),
	}
	key := job.Target()

	c.mu.Lock()
	if _, busy := c.active[key]; busy {
		c.mu.Unlock()
		return "", model.ErrAlreadyRunning
	}
	c.active[key] = job.ID
	c.mu.Unlock()

	c.reg.Add(job)
	c.logger.Printf("Job %s submitted: %s", job.ID, key)

	c.jobsWg.Add(1)
	go c.drive(job.ID, key, target, vars)
	return job.ID, nil
}

// Cancel terminates a running job. The job proceeds through the normal
// completion path and ends up cancelled in the history store.
func (c *Coordinator) Cancel(id string) error {
	c.mu.Lock()
	h, ok := c.handles[id]
	if ok {
		c.cancelled[id] = true
	}
	c.mu.Unlock()

	if !ok {
		if _, err := c.reg.Get(id); err != nil {
			return model.ErrNotFound
		}
		return model.ErrNotRunning
	}
	c.logger.Printf("Job %s cancel requested", id)
	h.Stop()
	return nil
}

// Shutdown stops every running process and waits for all jobs to finish
// their completion path, or for ctx to expire, whichever comes first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for id, h := range c.handles {
		c.cancelled[id] = true
		h.Stop()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.jobsWg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive runs one job from launch to archival on its own goroutine.
func (c *Coordinator) drive(id, key string, target workspace.Target, vars map[string]any) {
	defer c.jobsWg.Done()

	if err := c.reg.MarkRunning(id); err != nil {
		c.logger.Printf("Job %s vanished before start: %v", id, err)
		c.releaseTarget(key, id)
		return
	}

	h, err := runner.Start(c.buildCommand(target, vars))
	if err != nil {
		// the process never ran: errored, not failed, and no exit code
		c.logger.Printf("Job %s launch error: %v", id, err)
		c.reg.AppendOutput(id, []byte(fmt.Sprintf("launch error: %v\n", err)))
		c.finalize(id, key, model.StatusErrored, nil)
		return
	}

	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()

	var timeout *time.Timer
	if c.opts.Timeout > 0 {
		timeout = time.AfterFunc(c.opts.Timeout, func() {
			c.logger.Printf("Job %s exceeded timeout %s, killing", id, c.opts.Timeout)
			h.Stop()
		})
	}

	for chunk := range h.Output() {
		c.reg.AppendOutput(id, chunk)
	}
	res := h.Wait()
	if timeout != nil {
		timeout.Stop()
	}

	c.mu.Lock()
	wasCancelled := c.cancelled[id]
	delete(c.cancelled, id)
	delete(c.handles, id)
	c.mu.Unlock()

	var status model.Status
	var rc *int
	switch {
	case wasCancelled:
		status = model.StatusCancelled
	case res.ExitCode == 0 && !res.Killed:
		status = model.StatusCompleted
		code := res.ExitCode
		rc = &code
	default:
		// nonzero exit or a timeout kill: the playbook ran and failed
		status = model.StatusFailed
		code := res.ExitCode
		rc = &code
	}
	c.finalize(id, key, status, rc)
}

// finalize records the terminal state, archives the job and schedules its
// eviction from the registry after the retention grace window.
func (c *Coordinator) finalize(id, key string, status model.Status, rc *int) {
	// free the target slot first: once a poller observes the terminal
	// state, a resubmission for the same target must be admissible
	c.releaseTarget(key, id)
	c.reg.Finish(id, status, rc, time.Now().UTC())

	snap, err := c.reg.Get(id)
	if err != nil {
		c.logger.Printf("Job %s missing at archival: %v", id, err)
		return
	}
	c.logger.Printf("Job %s finished: %s", id, status)

	// A failed append loses one record, never the registry or the eviction
	// path -- history durability must not take the coordinator down.
	if err := c.hist.Append(context.Background(), recordFrom(snap)); err != nil {
		c.logger.Printf("Job %s history append failed: %v", id, err)
	} else if c.opts.HistoryLimit > 0 {
		if err := c.hist.Prune(context.Background(), c.opts.HistoryLimit); err != nil {
			c.logger.Printf("History prune failed: %v", err)
		}
	}

	time.AfterFunc(c.opts.Retention, func() { c.reg.Remove(id) })
}

func (c *Coordinator) releaseTarget(key, id string) {
	c.mu.Lock()
	if c.active[key] == id {
		delete(c.active, key)
	}
	c.mu.Unlock()
}

// buildCommand assembles the ansible-playbook invocation. Submitted
// variables travel as --extra-vars JSON so the on-disk vars files stay
// untouched by a run.
func (c *Coordinator) buildCommand(target workspace.Target, vars map[string]any) runner.Command {
	args := []string{"-i", target.InventoryPath, target.PlaybookPath}
	if len(vars) > 0 {
		if blob, err := json.Marshal(vars); err == nil {
			args = append(args, "--extra-vars", string(blob))
		}
	}
	return runner.Command{
		Path: c.opts.PlaybookCommand,
		Args: args,
		Dir:  target.Dir,
		Env:  append(os.Environ(), "ANSIBLE_FORCE_COLOR=true"),
	}
}

func recordFrom(job model.Job) model.HistoryRecord {
	rec := model.HistoryRecord{
		JobID:         job.ID,
		Folder:        job.Folder,
		Playbook:      job.Playbook,
		Status:        job.Status,
		StartedAt:     job.StartedAt,
		ReturnCode:    job.ReturnCode,
		Output:        job.Output,
		OutputPreview: job.Output,
	}
	if job.CompletedAt != nil {
		rec.CompletedAt = *job.CompletedAt
	}
	if job.Duration != nil {
		rec.Duration = *job.Duration
	}
	if len(rec.OutputPreview) > model.PreviewLimit {
		rec.OutputPreview = rec.OutputPreview[:model.PreviewLimit]
	}
	return rec
}
