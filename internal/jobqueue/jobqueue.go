// Package jobqueue implements the bounded, persisted background job queue
// described in spec.md §5: submissions are capped by both a concurrency
// limit and a backlog depth limit, and every job's state is durable in the
// embedded relational store so an interrupted process can resume or
// cancel queued/running jobs on next startup.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"skillmeat/internal/errs"
	"skillmeat/internal/logging"
	"skillmeat/internal/store"
)

// Status is a closed tagged variant over a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is one unit of background work: a verb (e.g. "sync", "refresh",
// "snapshot") plus its JSON-encoded arguments.
type Job struct {
	ID        string
	Verb      string
	Arguments string
	Status    Status
	Progress  string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Handler executes one job's work. Implementations should respect ctx
// cancellation so the queue can stop a running job promptly.
type Handler func(ctx context.Context, job Job, reportProgress func(string)) error

// Queue is a bounded, persisted job queue backed by an embedded store.
type Queue struct {
	st          *store.Store
	sem         *semaphore.Weighted
	maxBacklog  int
}

// New constructs a Queue bounded by maxConcurrency concurrent workers and
// maxBacklog unfinished (queued or running) jobs.
func New(st *store.Store, maxConcurrency, maxBacklog int) *Queue {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Queue{
		st:         st,
		sem:        semaphore.NewWeighted(int64(maxConcurrency)),
		maxBacklog: maxBacklog,
	}
}

// Submit persists a new queued job, rejecting it with a rate-limited error
// if the backlog is already at its limit (the backpressure of spec.md §5).
func (q *Queue) Submit(verb string, args interface{}) (Job, error) {
	backlog, err := q.backlogDepth()
	if err != nil {
		return Job{}, err
	}
	if q.maxBacklog > 0 && backlog >= q.maxBacklog {
		return Job{}, errs.New(errs.RateLimited, fmt.Sprintf("job queue backlog full (%d/%d)", backlog, q.maxBacklog), nil)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return Job{}, errs.New(errs.ParseError, "marshal job arguments", err)
	}

	job := Job{
		ID:        uuid.NewString(),
		Verb:      verb,
		Arguments: string(payload),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if _, err := q.st.DB().Exec(
		`INSERT INTO jobs (id, verb, arguments, status, progress, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', '', ?, ?)`,
		job.ID, job.Verb, job.Arguments, job.Status, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return Job{}, errs.New(errs.IOError, "insert job", err)
	}

	logging.Get(logging.CategoryJobQueue).Info("submitted job %s (%s)", job.ID, job.Verb)
	return job, nil
}

func (q *Queue) backlogDepth() (int, error) {
	var n int
	err := q.st.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`, StatusQueued, StatusRunning).Scan(&n)
	if err != nil {
		return 0, errs.New(errs.IOError, "count backlog", err)
	}
	return n, nil
}

// Run dequeues and executes queued jobs with handler until ctx is
// cancelled, acquiring the concurrency semaphore per job so at most
// maxConcurrency run simultaneously.
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, ok, err := q.dequeue()
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(j Job) {
			defer q.sem.Release(1)
			q.execute(ctx, j, handler)
		}(job)
	}
}

func (q *Queue) dequeue() (Job, bool, error) {
	row := q.st.DB().QueryRow(
		`SELECT id, verb, arguments, status, progress, error, created_at, updated_at
		 FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		StatusQueued,
	)
	var j Job
	var status string
	if err := row.Scan(&j.ID, &j.Verb, &j.Arguments, &status, &j.Progress, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Job{}, false, nil
		}
		return Job{}, false, errs.New(errs.IOError, "dequeue job", err)
	}
	j.Status = Status(status)

	if err := q.setStatus(j.ID, StatusRunning, "", ""); err != nil {
		return Job{}, false, err
	}
	j.Status = StatusRunning
	return j, true, nil
}

func (q *Queue) execute(ctx context.Context, j Job, handler Handler) {
	report := func(progress string) {
		_ = q.setStatus(j.ID, StatusRunning, progress, "")
	}

	err := handler(ctx, j, report)
	if err != nil {
		_ = q.setStatus(j.ID, StatusFailed, j.Progress, err.Error())
		logging.Get(logging.CategoryJobQueue).Error("job %s (%s) failed: %v", j.ID, j.Verb, err)
		return
	}
	_ = q.setStatus(j.ID, StatusSucceeded, j.Progress, "")
	logging.Get(logging.CategoryJobQueue).Info("job %s (%s) succeeded", j.ID, j.Verb)
}

func (q *Queue) setStatus(id string, status Status, progress, errMsg string) error {
	_, err := q.st.DB().Exec(
		`UPDATE jobs SET status = ?, progress = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, progress, errMsg, time.Now(), id,
	)
	if err != nil {
		return errs.New(errs.IOError, "update job status", err)
	}
	return nil
}

// Cancel marks a queued or running job cancelled. A job already terminal
// (succeeded/failed/cancelled) is left untouched.
func (q *Queue) Cancel(id string) error {
	res, err := q.st.DB().Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, time.Now(), id, StatusQueued, StatusRunning,
	)
	if err != nil {
		return errs.ForArtifact(errs.IOError, id, "cancel job", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.ForArtifact(errs.NotFound, id, "job not found or already terminal", nil)
	}
	return nil
}

// Get returns a job by id.
func (q *Queue) Get(id string) (Job, error) {
	row := q.st.DB().QueryRow(
		`SELECT id, verb, arguments, status, progress, error, created_at, updated_at FROM jobs WHERE id = ?`,
		id,
	)
	var j Job
	var status string
	if err := row.Scan(&j.ID, &j.Verb, &j.Arguments, &status, &j.Progress, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Job{}, errs.ForArtifact(errs.NotFound, id, "job not found", err)
		}
		return Job{}, errs.ForArtifact(errs.IOError, id, "query job", err)
	}
	j.Status = Status(status)
	return j, nil
}

// Resume resets any job left in the running state back to queued. Called
// once at startup: a running job found at startup means the previous
// process died mid-execution, and its work should be retried rather than
// left stranded (spec.md §5 recovery requirement).
func (q *Queue) Resume() (int, error) {
	res, err := q.st.DB().Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		StatusQueued, time.Now(), StatusRunning,
	)
	if err != nil {
		return 0, errs.New(errs.IOError, "resume interrupted jobs", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryJobQueue).Info("resumed %d interrupted job(s)", n)
	}
	return int(n), nil
}
