package jobqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"skillmeat/internal/errs"
	"skillmeat/internal/store"
)

func newQueue(t *testing.T, maxConcurrency, maxBacklog int) *Queue {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "skillmeat.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, maxConcurrency, maxBacklog)
}

func TestSubmitAndGet(t *testing.T) {
	q := newQueue(t, 4, 10)
	job, err := q.Submit("sync", map[string]string{"artifact": "skill:foo"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusQueued {
		t.Errorf("expected queued status, got %s", job.Status)
	}

	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Verb != "sync" {
		t.Errorf("expected verb sync, got %s", got.Verb)
	}
}

func TestSubmitRejectsWhenBacklogFull(t *testing.T) {
	q := newQueue(t, 4, 2)
	if _, err := q.Submit("sync", nil); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	if _, err := q.Submit("sync", nil); err != nil {
		t.Fatalf("Submit 2: %v", err)
	}
	if _, err := q.Submit("sync", nil); errs.KindOf(err) != errs.RateLimited {
		t.Fatalf("expected rate-limited once backlog is full, got %v", err)
	}
}

func TestRunExecutesHandlerAndRecordsSuccess(t *testing.T) {
	q := newQueue(t, 4, 10)
	job, err := q.Submit("sync", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, func(ctx context.Context, j Job, report func(string)) error {
			report("halfway")
			return nil
		})
		close(done)
	}()

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.Get(job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == StatusSucceeded {
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for job to succeed")
}

func TestRunRecordsFailure(t *testing.T) {
	q := newQueue(t, 4, 10)
	job, err := q.Submit("sync", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go q.Run(ctx, func(ctx context.Context, j Job, report func(string)) error {
		return errs.New(errs.IOError, "boom", nil)
	})

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.Get(job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == StatusFailed {
			if got.Error == "" {
				t.Error("expected failure error message recorded")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for job to fail")
}

func TestCancelQueuedJob(t *testing.T) {
	q := newQueue(t, 4, 10)
	job, err := q.Submit("sync", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := q.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled status, got %s", got.Status)
	}
}

func TestCancelTerminalJobFails(t *testing.T) {
	q := newQueue(t, 4, 10)
	job, err := q.Submit("sync", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := q.Cancel(job.ID); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := q.Cancel(job.ID); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected not-found cancelling an already-terminal job, got %v", err)
	}
}

func TestResumeRequeuesRunningJobs(t *testing.T) {
	q := newQueue(t, 4, 10)
	job, err := q.Submit("sync", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := q.setStatus(job.ID, StatusRunning, "", ""); err != nil {
		t.Fatalf("setStatus: %v", err)
	}

	n, err := q.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 resumed job, got %d", n)
	}

	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("expected job requeued, got %s", got.Status)
	}
}
