package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestArtifactsSerializesSameKey(t *testing.T) {
	a := NewArtifacts()
	var counter int64
	var wg sync.WaitGroup
	var maxConcurrent int64
	var current int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Lock("skill:foo")
			defer a.Unlock("skill:foo")

			n := atomic.AddInt64(&current, 1)
			for {
				m := atomic.LoadInt64(&maxConcurrent)
				if n <= m || atomic.CompareAndSwapInt64(&maxConcurrent, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			atomic.AddInt64(&counter, 1)
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Fatalf("expected 20 completions, got %d", counter)
	}
	if maxConcurrent != 1 {
		t.Errorf("expected at most 1 concurrent holder of the same key, observed %d", maxConcurrent)
	}
}

func TestArtifactsDistinctKeysDoNotBlock(t *testing.T) {
	a := NewArtifacts()
	a.Lock("skill:foo")
	defer a.Unlock("skill:foo")

	done := make(chan struct{})
	go func() {
		a.Lock("skill:bar")
		a.Unlock("skill:bar")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a distinct key's lock to be independently acquirable")
	}
}

func TestTryLock(t *testing.T) {
	a := NewArtifacts()
	if !a.TryLock("x") {
		t.Fatal("expected first TryLock to succeed")
	}
	if a.TryLock("x") {
		t.Fatal("expected second TryLock on a held key to fail")
	}
	a.Unlock("x")
}

func TestWithLockReleasesOnReturn(t *testing.T) {
	a := NewArtifacts()
	if err := a.WithLock("x", func() error { return nil }); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !a.TryLock("x") {
		t.Fatal("expected lock released after WithLock returns")
	}
	a.Unlock("x")
}

func TestCollectionReadersDoNotBlockEachOther(t *testing.T) {
	var c Collection
	c.RLock()
	defer c.RUnlock()

	done := make(chan struct{})
	go func() {
		c.RLock()
		c.RUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a second reader to not block behind an existing reader")
	}
}

func TestCollectionWriterExcludesReaders(t *testing.T) {
	var c Collection
	c.Lock()

	acquired := make(chan struct{})
	go func() {
		c.RLock()
		close(acquired)
		c.RUnlock()
	}()

	select {
	case <-acquired:
		t.Fatal("expected reader to block while writer holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	c.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected reader to acquire after writer releases")
	}
}
