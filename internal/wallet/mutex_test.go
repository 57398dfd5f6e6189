package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gateway-fm/watchdog/internal/watchdog"
)

func waitForWaiters(t *testing.T, m *Mutex, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		m.mu.Lock()
		count := len(m.waiters)
		m.mu.Unlock()
		if count >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMutexReleaseUnlockedIsLogicError(t *testing.T) {
	m := &Mutex{}
	err := m.Release()
	if !watchdog.IsLogicError(err) {
		t.Fatalf("expected logic error, got %v", err)
	}
}

func TestMutexAcquireRelease(t *testing.T) {
	m := &Mutex{}
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Releasing again must fail: the lock is free.
	if err := m.Release(); !watchdog.IsLogicError(err) {
		t.Fatalf("expected logic error, got %v", err)
	}
}

func TestMutexFIFOOrder(t *testing.T) {
	m := &Mutex{}
	ctx := context.Background()

	if err := m.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	const waiters = 5
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Acquire(ctx); err != nil {
				t.Errorf("waiter %d acquire: %v", i, err)
				return
			}
			order = append(order, i) // serialized by lock ownership
			if err := m.Release(); err != nil {
				t.Errorf("waiter %d release: %v", i, err)
			}
		}(i)
		waitForWaiters(t, m, i+1)
	}

	if err := m.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("FIFO order violated: %v", order)
		}
	}
}

func TestMutexWithLockReleasesOnError(t *testing.T) {
	m := &Mutex{}
	wantErr := &watchdog.AmbiguousError{What: "test"}
	err := m.WithLock(context.Background(), func() error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected fn error, got %v", err)
	}
	// Lock must be free again.
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after WithLock: %v", err)
	}
}

func TestMutexAcquireCancelled(t *testing.T) {
	m := &Mutex{}
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Acquire(ctx)
	}()
	waitForWaiters(t, m, 1)
	cancel()

	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The cancelled waiter must not remain queued: release frees the lock.
	if err := m.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
}
