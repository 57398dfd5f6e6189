package wallet

import (
	"context"
	"sync"

	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// Mutex serializes mutually-exclusive operations against one signing
// identity. Waiters are granted the lock in strict FIFO order so that
// transactions from flows sharing a wallet are total-ordered and never race
// on nonce assignment.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Acquire blocks until the lock is granted or ctx is cancelled.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range m.waiters {
			if w == ch {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// Release raced with cancellation and already handed us the
		// lock; pass it on.
		_ = m.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the next waiter in FIFO order, or frees it when
// nobody waits. Releasing an unlocked mutex is a logic error.
func (m *Mutex) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked {
		return &watchdog.LogicError{Op: "wallet.Mutex.Release", Msg: "release of unlocked mutex"}
	}

	if len(m.waiters) > 0 {
		ch := m.waiters[0]
		m.waiters = m.waiters[1:]
		close(ch) // ownership transfers, locked stays true
		return nil
	}

	m.locked = false
	return nil
}

// WithLock runs fn while holding the lock, releasing on all exit paths.
func (m *Mutex) WithLock(ctx context.Context, fn func() error) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer m.Release()
	return fn()
}
