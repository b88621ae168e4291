package transfer

import (
	"context"
	"sync"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/events"
)

// SessionManager hands out per-target operation slots. Only one
// operation runs against a target at a time; everyone else queues on
// the target's channel. Slots key on the normalized target name, so
// "Staging" and "staging" share one lock.
type SessionManager struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewSessionManager() *SessionManager {
	return &SessionManager{slots: make(map[string]chan struct{})}
}

// slot returns the buffered channel guarding one target. Whoever holds
// the token owns the target.
func (m *SessionManager) slot(target string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := config.NormalizeName(target)
	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key] = ch
	}
	return ch
}

// Acquire blocks until the target is free or ctx ends. The returned
// release is idempotent. Waiting and ownership changes are published
// on the global bus so the console and the watch view can show them.
func (m *SessionManager) Acquire(ctx context.Context, target string) (func(), error) {
	ch := m.slot(target)
	select {
	case ch <- struct{}{}:
	default:
		events.GlobalBus.Publish(events.EventSessionWaiting, target)
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	events.GlobalBus.Publish(events.EventSessionAcquired, target)
	return m.releaseFunc(ch, target), nil
}

// TryAcquire grabs the target without waiting, for callers that would
// rather skip than queue.
func (m *SessionManager) TryAcquire(target string) (func(), bool) {
	ch := m.slot(target)
	select {
	case ch <- struct{}{}:
		events.GlobalBus.Publish(events.EventSessionAcquired, target)
		return m.releaseFunc(ch, target), true
	default:
		return nil, false
	}
}

// Busy reports whether some operation currently owns the target. The
// answer can go stale immediately, callers use it for status lines
// only.
func (m *SessionManager) Busy(target string) bool {
	return len(m.slot(target)) > 0
}

func (m *SessionManager) releaseFunc(ch chan struct{}, target string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-ch
			events.GlobalBus.Publish(events.EventSessionReleased, target)
		})
	}
}
