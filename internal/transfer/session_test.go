package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSerializesOneTarget(t *testing.T) {
	m := NewSessionManager()

	release, ok := m.TryAcquire("staging")
	require.True(t, ok)
	assert.True(t, m.Busy("staging"))

	_, ok = m.TryAcquire("staging")
	assert.False(t, ok, "second acquire must not succeed while held")

	release()
	assert.False(t, m.Busy("staging"))

	release2, ok := m.TryAcquire("staging")
	require.True(t, ok)
	release2()
}

func TestSessionTargetsAreIndependent(t *testing.T) {
	m := NewSessionManager()

	r1, ok := m.TryAcquire("staging")
	require.True(t, ok)
	defer r1()

	r2, ok := m.TryAcquire("production")
	require.True(t, ok, "another target must not be blocked")
	r2()
}

func TestSessionNamesAreNormalized(t *testing.T) {
	m := NewSessionManager()

	release, ok := m.TryAcquire("Staging")
	require.True(t, ok)
	defer release()

	_, ok = m.TryAcquire("  staging  ")
	assert.False(t, ok, "case and whitespace variants share one lock")
}

func TestSessionAcquireWaitsForRelease(t *testing.T) {
	m := NewSessionManager()

	release, err := m.Acquire(context.Background(), "staging")
	require.NoError(t, err)

	got := make(chan struct{})
	go func() {
		r2, err := m.Acquire(context.Background(), "staging")
		assert.NoError(t, err)
		r2()
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("waiter finished while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never got the lock after release")
	}
}

func TestSessionAcquireHonorsCancellation(t *testing.T) {
	m := NewSessionManager()

	release, err := m.Acquire(context.Background(), "staging")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = m.Acquire(ctx, "staging")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	m := NewSessionManager()

	release, ok := m.TryAcquire("staging")
	require.True(t, ok)
	release()
	release()

	// a second release must not eat the token of the next owner
	r2, ok := m.TryAcquire("staging")
	require.True(t, ok)
	assert.True(t, m.Busy("staging"))
	r2()
}
