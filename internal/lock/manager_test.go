package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSortsAndDedups(t *testing.T) {
	m := NewManager()
	rb := uuid.New()

	lease, err := m.Acquire(context.Background(), rb, []string{
		"entity/b", "case/a", "entity/b", "case/a/kyc",
	})
	require.NoError(t, err)
	defer lease.Release()

	assert.Equal(t, []string{"case/a", "case/a/kyc", "entity/b"}, lease.Keys())
}

func TestContentionReportsHolder(t *testing.T) {
	m := NewManager()
	first := uuid.New()
	second := uuid.New()

	lease, err := m.Acquire(context.Background(), first, []string{"case/a"})
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, second, []string{"case/a"})
	require.Error(t, err)

	var ce *ContentionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "case/a", ce.Key)
	assert.Equal(t, first, ce.Holder)
}

func TestFailedAcquireReleasesPartialProgress(t *testing.T) {
	m := NewManager()
	blocker := uuid.New()
	waiter := uuid.New()

	blocking, err := m.Acquire(context.Background(), blocker, []string{"z/blocked"})
	require.NoError(t, err)
	defer blocking.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// "a/free" is taken first (sorted order), then "z/blocked" times out.
	_, err = m.Acquire(ctx, waiter, []string{"z/blocked", "a/free"})
	require.Error(t, err)

	// The partially acquired key must be free again.
	_, _, held := m.Holder("a/free")
	assert.False(t, held, "a/free leaked after failed acquisition")
}

func TestDisjointLocksRunConcurrently(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rb := uuid.New()
			key := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				lease, err := m.Acquire(context.Background(), rb, []string{"entity/" + key})
				if err != nil {
					errs <- err
					return
				}
				lease.Release()
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("disjoint acquisition failed: %v", err)
	}
}

func TestWaiterProceedsAfterRelease(t *testing.T) {
	m := NewManager()
	first := uuid.New()
	second := uuid.New()

	lease, err := m.Acquire(context.Background(), first, []string{"case/a"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		l, err := m.Acquire(context.Background(), second, []string{"case/a"})
		if err == nil {
			l.Release()
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	lease.Release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not proceed after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager()
	rb := uuid.New()

	lease, err := m.Acquire(context.Background(), rb, []string{"case/a"})
	require.NoError(t, err)

	lease.Release()
	lease.Release() // must not panic on the closed channel

	other, err := m.Acquire(context.Background(), uuid.New(), []string{"case/a"})
	require.NoError(t, err)
	other.Release()
}
