package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_CapacityEnforced(t *testing.T) {
	t.Parallel()
	g, err := New(2)
	require.NoError(t, err)

	var inFlight atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			require.NoError(t, err)
			defer release()

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGate_QueuesRatherThanFails(t *testing.T) {
	t.Parallel()
	g, err := New(1)
	require.NoError(t, err)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r2, err := g.Acquire(context.Background())
		assert.NoError(t, err)
		r2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should have queued behind the first")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued acquire never proceeded after release")
	}
}

func TestGate_AcquireHonoursContext(t *testing.T) {
	t.Parallel()
	g, err := New(1)
	require.NoError(t, err)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_TryAcquire(t *testing.T) {
	t.Parallel()
	g, err := New(1)
	require.NoError(t, err)

	release, ok := g.TryAcquire()
	require.True(t, ok)

	_, ok = g.TryAcquire()
	assert.False(t, ok)

	release()
	release2, ok := g.TryAcquire()
	assert.True(t, ok)
	release2()
}

func TestGate_RejectsNonPositiveCapacity(t *testing.T) {
	t.Parallel()
	_, err := New(0)
	assert.Error(t, err)
}
