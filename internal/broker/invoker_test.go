package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokerSerializesActions(t *testing.T) {
	iv := NewInvoker(16)
	iv.Start()
	defer iv.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	active := 0
	maxActive := 0

	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			iv.Invoke(func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				order = append(order, i)
				active--
				mu.Unlock()
				return nil
			}).Wait(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "actions must never overlap")
	assert.Len(t, order, 20)
}

func TestInvokerReentrantCallRunsInline(t *testing.T) {
	iv := NewInvoker(1)
	iv.Start()
	defer iv.Stop()

	ran := false
	err := iv.InvokeSync(context.Background(), func() error {
		// A nested Invoke from the loop goroutine must not deadlock
		// even with a full queue.
		return iv.Invoke(func() error {
			ran = true
			return nil
		}).Wait(context.Background())
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestInvokerPanicBecomesError(t *testing.T) {
	iv := NewInvoker(4)
	iv.Start()
	defer iv.Stop()

	err := iv.InvokeSync(context.Background(), func() error {
		panic("ocx blew up")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	// The loop must survive the panic.
	require.NoError(t, iv.InvokeSync(context.Background(), func() error { return nil }))
}

func TestInvokeAfterStopFailsFast(t *testing.T) {
	iv := NewInvoker(4)
	iv.Start()
	iv.Stop()

	done := make(chan error, 1)
	go func() {
		// The queue has room, so without the stopped check this would
		// enqueue onto the dead loop and block forever.
		done <- iv.InvokeSync(context.Background(), func() error { return nil })
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stopped")
	case <-time.After(time.Second):
		t.Fatal("post-stop invoke hung")
	}
}

func TestInvokerWaitHonorsContext(t *testing.T) {
	iv := NewInvoker(4)
	iv.Start()
	defer iv.Stop()

	release := make(chan struct{})
	iv.Invoke(func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := iv.InvokeSync(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
