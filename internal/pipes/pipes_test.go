package pipes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runDispatcher(t *testing.T, d *Dispatcher) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	})
	return cancel
}

func TestMainCompletionChannel(t *testing.T) {
	d := New(nil, nil)
	ran := false
	d.Register("chat", func(context.Context) error {
		ran = true
		return nil
	})
	runDispatcher(t, d)

	done, err := d.EnqueueMain("chat")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.True(t, ran)
	assert.False(t, d.MainRunning())
}

func TestSingleMainInvariant(t *testing.T) {
	d := New(nil, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	d.Register("slow", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	runDispatcher(t, d)

	done, err := d.EnqueueMain("slow")
	require.NoError(t, err)
	<-started

	// While the first main runs, a second is rejected.
	_, err = d.EnqueueMain("slow")
	assert.ErrorIs(t, err, ErrMainRunning)
	assert.True(t, d.MainRunning())

	close(release)
	require.NoError(t, <-done)

	// After completion a new main is accepted again.
	done2, err := d.EnqueueMain("slow2")
	require.NoError(t, err)
	<-done2
}

func TestFIFOOrder(t *testing.T) {
	d := New(nil, nil)
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		d.Register(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	// Queue everything before the consumer starts so order is deterministic.
	d.Enqueue("a")
	d.Enqueue("b")
	done, err := d.EnqueueMain("c")
	require.NoError(t, err)
	runDispatcher(t, d)

	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestUnknownProcessClearsMain(t *testing.T) {
	d := New(nil, nil)
	runDispatcher(t, d)

	done, err := d.EnqueueMain("nonexistent")
	require.NoError(t, err)
	err = <-done
	require.Error(t, err)

	// The main flag is released even though the process was unknown.
	assert.False(t, d.MainRunning())

	// Unknown side processes are dropped silently.
	d.Enqueue("also-nonexistent")
	assert.Eventually(t, func() bool { return d.QueueLen() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	d := New(nil, nil)
	d.Register("boom", func(context.Context) error { panic("handler bug") })
	d.Register("ok", func(context.Context) error { return nil })
	runDispatcher(t, d)

	done, err := d.EnqueueMain("boom")
	require.NoError(t, err)
	panicErr := <-done
	require.Error(t, panicErr)
	assert.Contains(t, panicErr.Error(), "panicked")

	// The consumer survives and keeps processing.
	done2, err := d.EnqueueMain("ok")
	require.NoError(t, err)
	require.NoError(t, <-done2)
}

func TestHandlerErrorPropagatesToMain(t *testing.T) {
	d := New(nil, nil)
	sentinel := errors.New("handler failed")
	d.Register("failing", func(context.Context) error { return sentinel })
	runDispatcher(t, d)

	done, err := d.EnqueueMain("failing")
	require.NoError(t, err)
	assert.ErrorIs(t, <-done, sentinel)
}

func TestShutdownFailsPendingMains(t *testing.T) {
	d := New(nil, nil)
	d.Register("chat", func(context.Context) error { return nil })

	// Not running: queued main fails once Run starts and immediately stops.
	ctx, cancel := context.WithCancel(context.Background())
	done, err := d.EnqueueMain("chat")
	require.NoError(t, err)
	cancel()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		d.Run(ctx)
	}()
	<-finished

	assert.ErrorIs(t, <-done, ErrNotRunning)

	// After shutdown new mains are rejected.
	_, err = d.EnqueueMain("chat")
	assert.ErrorIs(t, err, ErrNotRunning)
}
