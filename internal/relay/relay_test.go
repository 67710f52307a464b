package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
)

func quiet() logger.Logger {
	return logger.NewSlogWriter(io.Discard, logger.DebugLevel, false, false)
}

func TestRelayDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []loadport.EventKind
	r := New("test", 8, func(ev loadport.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Kind)
		return nil
	}, quiet())

	r.Handle(loadport.Event{Kind: loadport.EventStateChanged})
	r.Handle(loadport.Event{Kind: loadport.EventDataCollectionStart})
	r.Handle(loadport.Event{Kind: loadport.EventWarning})
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, []loadport.EventKind{
		loadport.EventStateChanged,
		loadport.EventDataCollectionStart,
		loadport.EventWarning,
	}, got)
	delivered, dropped, failed := r.Stats()
	assert.Equal(t, uint64(3), delivered)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestRelayDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	r := New("slow", 2, func(loadport.Event) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, quiet())

	r.Handle(loadport.Event{Kind: loadport.EventStateChanged})
	<-started

	// The sink holds one event; two fit in the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.Handle(loadport.Event{Kind: loadport.EventWarning})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on a full queue")
	}

	close(release)
	require.NoError(t, r.Close(context.Background()))
	delivered, dropped, _ := r.Stats()
	assert.Equal(t, uint64(3), delivered)
	assert.Equal(t, uint64(3), dropped)
}

func TestRelayCountsFailures(t *testing.T) {
	calls := 0
	r := New("flaky", 4, func(ev loadport.Event) error {
		calls++
		if calls == 1 {
			return errors.New("broker down")
		}
		if calls == 2 {
			panic("sink bug")
		}
		return nil
	}, quiet())

	for i := 0; i < 3; i++ {
		r.Handle(loadport.Event{Kind: loadport.EventStateChanged})
	}
	require.NoError(t, r.Close(context.Background()))

	delivered, _, failed := r.Stats()
	assert.Equal(t, uint64(1), delivered)
	assert.Equal(t, uint64(2), failed)
}

func TestRelayHandleAfterClose(t *testing.T) {
	r := New("closed", 1, func(loadport.Event) error { return nil }, quiet())
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	assert.NotPanics(t, func() { r.Handle(loadport.Event{Kind: loadport.EventWarning}) })
}

func TestRelayCloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	r := New("stuck", 1, func(loadport.Event) error {
		<-release
		return nil
	}, quiet())
	r.Handle(loadport.Event{Kind: loadport.EventWarning})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(release)
}
