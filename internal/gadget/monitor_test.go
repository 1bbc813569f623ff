package gadget

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorRejectsOnce(t *testing.T) {
	var rejects atomic.Int32
	var reason atomic.Value
	m := NewMonitor(context.Background(), func(err error) {
		rejects.Add(1)
		reason.Store(err)
	})

	first := errors.New("first")
	require.NoError(t, m.Track(func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("after cancel")
	}))
	require.NoError(t, m.Track(func(context.Context) error { return first }))

	recv(t, m.Done())
	m.Wait()

	assert.Equal(t, int32(1), rejects.Load())
	assert.Equal(t, first, reason.Load())
	assert.Equal(t, first, m.Err())
	assert.Error(t, m.Context().Err())

	var resolved *ResolvedAggregatorError
	assert.ErrorAs(t, m.Track(func(context.Context) error { return nil }), &resolved)
}

func TestMonitorIgnoresCancellation(t *testing.T) {
	m := NewMonitor(context.Background(), func(error) { t.Error("unexpected rejection") })

	require.NoError(t, m.Track(func(context.Context) error { return context.Canceled }))
	require.NoError(t, m.Track(func(context.Context) error { return nil }))
	m.Wait()

	assert.NoError(t, m.Err())
	select {
	case <-m.Done():
		t.Fatal("monitor resolved")
	default:
	}
}

func TestMonitorCancel(t *testing.T) {
	m := NewMonitor(context.Background(), func(error) { t.Error("unexpected rejection") })

	started := make(chan struct{})
	require.NoError(t, m.Track(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return errors.New("stopped")
	}))
	recv(t, started)

	m.Cancel()
	m.Cancel()
	m.Wait()

	assert.ErrorIs(t, m.Err(), context.Canceled)
	var resolved *ResolvedAggregatorError
	assert.ErrorAs(t, m.Track(func(context.Context) error { return nil }), &resolved)
}

func TestMonitorFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	m := NewMonitor(parent, nil)

	cancel()
	recv(t, m.Context().Done())
}
