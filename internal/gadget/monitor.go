package gadget

import (
	"context"
	"errors"
	"sync"
)

// Monitor aggregates a gadget's background operations. The first failure
// other than cancellation rejects it: every tracked operation is
// cancelled, then the rejection sink is called once.
type Monitor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	onReject func(error)

	mu       sync.Mutex
	resolved bool
	err      error
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor whose operations run under a child of
// parent. onReject may be nil.
func NewMonitor(parent context.Context, onReject func(error)) *Monitor {
	ctx, cancel := context.WithCancel(parent)
	return &Monitor{
		ctx:      ctx,
		cancel:   cancel,
		onReject: onReject,
		done:     make(chan struct{}),
	}
}

// Track runs fn on its own goroutine under the monitor's context
func (m *Monitor) Track(fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.resolved {
		m.mu.Unlock()
		return &ResolvedAggregatorError{}
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := fn(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.reject(err)
		}
	}()
	return nil
}

func (m *Monitor) reject(err error) {
	if !m.settle(err) {
		return
	}
	if m.onReject != nil {
		m.onReject(err)
	}
}

// settle resolves the monitor once and cancels its operations
func (m *Monitor) settle(err error) bool {
	m.mu.Lock()
	if m.resolved {
		m.mu.Unlock()
		return false
	}
	m.resolved = true
	m.err = err
	m.mu.Unlock()

	m.cancel()
	close(m.done)
	return true
}

// Cancel stops every tracked operation without reporting. It is a no-op
// on a resolved monitor.
func (m *Monitor) Cancel() {
	m.settle(context.Canceled)
}

// Context is cancelled when the monitor resolves
func (m *Monitor) Context() context.Context { return m.ctx }

// Done is closed when the monitor resolves
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Err returns the rejection reason, context.Canceled after Cancel, or nil
// while the monitor is pending
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until every tracked operation has returned
func (m *Monitor) Wait() {
	m.wg.Wait()
}
