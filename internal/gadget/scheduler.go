package gadget

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"go.uber.org/zap"
)

type jobRun struct {
	cancel context.CancelFunc
}

type queuedJob struct {
	name string
	args []any
}

// resetMonitor replaces the monitor, cancelling everything the previous
// one tracked. Jobs queue again until the next activation.
func (g *Gadget) resetMonitor() *Monitor {
	m := NewMonitor(g.page.ctx, g.reportFailure)

	g.mu.Lock()
	previous := g.monitor
	g.monitor = m
	g.jobs = make(map[string]*jobRun)
	g.jobsTriggered = false
	g.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	return m
}

// startService activates the gadget: a fresh monitor, every service
// started once, then the jobs queued while inactive
func (g *Gadget) startService() {
	m := g.resetMonitor()

	for _, svc := range g.klass.serviceList() {
		if err := m.Track(func(ctx context.Context) error { return svc(ctx, g) }); err != nil {
			return
		}
	}
	// listeners are attached before activation returns; only the wait is
	// tracked
	for _, ev := range g.klass.eventList() {
		wait, remove := g.listen(m.Context(), ev.typ, ev.handler)
		if err := m.Track(wait); err != nil {
			remove()
			return
		}
	}

	g.mu.Lock()
	g.jobsTriggered = true
	queue := g.jobQueue
	g.jobQueue = nil
	g.mu.Unlock()

	for _, j := range queue {
		if err := g.RunJob(j.name, j.args...); err != nil {
			g.page.logger.Warn("queued job not started",
				zap.String("gadget", g.path),
				zap.String("job", j.name),
				zap.Error(err))
		}
	}
}

// RunJob starts job name. Before activation the call is queued; after, a
// running invocation of the same job is cancelled first.
func (g *Gadget) RunJob(name string, args ...any) error {
	job, ok := g.klass.job(name)
	if !ok {
		return &UnknownMethodError{Method: name}
	}

	g.mu.Lock()
	if !g.jobsTriggered || g.monitor == nil {
		g.jobQueue = append(g.jobQueue, queuedJob{name: name, args: args})
		g.mu.Unlock()
		return nil
	}
	if previous, running := g.jobs[name]; running {
		previous.cancel()
	}
	m := g.monitor
	ctx, cancel := context.WithCancel(m.Context())
	run := &jobRun{cancel: cancel}
	g.jobs[name] = run
	g.mu.Unlock()

	return m.Track(func(context.Context) error {
		defer func() {
			cancel()
			g.mu.Lock()
			if g.jobs[name] == run {
				delete(g.jobs, name)
			}
			g.mu.Unlock()
		}()
		return job(ctx, g, args...)
	})
}

// reportFailure is the monitor rejection sink: the failure is offered to
// the reportServiceError capability, then the page crashes regardless
func (g *Gadget) reportFailure(err error) {
	g.page.metrics.IncMonitorRejects()

	ctx, cancel := g.page.callContext()
	defer cancel()

	if _, rerr := g.aqParent(ctx, CapabilityReportServiceError, []any{err}); rerr != nil {
		g.page.logger.Debug("service error not reported",
			zap.String("gadget", g.path),
			zap.Error(rerr))
	}
	g.page.Crash(err)
}

// listen attaches handler for typ on the gadget element. A new occurrence
// cancels the handler of the previous one. wait blocks until ctx ends or a
// handler fails, then removes the listener.
func (g *Gadget) listen(ctx context.Context, typ string, handler EventHandler) (wait func(context.Context) error, remove func()) {
	failures := make(chan error, 1)

	var mu sync.Mutex
	var cancelPrevious context.CancelFunc

	remove = g.page.doc.AddEventListener(g.element, typ, func(ev dom.Event) {
		mu.Lock()
		if cancelPrevious != nil {
			cancelPrevious()
		}
		hctx, cancel := context.WithCancel(ctx)
		cancelPrevious = cancel
		mu.Unlock()

		go func() {
			defer cancel()
			err := handler(hctx, g, ev)
			if err != nil && !errors.Is(err, context.Canceled) {
				select {
				case failures <- err:
				default:
				}
			}
		}()
	})

	wait = func(ctx context.Context) error {
		defer remove()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-failures:
			return err
		}
	}
	return wait, remove
}
