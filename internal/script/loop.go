package script

import (
	"fmt"
	"sync"
)

// Loop serializes every use of one goja runtime onto a single goroutine.
// The queue is unbounded so Do never blocks, including from inside a job.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wakeup chan struct{}
	stop   chan struct{}
	done   chan struct{}

	onPanic func(any)
}

// NewLoop starts a loop goroutine
func NewLoop(onPanic func(any)) *Loop {
	l := &Loop{
		wakeup:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	go l.run()
	return l
}

// Do queues fn. It reports false once the loop is stopped.
func (l *Loop) Do(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
	return true
}

// Stop ends the loop; queued jobs that have not started are dropped
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	close(l.stop)
	<-l.done
}

// Done is closed when the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		jobs := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, job := range jobs {
			select {
			case <-l.stop:
				return
			default:
			}
			l.exec(job)
		}

		if len(jobs) > 0 {
			continue
		}
		select {
		case <-l.wakeup:
		case <-l.stop:
			return
		}
	}
}

func (l *Loop) exec(job func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(fmt.Errorf("loop job panicked: %v", r))
		}
	}()
	job()
}
