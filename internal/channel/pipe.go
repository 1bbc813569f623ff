package channel

import (
	"context"
	"sync"
)

// Transport carries encoded messages between two execution contexts
type Transport interface {
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next message; it fails with ErrClosed once
	// either end is closed
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

const pipeBuffer = 64

type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns the two ends of an in-process transport. Closing either end
// closes both.
func Pipe() (Transport, Transport) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	buf := append([]byte(nil), data...)
	select {
	case p.out <- buf:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
