package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Transaction is one inbound request. A handler that cannot answer before
// returning calls Delay and later Complete or Error, from any goroutine.
type Transaction struct {
	ch     *Channel
	id     string
	method string

	delayed atomic.Bool
	once    sync.Once
}

// Method returns the requested method
func (tx *Transaction) Method() string { return tx.method }

// Delay detaches the reply from the handler's return
func (tx *Transaction) Delay() { tx.delayed.Store(true) }

// Delayed reports whether Delay was called
func (tx *Transaction) Delayed() bool { return tx.delayed.Load() }

// Complete replies with result
func (tx *Transaction) Complete(result any) error {
	return tx.reply(&Message{Scope: tx.ch.scope, ID: tx.id, Result: result})
}

// Error replies with err, preserving its kind
func (tx *Transaction) Error(err error) error {
	return tx.reply(&Message{
		Scope:   tx.ch.scope,
		ID:      tx.id,
		Error:   ErrorKind(err),
		Message: ErrorMessage(err),
	})
}

func (tx *Transaction) reply(msg *Message) error {
	err := ErrAlreadyReplied
	tx.once.Do(func() {
		err = tx.ch.send(context.Background(), msg)
	})
	return err
}
