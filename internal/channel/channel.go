package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/gadgetry/internal/shared/id"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Handler serves one bound method. Its return value is the reply unless
// the handler called tx.Delay.
type Handler func(ctx context.Context, tx *Transaction, params any) (any, error)

// Options configure a Channel
type Options struct {
	// Scope defaults to Scope
	Scope string
	// CallTimeout bounds calls whose context has no deadline; zero waits
	CallTimeout time.Duration
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
	// Handlers are bound before the first message is read
	Handlers map[string]Handler
}

// Channel is a scoped request/response/notify link over a Transport
type Channel struct {
	scope       string
	transport   Transport
	callTimeout time.Duration
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]chan *Message

	ready     chan struct{}
	readyOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New starts a channel over transport and begins the ready handshake
func New(transport Transport, opts Options) *Channel {
	if opts.Scope == "" {
		opts.Scope = Scope
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		scope:       opts.Scope,
		transport:   transport,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger.Named("channel"),
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		handlers:    make(map[string]Handler),
		pending:     make(map[string]chan *Message),
		ready:       make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for method, handler := range opts.Handlers {
		c.handlers[method] = handler
	}

	go c.readLoop()

	if err := c.send(ctx, &Message{Scope: c.scope, Method: readyMethod, Params: "ping"}); err != nil {
		c.shutdown(err)
	}
	return c
}

// Bind installs handler for method, replacing any previous one
func (c *Channel) Bind(method string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = handler
}

// Unbind removes method
func (c *Channel) Unbind(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, method)
}

// Ready blocks until the peer answered the handshake
func (c *Channel) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.closed:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call sends a request and waits for its reply. Error replies come back
// as *RemoteError.
func (c *Channel) Call(ctx context.Context, method string, params any) (any, error) {
	if c.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}
	}

	if err := c.Ready(ctx); err != nil {
		return nil, err
	}

	callID := id.NewCallID().String()
	replies := make(chan *Message, 1)

	c.mu.Lock()
	c.pending[callID] = replies
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
	}()

	timer := monitoring.NewTimer(c.metrics, method)
	if err := c.send(ctx, &Message{Scope: c.scope, ID: callID, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		timer.Stop()
		if reply.Error != "" {
			return nil, &RemoteError{Kind: reply.Error, Message: reply.Message}
		}
		return reply.Result, nil
	case <-c.closed:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Notify sends a message that expects no reply
func (c *Channel) Notify(ctx context.Context, method string, params any) error {
	if err := c.Ready(ctx); err != nil {
		return err
	}
	return c.send(ctx, &Message{Scope: c.scope, Method: method, Params: params})
}

// Close tears the channel down and fails pending calls
func (c *Channel) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// Done is closed once the channel is closed
func (c *Channel) Done() <-chan struct{} { return c.closed }

// Err returns why the channel closed
func (c *Channel) Err() error {
	select {
	case <-c.closed:
		return c.closeErr
	default:
		return nil
	}
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.cancel()
		if cerr := c.transport.Close(); cerr != nil {
			c.logger.Debug("transport close", zap.Error(cerr))
		}
	})
}

func (c *Channel) send(ctx context.Context, msg *Message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.kind(), err)
	}
	select {
	case <-c.closed:
		return c.Err()
	default:
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return err
	}
	c.metrics.RecordChannelMessage("out", msg.kind())
	return nil
}

func (c *Channel) readLoop() {
	for {
		data, err := c.transport.Receive(c.ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				c.logger.Debug("receive failed", zap.Error(err))
			}
			c.shutdown(ErrClosed)
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping undecodable message", zap.Error(err))
			continue
		}
		if msg.Scope != c.scope {
			continue
		}
		c.metrics.RecordChannelMessage("in", msg.kind())
		c.route(&msg)
	}
}

func (c *Channel) route(msg *Message) {
	switch {
	case msg.Method == readyMethod:
		c.readyOnce.Do(func() { close(c.ready) })
		if msg.Params == "ping" {
			_ = c.send(c.ctx, &Message{Scope: c.scope, Method: readyMethod, Params: "pong"})
		}

	case msg.isResponse():
		c.mu.Lock()
		replies, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("reply for unknown call", zap.String("id", msg.ID))
			return
		}
		select {
		case replies <- msg:
		default:
			c.logger.Debug("duplicate reply", zap.String("id", msg.ID))
		}

	case msg.isRequest(), msg.isNotification():
		c.mu.Lock()
		handler, ok := c.handlers[msg.Method]
		c.mu.Unlock()
		go c.serve(msg, handler, ok)

	default:
		c.logger.Warn("dropping malformed message")
	}
}

func (c *Channel) serve(msg *Message, handler Handler, bound bool) {
	tx := &Transaction{ch: c, id: msg.ID, method: msg.Method}

	if !bound {
		if msg.isRequest() {
			_ = tx.Error(&RemoteError{Kind: "MethodNotFound", Message: msg.Method})
		} else {
			c.logger.Debug("notification for unbound method", zap.String("method", msg.Method))
		}
		return
	}

	result, err := handler(c.ctx, tx, msg.Params)

	if msg.isNotification() {
		if err != nil {
			c.logger.Warn("notification handler failed",
				zap.String("method", msg.Method),
				zap.Error(err))
		}
		return
	}
	if tx.Delayed() {
		return
	}
	if err != nil {
		_ = tx.Error(err)
		return
	}
	_ = tx.Complete(result)
}
