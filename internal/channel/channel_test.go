package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T, opts Options) (*Channel, *Channel) {
	t.Helper()
	a, b := Pipe()
	left, right := New(a, opts), New(b, opts)
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type kindedError struct{ msg string }

func (e *kindedError) Error() string { return e.msg }
func (e *kindedError) Kind() string  { return "AcquisitionError" }

func TestReadyHandshake(t *testing.T) {
	left, right := newPair(t, Options{})
	ctx := testContext(t)

	require.NoError(t, left.Ready(ctx))
	require.NoError(t, right.Ready(ctx))
}

func TestCall(t *testing.T) {
	left, right := newPair(t, Options{})
	ctx := testContext(t)

	right.Bind("echo", func(_ context.Context, _ *Transaction, params any) (any, error) {
		return params, nil
	})
	right.Bind("fail", func(context.Context, *Transaction, any) (any, error) {
		return nil, &kindedError{msg: "No gadget provides ping"}
	})
	right.Bind("plain", func(context.Context, *Transaction, any) (any, error) {
		return nil, errors.New("boom")
	})

	t.Run("result", func(t *testing.T) {
		got, err := left.Call(ctx, "echo", []any{"a", 1})
		require.NoError(t, err)
		assert.Equal(t, []any{"a", float64(1)}, got)
	})

	t.Run("kinded error", func(t *testing.T) {
		_, err := left.Call(ctx, "fail", nil)
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "AcquisitionError", remote.Kind)
		assert.Equal(t, "No gadget provides ping", remote.Message)
		assert.Equal(t, "AcquisitionError", ErrorKind(err))
	})

	t.Run("plain error", func(t *testing.T) {
		_, err := left.Call(ctx, "plain", nil)
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "Error", remote.Kind)
		assert.Equal(t, "boom", remote.Message)
	})

	t.Run("unbound", func(t *testing.T) {
		_, err := left.Call(ctx, "nope", nil)
		var remote *RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "MethodNotFound", remote.Kind)
	})
}

func TestDelayedReply(t *testing.T) {
	left, right := newPair(t, Options{})
	ctx := testContext(t)

	held := make(chan *Transaction, 1)
	right.Bind("slow", func(_ context.Context, tx *Transaction, _ any) (any, error) {
		tx.Delay()
		held <- tx
		return "ignored", nil
	})

	result := make(chan any, 1)
	go func() {
		got, err := left.Call(ctx, "slow", nil)
		assert.NoError(t, err)
		result <- got
	}()

	tx := <-held
	select {
	case <-result:
		t.Fatal("reply sent before Complete")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, tx.Complete("done"))
	assert.Equal(t, "done", <-result)
	assert.ErrorIs(t, tx.Complete("again"), ErrAlreadyReplied)
}

func TestNotify(t *testing.T) {
	left, right := newPair(t, Options{})
	ctx := testContext(t)

	got := make(chan any, 1)
	right.Bind(OpReady.String(), func(_ context.Context, _ *Transaction, params any) (any, error) {
		got <- params
		return nil, nil
	})

	require.NoError(t, left.Notify(ctx, OpReady.String(), "hello"))
	assert.Equal(t, "hello", <-got)
}

func TestCallTimeout(t *testing.T) {
	left, right := newPair(t, Options{CallTimeout: 30 * time.Millisecond})

	right.Bind("never", func(_ context.Context, tx *Transaction, _ any) (any, error) {
		tx.Delay()
		return nil, nil
	})

	_, err := left.Call(context.Background(), "never", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFailsPendingCalls(t *testing.T) {
	left, right := newPair(t, Options{})
	ctx := testContext(t)

	started := make(chan struct{})
	right.Bind("hang", func(_ context.Context, tx *Transaction, _ any) (any, error) {
		tx.Delay()
		close(started)
		return nil, nil
	})

	errs := make(chan error, 1)
	go func() {
		_, err := left.Call(ctx, "hang", nil)
		errs <- err
	}()

	<-started
	right.Close()

	assert.ErrorIs(t, <-errs, ErrClosed)
	<-left.Done()
	assert.ErrorIs(t, left.Err(), ErrClosed)
}

func TestScopeFiltering(t *testing.T) {
	a, b := Pipe()
	ch := New(a, Options{})
	defer ch.Close()

	var calls atomic.Int32
	ch.Bind("m", func(context.Context, *Transaction, any) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	ctx := testContext(t)
	send := func(scope string) {
		data, err := sonic.Marshal(&Message{Scope: scope, Method: "m"})
		require.NoError(t, err)
		require.NoError(t, b.Send(ctx, data))
	}

	// handshake from the raw end
	data, _ := sonic.Marshal(&Message{Scope: Scope, Method: readyMethod, Params: "ping"})
	require.NoError(t, b.Send(ctx, data))
	require.NoError(t, ch.Ready(ctx))

	send("other")
	send(Scope)

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ch := New(NewWebSocket(conn), Options{})
		ch.Bind("upper", func(_ context.Context, _ *Transaction, params any) (any, error) {
			s, _ := params.(string)
			return strings.ToUpper(s), nil
		})
		<-ch.Done()
	}))
	defer srv.Close()

	ctx := testContext(t)
	ws, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	client := New(ws, Options{})
	defer client.Close()

	got, err := client.Call(ctx, "upper", "gadget")
	require.NoError(t, err)
	assert.Equal(t, "GADGET", got)
}
