package channel

import (
	"errors"
	"fmt"
)

// Scope namespaces gadget traffic so unrelated channels can share a transport
const Scope = "renderJS"

// Op is a gadget channel operation
type Op string

const (
	// OpDeclareMethod: child announces a remotely callable method (params: name)
	OpDeclareMethod Op = "declareMethod"
	// OpMethodCall: parent invokes a child method (params: [name, args])
	OpMethodCall Op = "methodCall"
	// OpReady: child finished its bootstrap
	OpReady Op = "ready"
	// OpFailed: child bootstrap failed (params: reason)
	OpFailed Op = "failed"
	// OpAcquire: child asks the parent chain for a capability (params: [name, args])
	OpAcquire Op = "acquire"
)

func (o Op) String() string { return string(o) }

const readyMethod = "__ready"

var (
	ErrClosed         = errors.New("channel closed")
	ErrUnknownMethod  = errors.New("method not bound")
	ErrAlreadyReplied = errors.New("transaction already completed")
)

// Message is the wire format. A request carries ID and Method, a response
// carries ID only, a notification carries Method only.
type Message struct {
	Scope   string `json:"scope"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method,omitempty"`
	Params  any    `json:"params,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (m *Message) isRequest() bool      { return m.ID != "" && m.Method != "" }
func (m *Message) isResponse() bool     { return m.ID != "" && m.Method == "" }
func (m *Message) isNotification() bool { return m.ID == "" && m.Method != "" }

func (m *Message) kind() string {
	switch {
	case m.isRequest():
		return "request"
	case m.isResponse():
		return "response"
	case m.isNotification():
		return "notify"
	default:
		return "invalid"
	}
}

// Kinded errors name their kind on the wire
type Kinded interface {
	error
	Kind() string
}

// RemoteError is an error that crossed a channel
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Fields exposes the error for diagnostics
func (e *RemoteError) Fields() map[string]any {
	return map[string]any{"kind": e.Kind, "message": e.Message}
}

// ErrorKind returns the wire kind of err
func ErrorKind(err error) string {
	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind
	}
	return "Error"
}

// ErrorMessage returns the wire message of err; remote errors keep their
// original message rather than the "kind: message" rendering.
func ErrorMessage(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return err.Error()
}
