package script

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("script engine closed")
	ErrScriptTimeout = errors.New("script execution timeout exceeded")
)

// JSError is a JavaScript exception or rejection reason seen from Go
type JSError struct {
	Name    string
	Message string
	Stack   string
}

func (e *JSError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Kind names the error on a channel
func (e *JSError) Kind() string {
	if e.Name == "" {
		return "Error"
	}
	return e.Name
}

// Fields exposes the error for diagnostics
func (e *JSError) Fields() map[string]any {
	return map[string]any{"name": e.Name, "message": e.Message}
}

// StackTrace returns the JavaScript stack, if captured
func (e *JSError) StackTrace() string { return e.Stack }
