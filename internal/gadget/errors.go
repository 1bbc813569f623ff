package gadget

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
)

// FetchError is returned when a gadget document cannot be retrieved or is
// not markup
type FetchError struct {
	URL         string
	Status      int
	ContentType string
	Err         error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	case e.ContentType != "":
		return fmt.Sprintf("fetch %s: unexpected content type %q", e.URL, e.ContentType)
	default:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }
func (e *FetchError) Kind() string  { return "FetchError" }

func (e *FetchError) Fields() map[string]any {
	return map[string]any{"url": e.URL, "status": e.Status, "content_type": e.ContentType}
}

// ParseError reports a class definition violating the markup contract
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.URL, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }
func (e *ParseError) Kind() string  { return "ParseError" }

func (e *ParseError) Fields() map[string]any {
	return map[string]any{"url": e.URL}
}

// UnsupportedEmbodimentError reports an unknown sandbox mode
type UnsupportedEmbodimentError struct {
	Sandbox string
}

func (e *UnsupportedEmbodimentError) Error() string {
	return fmt.Sprintf("Unsupported sandbox options '%s'", e.Sandbox)
}

func (e *UnsupportedEmbodimentError) Kind() string { return "UnsupportedEmbodimentError" }

// PreconditionError reports an isolated declaration on a missing or
// detached container
type PreconditionError struct {
	URL    string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s for %s", e.Reason, e.URL)
}

func (e *PreconditionError) Kind() string { return "PreconditionError" }

// LoadTimeoutError reports an isolated gadget that never sent ready
type LoadTimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *LoadTimeoutError) Error() string {
	return fmt.Sprintf("Timeout while loading: %s", e.URL)
}

func (e *LoadTimeoutError) Kind() string { return "LoadTimeoutError" }

func (e *LoadTimeoutError) Fields() map[string]any {
	return map[string]any{"url": e.URL, "timeout": e.Timeout.String()}
}

// AcquisitionError means no handler claimed a capability. It is the only
// failure that makes the acquisition walk continue upward.
type AcquisitionError struct {
	Message string
}

// NewAcquisitionError returns an AcquisitionError with the default message
// when msg is empty
func NewAcquisitionError(msg string) *AcquisitionError {
	if msg == "" {
		msg = "Acquisition failed"
	}
	return &AcquisitionError{Message: msg}
}

func (e *AcquisitionError) Error() string { return e.Message }
func (e *AcquisitionError) Kind() string  { return "AcquisitionError" }

// IsAcquisitionError reports whether err is "capability not claimed",
// including one that crossed a channel
func IsAcquisitionError(err error) bool {
	var aqErr *AcquisitionError
	if errors.As(err, &aqErr) {
		return true
	}
	var remote *channel.RemoteError
	return errors.As(err, &remote) && remote.Kind == "AcquisitionError"
}

// ResolvedAggregatorError is returned when tracking on a settled Monitor
type ResolvedAggregatorError struct{}

func (e *ResolvedAggregatorError) Error() string { return "monitor already resolved" }
func (e *ResolvedAggregatorError) Kind() string  { return "ResolvedAggregatorError" }

// UnknownScopeError reports a child scope that is not declared
type UnknownScopeError struct {
	Scope string
}

func (e *UnknownScopeError) Error() string {
	return fmt.Sprintf("Gadget scope '%s' is not known.", e.Scope)
}

func (e *UnknownScopeError) Kind() string { return "UnknownScopeError" }

// UnknownMethodError reports a call to a method the gadget does not have
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("gadget has no method %q", e.Method)
}

func (e *UnknownMethodError) Kind() string { return "UnknownMethodError" }
