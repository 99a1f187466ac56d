// Package chaterr defines the error taxonomy shared by the chat subsystem.
package chaterr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by transport sends attempted while the
// connection state is not connected. Callers fall back to REST.
var ErrNotConnected = errors.New("transport not connected")

// ErrSessionEnded is returned when an operation's result arrives after the
// session it belonged to was torn down.
var ErrSessionEnded = errors.New("session ended")

// ConnectionError reports that the real-time transport could not be reached
// or rejected the credential.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection " + e.Op + " failed"
	}
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError reports a failed REST call: a network error (Status == 0) or a
// non-2xx response.
type FetchError struct {
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports input rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports that the remote service refused to create a resource
// because an equivalent one already exists.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return e.Resource + " already exists"
	}
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Message)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Message renders err as the single user-visible line shown in the view's
// error field. Remote messages win over transport detail.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Message != "" {
			return fe.Message
		}
		if fe.Status != 0 {
			return fmt.Sprintf("request failed with status %d", fe.Status)
		}
		return "network unavailable"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return "real-time connection unavailable"
	}
	if errors.Is(err, ErrNotConnected) {
		return "real-time connection unavailable"
	}
	return err.Error()
}
