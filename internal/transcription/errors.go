package transcription

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched against the server's message by StatusError.Is
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// TransportError reports a request that never produced an HTTP response,
// after every retry was spent.
type TransportError struct {
	Method   string
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Method, e.Endpoint, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response. Message is taken from the decoded
// body when the server sent its usual envelope.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Endpoint, e.StatusCode)
}

// Is lets errors.Is match ErrSessionNotFound and ErrSessionExists
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrSessionNotFound, ErrSessionExists:
		return strings.EqualFold(e.Message, target.Error())
	}
	return false
}

// DecodeError reports a response body that is not the JSON the endpoint promises
type DecodeError struct {
	Endpoint string
	Body     []byte
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsStatus reports whether err is, or wraps, a StatusError
func IsStatus(err error) bool {
	var target *StatusError
	return errors.As(err, &target)
}

// IsDecode reports whether err is, or wraps, a DecodeError
func IsDecode(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var target *StatusError
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}
