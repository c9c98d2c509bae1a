package client

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// maxErrorBodyLength caps the response body text carried by errors.
const maxErrorBodyLength = 200

// AuthenticationError is returned when the login exchange fails or the API
// keeps rejecting the bearer token after a fresh login.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authentication failed, check your credentials"
	}

	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}

	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectionError is returned when the API cannot be reached. The
// underlying transport error is available through [errors.Unwrap].
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "failed to connect to Crow Cloud"
	}

	return "failed to connect to Crow Cloud: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError is returned when every attempt of a request timed out.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return "request timed out"
	}

	return "request timed out: " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RateLimitError is returned on HTTP 429. RetryAfter is nil when the
// response carried no usable Retry-After header.
type RateLimitError struct {
	RetryAfter *time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("rate limit exceeded, retry after %d seconds", int(e.RetryAfter.Seconds()))
	}

	return "rate limit exceeded"
}

// NotFoundError is returned on HTTP 404. Accessors fill in Resource and ID
// with the entity that was requested.
type NotFoundError struct {
	Resource string
	ID       string
	Path     string
	Body     string
}

func (e *NotFoundError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
	}

	return fmt.Sprintf("resource not found: %s", e.Path)
}

// InvalidMACError is returned when a MAC address does not reduce to twelve
// hexadecimal digits. No request is sent in that case.
type InvalidMACError struct {
	MAC string
}

func (e *InvalidMACError) Error() string {
	return fmt.Sprintf("invalid MAC address format: '%s', expected 12 hexadecimal characters", e.MAC)
}

// ResponseError is returned for non-2xx responses that have no more specific
// error type.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned an error response (status: %d)", e.StatusCode)
	}

	return fmt.Sprintf("API returned an error response (status: %d): %s", e.StatusCode, e.Body)
}

// StreamError is returned by [Stream.Run] when the connection is lost and
// automatic reconnection is disabled.
type StreamError struct {
	MAC string
	Err error
}

func (e *StreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("websocket stream for panel %s closed", e.MAC)
	}

	return fmt.Sprintf("websocket stream for panel %s failed: %v", e.MAC, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func truncateBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	s := string(body)
	if utf8.RuneCountInString(s) <= maxErrorBodyLength {
		return s
	}

	runes := []rune(s)

	return string(runes[:maxErrorBodyLength])
}
