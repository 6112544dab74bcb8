package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
)

// TransportError reports a query that never produced an HTTP response:
// connection failures, timeouts and cancellation.
type TransportError struct {
	Expr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	return fmt.Sprintf("transport error querying %q: %v", e.Expr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError reports a response the backend marked as failed. Status is the
// HTTP status code, or 0 when the failure was reported inside a 2xx body.
type BackendError struct {
	Expr    string
	Status  int
	Type    string
	Message string
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString("backend error")
	if e.Expr != "" {
		fmt.Fprintf(&b, " querying %q", e.Expr)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, ": %s", e.Type)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// ParseError reports a response body that could not be decoded into series
type ParseError struct {
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed response for %q: %v", e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// newBackendError builds a BackendError from a non-2xx response, picking up the
// Prometheus error envelope when the body carries one.
func newBackendError(status int, body []byte) *BackendError {
	berr := &BackendError{Status: status}
	var envelope struct {
		ErrorType string `json:"errorType"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		berr.Type = envelope.ErrorType
		berr.Message = envelope.Error
	} else if len(body) > 0 {
		msg := string(body)
		if len(msg) > 256 {
			msg = msg[:256]
		}
		berr.Message = strings.TrimSpace(msg)
	}
	return berr
}

// classify maps whatever the v1 API returned onto the three leaf error types
func classify(expr string, err error) error {
	var terr *TransportError
	if errors.As(err, &terr) {
		terr.Expr = expr
		return terr
	}
	var berr *BackendError
	if errors.As(err, &berr) {
		berr.Expr = expr
		return berr
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		perr.Expr = expr
		return perr
	}
	var apiErr *v1.Error
	if errors.As(err, &apiErr) {
		if apiErr.Type == v1.ErrBadResponse {
			return &ParseError{Expr: expr, Err: apiErr}
		}
		return &BackendError{Expr: expr, Type: string(apiErr.Type), Message: apiErr.Msg}
	}
	// Anything else came out of decoding the result payload
	return &ParseError{Expr: expr, Err: err}
}
