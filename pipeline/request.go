package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthExpired is returned when the backend answers 401 and the pipeline
// has no refresh left to try: the request was the refresh call itself, or it
// was already resent once with a refreshed token.
var ErrAuthExpired = errors.New("authorization expired")

// NetworkError is a transport-level failure. The pipeline never retries it.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Request describes one outbound call. It is never modified by the
// pipeline, so the same value can be sent again.
type Request struct {
	Method string
	Path   string // relative to the pipeline base URL
	Header http.Header
	Body   any // JSON-encoded when non-nil

	// Refresh marks the credential refresh call. It is sent with the
	// caller's own Authorization header and never triggers a refresh.
	Refresh bool

	// Anonymous requests (login) carry no bearer token, and a 401 is handed
	// back as a plain response.
	Anonymous bool
}

// NewRequest is a convenience constructor for a JSON request.
func NewRequest(method, path string, body any) Request {
	return Request{Method: method, Path: path, Body: body}
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", r.StatusCode, err)
	}
	return nil
}

// attempt tracks one originating Send call. retried goes false→true at most
// once, which bounds every request to a single resend.
type attempt struct {
	req     Request
	id      string
	body    []byte
	retried bool
}
