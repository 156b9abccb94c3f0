package postgrest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Response is the unmodified answer of the server.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into dst.
func (r *Response) JSON(dst any) error {
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// ErrNoCount is returned by Count when the response carries no total.
var ErrNoCount = errors.New("response has no total count")

// Count parses the total from a Content-Range header such as "0-24/3573".
func (r *Response) Count() (int64, error) {
	cr := r.Header.Get("Content-Range")
	_, total, found := strings.Cut(cr, "/")
	if !found || total == "*" {
		return 0, ErrNoCount
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse content-range %q: %w", cr, err)
	}
	return n, nil
}

// APIError is a PostgREST error body.
type APIError struct {
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgrest: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("postgrest: %d: %s", e.StatusCode, e.Message)
}

// APIError decodes a non-2xx response body. It reports false for successful
// responses and for bodies that are not a JSON object with a message.
func (r *Response) APIError() (*APIError, bool) {
	if r.IsSuccess() {
		return nil, false
	}
	var e APIError
	if err := json.Unmarshal(r.Body, &e); err != nil || e.Message == "" {
		return nil, false
	}
	e.StatusCode = r.StatusCode
	return &e, true
}
