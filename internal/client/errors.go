package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUnauthorized is matched by a RequestError carrying a 401.
var ErrUnauthorized = errors.New("unauthorized")

// RequestError is a non-success response from a reachable endpoint.
type RequestError struct {
	Status  int
	Message string
	URL     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *RequestError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Attempt records what happened when one candidate path was tried.
type Attempt struct {
	Path   string
	Status int
	Err    error
}

func (a Attempt) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s: %v", a.Path, a.Err)
	}
	return fmt.Sprintf("%s: %d", a.Path, a.Status)
}

// ExhaustedError means no candidate path produced a usable response.
type ExhaustedError struct {
	Operation Operation
	Attempts  []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.String())
	}
	return fmt.Sprintf("no endpoint found for %s; tried [%s]", e.Operation, strings.Join(parts, ", "))
}

// Candidates returns the attempted paths in order.
func (e *ExhaustedError) Candidates() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Path)
	}
	return out
}

// newRequestError reads a best-effort message from the conventional body
// fields error, detail or message, falling back to the status text.
func newRequestError(resp *http.Response) *RequestError {
	msg := ""
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var fields map[string]any
	if json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if s, ok := fields[key].(string); ok && s != "" {
				msg = s
				break
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = "request failed"
	}
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.String()
	}
	return &RequestError{Status: resp.StatusCode, Message: msg, URL: u}
}
