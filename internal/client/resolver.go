package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Request describes the parts of an HTTP call that do not depend on which
// candidate path is tried. Body is re-sent for every attempt.
type Request struct {
	Method string
	Query  url.Values
	Body   []byte
	Header http.Header
	// Stream selects the HTTP client without a total timeout, for long-lived
	// responses such as event streams.
	Stream bool
}

// Resolver locates a reachable endpoint for an Operation by trying its
// candidate paths in order.
//
// The first response whose status is not 404 wins, even if it is an error:
// an error from a reachable endpoint is more useful than continuing to guess.
// A transient failure on an early candidate therefore hides a working later
// one; route layout is assumed fixed per deployment.
type Resolver struct {
	baseURL string
	routes  Routes
	token   string
	http    *http.Client
	stream  *http.Client
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	BaseURL string
	Routes  Routes
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the client used for both plain and stream calls.
	HTTPClient *http.Client
}

// NewResolver returns a Resolver for the authority at opts.BaseURL.
func NewResolver(opts ResolverOptions) *Resolver {
	routes := opts.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := &Resolver{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		routes:  routes,
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
	}
	if opts.HTTPClient != nil {
		r.http = opts.HTTPClient
		r.stream = opts.HTTPClient
	}
	return r
}

// BaseURL returns the authority base URL without a trailing slash.
func (r *Resolver) BaseURL() string { return r.baseURL }

// Token returns the session token sent with every request.
func (r *Resolver) Token() string { return r.token }

// SetToken replaces the session token.
func (r *Resolver) SetToken(token string) { r.token = token }

// Candidates returns the expanded candidate paths for op.
func (r *Resolver) Candidates(op Operation, params Params) []string {
	templates := r.routes[op]
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, Expand(t, params))
	}
	return out
}

// Do tries each candidate for op and returns the first response that is not
// a 404. The caller owns the response body. When every candidate is 404 or
// unreachable, Do returns an *ExhaustedError naming all of them.
func (r *Resolver) Do(ctx context.Context, op Operation, params Params, req Request) (*http.Response, error) {
	candidates := r.Candidates(op, params)
	if len(candidates) == 0 {
		return nil, &ExhaustedError{Operation: op}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	client := r.http
	if req.Stream {
		client = r.stream
	}

	attempts := make([]Attempt, 0, len(candidates))
	for _, path := range candidates {
		httpReq, err := r.newRequest(ctx, method, path, req)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug().Str("op", string(op)).Str("path", path).Err(err).Msg("candidate unreachable")
			attempts = append(attempts, Attempt{Path: path, Err: err})
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
			attempts = append(attempts, Attempt{Path: path, Status: resp.StatusCode})
			continue
		}
		return resp, nil
	}
	return nil, &ExhaustedError{Operation: op, Attempts: attempts}
}

func (r *Resolver) newRequest(ctx context.Context, method, path string, req Request) (*http.Request, error) {
	u := r.baseURL + path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}
	return httpReq, nil
}
