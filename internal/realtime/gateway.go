// Package realtime opens one inbound event channel per subscription, either
// a server-sent event stream or, when that kind of transport is unavailable,
// a websocket.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/events"
)

// Kind names a transport.
type Kind string

const (
	KindNone      Kind = "none"
	KindSSE       Kind = "sse"
	KindWebSocket Kind = "websocket"
)

// ErrUnavailable means no configured transport kind could be used against
// the authority. It does not cover network failures.
var ErrUnavailable = errors.New("no realtime transport available")

// Scope selects which stream to open: a single project or the admin view
// of all jobs.
type Scope struct {
	ProjectID int64
	Admin     bool
}

// ProjectScope returns the scope for one project's jobs.
func ProjectScope(id int64) Scope { return Scope{ProjectID: id} }

// AdminScope returns the global admin scope.
func AdminScope() Scope { return Scope{Admin: true} }

func (s Scope) String() string {
	if s.Admin {
		return "admin"
	}
	return "project:" + strconv.FormatInt(s.ProjectID, 10)
}

func (s Scope) operations() (stream, socket client.Operation, params client.Params) {
	if s.Admin {
		return client.OpAdminEvents, client.OpAdminSocket, nil
	}
	return client.OpProjectEvents, client.OpProjectSocket,
		client.Params{"project_id": strconv.FormatInt(s.ProjectID, 10)}
}

// Options configures a Gateway.
type Options struct {
	// Transports lists the kinds to try, in order. Defaults to SSE then
	// websocket.
	Transports       []Kind
	HandshakeTimeout time.Duration
}

// Gateway opens Channels against the authority behind a Resolver.
type Gateway struct {
	resolver   *client.Resolver
	transports []Kind
	dialer     *websocket.Dialer

	// handshakeTimeout bounds the wait for SSE response headers.
	handshakeTimeout time.Duration
}

// NewGateway returns a Gateway using res for route discovery and auth.
func NewGateway(res *client.Resolver, opts Options) *Gateway {
	transports := opts.Transports
	if len(transports) == 0 {
		transports = []Kind{KindSSE, KindWebSocket}
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		resolver:         res,
		transports:       transports,
		handshakeTimeout: timeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

// Open establishes exactly one transport for scope. Transport kinds are
// tried in order, moving to the next only when the current kind is
// unavailable. A network failure is returned as is without trying another
// kind. The Channel lives until Close is called or ctx is canceled.
func (g *Gateway) Open(ctx context.Context, scope Scope) (*Channel, error) {
	var reasons []string
	for _, kind := range g.transports {
		var (
			ch  *Channel
			err error
		)
		switch kind {
		case KindSSE:
			ch, err = g.openSSE(ctx, scope)
		case KindWebSocket:
			ch, err = g.openWebSocket(ctx, scope)
		default:
			err = fmt.Errorf("%w: unknown transport %q", errUnavailableKind, kind)
		}
		if err == nil {
			log.Debug().Str("scope", scope.String()).Str("transport", string(kind)).Msg("realtime channel open")
			return ch, nil
		}
		if !errors.Is(err, errUnavailableKind) {
			return nil, err
		}
		log.Debug().Str("scope", scope.String()).Str("transport", string(kind)).Err(err).Msg("transport unavailable")
		reasons = append(reasons, err.Error())
	}
	return nil, fmt.Errorf("%w for %s: %s", ErrUnavailable, scope, strings.Join(reasons, "; "))
}

// errUnavailableKind marks a single transport kind as unusable, which is the
// only condition that moves Open on to the next kind.
var errUnavailableKind = errors.New("transport unavailable")

// allNotFound reports whether err is resolver exhaustion where every
// candidate answered 404, as opposed to being unreachable.
func allNotFound(err error) bool {
	var exhausted *client.ExhaustedError
	if !errors.As(err, &exhausted) {
		return false
	}
	for _, a := range exhausted.Attempts {
		if a.Err != nil {
			return false
		}
	}
	return true
}

// Channel delivers validated events from one transport.
type Channel struct {
	kind   Kind
	events chan events.Event
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	closer func() error
}

func newChannel(kind Kind, cancel context.CancelFunc, closer func() error) *Channel {
	return &Channel{
		kind:   kind,
		events: make(chan events.Event),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		cancel: cancel,
		closer: closer,
	}
}

// Kind reports which transport the Channel uses.
func (c *Channel) Kind() Kind { return c.kind }

// Events is closed when the transport ends.
func (c *Channel) Events() <-chan events.Event { return c.events }

// Done is closed once Close has been called.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close shuts the transport down and waits for the reader to exit, so no
// event is delivered after it returns. Calling it again is a no-op.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		if c.closer != nil {
			err = c.closer()
		}
		<-c.exited
	})
	return err
}

// run drives read, which returns raw messages until the transport ends.
func (c *Channel) run(scope Scope, read func() ([]byte, error)) {
	defer close(c.exited)
	defer close(c.events)
	for {
		msg, err := read()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Debug().Str("scope", scope.String()).Str("transport", string(c.kind)).Err(err).Msg("realtime channel ended")
			}
			return
		}
		ev, err := events.Parse(msg)
		if err != nil {
			log.Debug().Str("scope", scope.String()).Err(err).Msg("dropping event")
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
