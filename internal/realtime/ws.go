package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Server pings arrive well inside this window.
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

func (g *Gateway) openWebSocket(ctx context.Context, scope Scope) (*Channel, error) {
	_, op, params := scope.operations()
	candidates := g.resolver.Candidates(op, params)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: websocket: no routes for %s", errUnavailableKind, op)
	}

	var tried []string
	for _, path := range candidates {
		target, err := g.socketURL(path)
		if err != nil {
			return nil, err
		}
		conn, resp, err := g.dialer.DialContext(ctx, target, nil)
		if err == nil {
			return g.startSocket(ctx, scope, conn), nil
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			tried = append(tried, path)
			continue
		}
		if resp != nil {
			return nil, fmt.Errorf("websocket %s: status %d: %w", path, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket %s: %w", path, err)
	}
	return nil, fmt.Errorf("%w: websocket: not found at [%s]", errUnavailableKind, strings.Join(tried, ", "))
}

// socketURL maps the resolver's http(s) base to ws(s). Browsers cannot set
// headers on websocket upgrades, so the authority also accepts ?token=.
func (g *Gateway) socketURL(path string) (string, error) {
	u, err := url.Parse(g.resolver.BaseURL() + path)
	if err != nil {
		return "", fmt.Errorf("websocket url for %s: %w", path, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if tok := g.resolver.Token(); tok != "" {
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (g *Gateway) startSocket(ctx context.Context, scope Scope, conn *websocket.Conn) *Channel {
	connCtx, cancel := context.WithCancel(ctx)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	closer := func() error {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		return conn.Close()
	}
	ch := newChannel(KindWebSocket, cancel, closer)

	go func() {
		select {
		case <-connCtx.Done():
			ch.Close()
		case <-ch.exited:
		}
	}()

	read := func() ([]byte, error) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return nil, err
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			if mt != websocket.TextMessage {
				log.Debug().Str("scope", scope.String()).Int("type", mt).Msg("ignoring non-text frame")
				continue
			}
			return msg, nil
		}
	}
	go ch.run(scope, read)
	return ch
}
