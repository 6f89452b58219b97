package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/events"
)

const (
	snapshotMsg = `{"type":"queue_snapshot","jobs":[{"id":1,"project_id":7,"type":"render","status":"running","progress_percent":50}]}`
	progressMsg = `{"type":"progress","job_id":1,"progress_percent":80}`
)

func sseHandler(messages ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": connected\n\n")
		for _, m := range messages {
			fmt.Fprintf(w, "data: %s\n\n", m)
		}
		flusher.Flush()
		<-r.Context().Done()
	}
}

func wsHandler(t *testing.T, messages ...string) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, m := range messages {
			conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func newAuthority(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(baseURL string, opts Options) *Gateway {
	res := client.NewResolver(client.ResolverOptions{BaseURL: baseURL, Token: "tok"})
	return NewGateway(res, opts)
}

func receive(t *testing.T, ch *Channel) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestOpen_SSEDropsMalformedMessages(t *testing.T) {
	srv := newAuthority(t, map[string]http.HandlerFunc{
		"/api/projects/7/events": sseHandler(snapshotMsg, `{"type":"bogus"}`, `not json`, progressMsg),
	})
	ch, err := newGateway(srv.URL, Options{}).Open(context.Background(), ProjectScope(7))
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, KindSSE, ch.Kind())
	first := receive(t, ch)
	assert.Equal(t, events.KindQueueSnapshot, first.Kind)
	require.Len(t, first.Jobs, 1)

	second := receive(t, ch)
	assert.Equal(t, events.KindProgress, second.Kind)
	assert.Equal(t, int64(1), second.JobID)
	require.NotNil(t, second.Patch.ProgressPercent.Value)
	assert.Equal(t, 80, *second.Patch.ProgressPercent.Value)
}

func TestOpen_FallsBackToWebSocketWhenStreamNotFound(t *testing.T) {
	srv := newAuthority(t, map[string]http.HandlerFunc{
		"/ws/admin/jobs": wsHandler(t, snapshotMsg, "pong", progressMsg),
	})
	ch, err := newGateway(srv.URL, Options{}).Open(context.Background(), AdminScope())
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, KindWebSocket, ch.Kind())
	assert.Equal(t, events.KindQueueSnapshot, receive(t, ch).Kind)
	assert.Equal(t, events.KindProgress, receive(t, ch).Kind)
}

func TestOpen_FallsBackWhenStreamIsNotEventStream(t *testing.T) {
	srv := newAuthority(t, map[string]http.HandlerFunc{
		"/api/projects/3/events": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
		},
		"/ws/projects/3": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "tok", r.URL.Query().Get("token"))
			wsHandler(t, snapshotMsg)(w, r)
		},
	})
	ch, err := newGateway(srv.URL, Options{}).Open(context.Background(), ProjectScope(3))
	require.NoError(t, err)
	defer ch.Close()
	assert.Equal(t, KindWebSocket, ch.Kind())
	assert.Equal(t, events.KindQueueSnapshot, receive(t, ch).Kind)
}

func TestOpen_SSEDisabledByConfig(t *testing.T) {
	srv := newAuthority(t, map[string]http.HandlerFunc{
		"/api/admin/jobs/events": sseHandler(snapshotMsg),
		"/ws/admin/jobs":         wsHandler(t, snapshotMsg),
	})
	ch, err := newGateway(srv.URL, Options{Transports: []Kind{KindWebSocket}}).Open(context.Background(), AdminScope())
	require.NoError(t, err)
	defer ch.Close()
	assert.Equal(t, KindWebSocket, ch.Kind())
}

func TestOpen_NothingAvailable(t *testing.T) {
	srv := newAuthority(t, nil)
	_, err := newGateway(srv.URL, Options{}).Open(context.Background(), AdminScope())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "/ws/jobs")
}

func TestOpen_NetworkFailureDoesNotFallBack(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newGateway(base, Options{}).Open(context.Background(), ProjectScope(1))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestOpen_StreamHeadersNeverArrive(t *testing.T) {
	release := make(chan struct{})
	srv := newAuthority(t, map[string]http.HandlerFunc{
		"/api/admin/jobs/events": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	t.Cleanup(func() { close(release) })

	gw := newGateway(srv.URL, Options{HandshakeTimeout: 200 * time.Millisecond})
	start := time.Now()
	_, err := gw.Open(context.Background(), AdminScope())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, err.Error(), "no response headers")
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	for _, kind := range []Kind{KindSSE, KindWebSocket} {
		t.Run(string(kind), func(t *testing.T) {
			srv := newAuthority(t, map[string]http.HandlerFunc{
				"/api/admin/jobs/events": sseHandler(),
				"/ws/admin/jobs":         wsHandler(t),
			})
			ch, err := newGateway(srv.URL, Options{Transports: []Kind{kind}}).Open(context.Background(), AdminScope())
			require.NoError(t, err)

			assert.NotPanics(t, func() {
				ch.Close()
				ch.Close()
			})
			_, ok := <-ch.Events()
			assert.False(t, ok, "events closed after Close")
			select {
			case <-ch.Done():
			default:
				t.Fatal("done not closed")
			}
		})
	}
}

func TestChannel_ContextCancelEndsStream(t *testing.T) {
	srv := newAuthority(t, map[string]http.HandlerFunc{
		"/api/admin/jobs/events": sseHandler(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := newGateway(srv.URL, Options{}).Open(ctx, AdminScope())
	require.NoError(t, err)
	defer ch.Close()

	cancel()
	select {
	case _, ok := <-ch.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
}

func TestSSEReader(t *testing.T) {
	body := strings.Join([]string{
		": keepalive",
		"",
		"event: message",
		"data: {\"a\":",
		"data: 1}",
		"id: 4",
		"",
		"data:{\"b\":2}",
		"",
		"data: trailing-without-blank-line",
	}, "\n")
	r := newSSEReader(strings.NewReader(body))

	msg, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":\n1}", string(msg))

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(msg))

	_, err = r.Next()
	assert.Error(t, err, "incomplete trailing message is not dispatched")
}

func TestScope(t *testing.T) {
	assert.Equal(t, "admin", AdminScope().String())
	assert.Equal(t, "project:12", ProjectScope(12).String())
}
