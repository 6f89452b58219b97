package realtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/queuesync/queuesync/internal/client"
)

const maxMessageSize = 1 << 20

func (g *Gateway) openSSE(ctx context.Context, scope Scope) (*Channel, error) {
	op, _, params := scope.operations()
	streamCtx, cancel := context.WithCancel(ctx)

	// The stream client has no overall timeout, so only the wait for
	// headers is bounded. Stopping the timer leaves the body readable.
	timer := time.AfterFunc(g.handshakeTimeout, cancel)
	resp, err := g.resolver.Do(streamCtx, op, params, client.Request{
		Header: http.Header{"Accept": {"text/event-stream"}},
		Stream: true,
	})
	if !timer.Stop() && ctx.Err() == nil {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("sse: no response headers within %s", g.handshakeTimeout)
	}
	if err != nil {
		cancel()
		if allNotFound(err) {
			return nil, fmt.Errorf("%w: sse: %v", errUnavailableKind, err)
		}
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK || mediaType != "text/event-stream" {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: sse: status %d, content type %q", errUnavailableKind, resp.StatusCode, mediaType)
	}

	ch := newChannel(KindSSE, cancel, resp.Body.Close)
	reader := newSSEReader(resp.Body)
	go ch.run(scope, reader.Next)
	return ch, nil
}

// sseReader splits a text/event-stream body into message payloads. Only
// data fields matter here; the event type travels inside the JSON payload.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxMessageSize)
	return &sseReader{scanner: s}
}

// Next returns the data of the next complete message, or io.EOF when the
// stream ends.
func (r *sseReader) Next() ([]byte, error) {
	var data bytes.Buffer
	hasData := false
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		if string(field) != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.Write(value)
		hasData = true
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
