package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Viewers are authenticated by session before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one subscriber: a websocket connection or a server-sent event
// stream draining Messages.
type Client struct {
	id    string
	hub   *Hub
	topic string
	send  chan []byte
}

func newClient(h *Hub, topic string) *Client {
	return &Client{id: uuid.NewString(), hub: h, topic: topic, send: make(chan []byte, sendBuffer)}
}

// ID identifies the subscriber in logs.
func (c *Client) ID() string { return c.id }

// Messages delivers every payload published to the client's topic.
func (c *Client) Messages() <-chan []byte { return c.send }

// ServeWs upgrades the request and streams topic to it. initial, when not
// nil, is called after subscribing and its result is written before any
// broadcast, so nothing published in between is lost.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, topic string, initial func() []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	client := h.Subscribe(topic)
	log.Debug().Str("client", client.id).Str("topic", topic).Msg("websocket subscriber connected")

	var first []byte
	if initial != nil {
		first = initial()
	}
	pongs := make(chan struct{}, 1)
	go client.writePump(conn, first, pongs)
	client.readPump(conn, pongs)
}

// readPump keeps the read deadline alive and answers text "ping" frames.
// Any other inbound message is ignored.
func (c *Client) readPump(conn *websocket.Conn, pongs chan<- struct{}) {
	defer func() {
		c.hub.Unsubscribe(c)
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		if string(msg) == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, initial []byte, pongs <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	if initial != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
			return
		}
	}
	for {
		select {
		case message, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-pongs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
