package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Message is a payload for every subscriber of Topic.
type Message struct {
	Topic string
	Data  []byte
}

// Hub maintains the set of active subscribers and broadcasts messages to
// them by topic. A single goroutine (Run) owns the subscriber set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
	count      atomic.Int64
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.topic != msg.Topic {
					continue
				}
				select {
				case client.send <- msg.Data:
				default:
					// The subscriber is not keeping up.
					log.Warn().Str("client", client.id).Str("topic", client.topic).Msg("dropping slow subscriber")
					h.remove(client)
				}
			}
		case <-h.stop:
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.count.Store(int64(len(h.clients)))
	}
}

// Stop disconnects every subscriber and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish queues data for every subscriber of topic.
func (h *Hub) Publish(topic string, data []byte) {
	select {
	case h.broadcast <- Message{Topic: topic, Data: data}:
	case <-h.stop:
	}
}

// ClientCount reports the number of registered subscribers.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Subscribe registers a subscriber for topic. Its Messages channel is
// closed when it is unsubscribed, dropped for being slow, or the hub stops.
func (h *Hub) Subscribe(topic string) *Client {
	c := newClient(h, topic)
	select {
	case h.register <- c:
	case <-h.stop:
		close(c.send)
	}
	return c
}

// Unsubscribe removes a subscriber. It is safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}
