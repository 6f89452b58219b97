// Package pubsub fans job events out across authority instances through a
// Redis channel so that viewers connected to any instance see every change.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Publisher delivers a payload to every local subscriber of a topic.
// *websocket.Hub implements it.
type Publisher interface {
	Publish(topic string, data []byte)
}

type envelope struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

// Bridge publishes locally and to Redis, and relays messages published by
// other instances to the local Publisher.
type Bridge struct {
	rdb     *redis.Client
	channel string
	local   Publisher
	origin  string
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewBridge wraps local with cross-instance delivery over channel.
func NewBridge(rdb *redis.Client, channel string, local Publisher) *Bridge {
	return &Bridge{rdb: rdb, channel: channel, local: local, origin: uuid.NewString()}
}

// Publish delivers locally first, then forwards to other instances. A
// Redis failure is logged; local viewers are unaffected.
func (b *Bridge) Publish(topic string, data []byte) {
	b.local.Publish(topic, data)

	payload, err := b.encode(topic, data)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("encode bridge message")
		return
	}
	if err := b.rdb.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("redis publish failed")
	}
}

// Run relays remote messages until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Info().Str("channel", b.channel).Str("origin", b.origin).Msg("redis broadcast bridge running")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay([]byte(msg.Payload))
		}
	}
}

func (b *Bridge) encode(topic string, data []byte) ([]byte, error) {
	return json.Marshal(envelope{Origin: b.origin, Topic: topic, Data: data})
}

// relay hands a remote message to local subscribers. Messages this
// instance published are skipped since Publish already delivered them.
func (b *Bridge) relay(payload []byte) bool {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Debug().Err(err).Msg("dropping malformed bridge message")
		return false
	}
	if env.Origin == b.origin || env.Topic == "" {
		return false
	}
	b.local.Publish(env.Topic, env.Data)
	return true
}
