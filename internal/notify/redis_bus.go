package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "content:events"

type envelope struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// RedisBus publishes user events on a Redis pub/sub channel. API processes
// run Forward to hand them to their local Hub.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	log     zerolog.Logger
}

// NewRedisBus returns a bus on rdb.
func NewRedisBus(rdb redis.UniversalClient, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		log:     log.With().Str("component", "notify.redis_bus").Str("channel", channel).Logger(),
	}
}

// Publish implements Publisher. It reports whether at least one forwarding
// process received the event; whether a stream was open there is unknown.
func (b *RedisBus) Publish(ctx context.Context, userID string, event any) bool {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", userID).Msg("encode event")
		return false
	}
	raw, err := json.Marshal(envelope{UserID: userID, Data: data})
	if err != nil {
		return false
	}
	n, err := b.rdb.Publish(ctx, b.channel, raw).Result()
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", userID).Msg("redis publish")
		return false
	}
	return n > 0
}

// Forward subscribes to the channel and delivers every message to hub until
// ctx is done. It returns once the subscription is confirmed.
func (b *RedisBus) Forward(ctx context.Context, hub *Hub) error {
	if hub == nil {
		return errors.New("notify: hub required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil || env.UserID == "" {
					b.log.Warn().Err(err).Msg("bad event payload")
					continue
				}
				hub.Deliver(env.UserID, env.Data)
			}
		}
	}()
	return nil
}

var _ Publisher = (*RedisBus)(nil)
