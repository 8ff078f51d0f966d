package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/redis"
)

const channelPrefix = "events:"

// RedisPublisher publishes encoded messages on events:<room>.
type RedisPublisher struct {
	redis redis.RedisAdapter
}

func NewRedisPublisher(r redis.RedisAdapter) *RedisPublisher {
	return &RedisPublisher{redis: r}
}

func (p *RedisPublisher) Publish(ctx context.Context, room, event string, payload interface{}) error {
	m, err := NewMessage(room, event, payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.redis.Publish(ctx, channelPrefix+room, body); err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	return nil
}

// Relay subscribes to every room channel and hands decoded messages to sink
// until ctx is done. The ready channel, if not nil, is closed once the
// subscription is active.
func Relay(ctx context.Context, r redis.RedisAdapter, sink func(Message), ready chan<- struct{}) error {
	sub := r.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				logger.Warn("dropping undecodable event", "channel", r.StripPrefix(msg.Channel), "error", err)
				continue
			}
			sink(m)
		}
	}
}
