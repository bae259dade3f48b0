package redis

import (
	"context"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
)

// Publish announces new work on queue to every subscribed process.
func (s *Store) Publish(ctx context.Context, queue string) error {
	payload, err := event.New(queue).Encode()
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, channelKey(queue), payload).Err(); err != nil {
		return redisErr("publish", err)
	}
	return nil
}

// Subscribe registers interest in queue. All subscriptions of the store
// share one Pub/Sub connection whose messages are fanned out in process.
func (s *Store) Subscribe(ctx context.Context, queue string) (*event.Subscription, error) {
	s.psMu.Lock()
	defer s.psMu.Unlock()
	if s.closed {
		return nil, tether.ErrStoreClosed
	}

	if s.pubsub == nil {
		// The receive loop outlives the caller's context.
		s.pubsub = s.client.Subscribe(context.Background())
		go s.receive(s.pubsub)
	}
	if _, ok := s.channels[queue]; !ok {
		if err := s.pubsub.Subscribe(ctx, channelKey(queue)); err != nil {
			return nil, redisErr("subscribe", err)
		}
		s.channels[queue] = struct{}{}
	}
	return s.hub.Add(queue), nil
}

func (s *Store) receive(ps *goredis.PubSub) {
	for msg := range ps.Channel() {
		queue := strings.TrimPrefix(msg.Channel, channelPrefix)
		if e, err := event.Decode(msg.Payload); err == nil {
			queue = e.Queue
		} else {
			s.logger.Debug("undecodable notification",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
		}
		s.hub.Broadcast(queue)
	}
}
