package events

import (
	"context"
	"encoding/json"
	"time"

	"go-wiki-collab/internal/config"
	"go-wiki-collab/internal/logger"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher carries events over a Redis pub/sub channel so that
// viewers connected to other workers still hear about them. Each worker
// runs a bridge that re-broadcasts received events into its local hub.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg config.EventsConfig, log logger.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisPublisher{client: client, channel: cfg.RedisChannel, log: log}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(pageID int64, eventType string, payload interface{}) {
	data, err := json.Marshal(Event{
		PageID:    pageID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error(err, "Failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Error(err, "Failed to publish event to redis")
	}
}

// Bridge subscribes to the Redis channel and re-broadcasts every received
// event into the local hub, so websocket clients attached to this worker
// see events published by any worker. Runs until ctx is cancelled.
func (p *RedisPublisher) Bridge(ctx context.Context, hub *Hub) {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				p.log.Error(err, "Failed to decode event from redis")
				continue
			}
			hub.Publish(ev.PageID, ev.Type, ev.Payload)
		}
	}
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
