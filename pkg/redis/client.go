// Package redis publishes integrity events to redis pub/sub channels for
// external monitors.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"microfeed/pkg/events"
)

// ClientConfig holds redis client configuration.
type ClientConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// Client wraps the redis connection with the feed handler's publish
// conventions: one channel per event type, named "<prefix>:<event_type>".
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	config ClientConfig
}

// NewClient connects and pings the redis sink.
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client connected",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB),
		zap.String("channel_prefix", config.ChannelPrefix))

	return &Client{rdb: rdb, logger: logger.Named("redis"), config: config}, nil
}

// Channel returns the pub/sub channel for an event type.
func (c *Client) Channel(eventType string) string {
	return fmt.Sprintf("%s:%s", c.config.ChannelPrefix, eventType)
}

// Publish sends one event to its channel.
func (c *Client) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := c.Channel(event.GetEventType())
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		c.logger.Error("Failed to publish event",
			zap.String("channel", channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
