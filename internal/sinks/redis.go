package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannelPrefix = "serialrelay:"

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	DialTimeout   time.Duration
}

// RedisSink publishes each message as an Envelope on channel
// <prefix><topic>.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisSink connects and pings the server before returning.
func NewRedisSink(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("sinks: redis address is required")
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("sinks: connect to redis %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Str("prefix", prefix).Msg("redis sink connected")
	return &RedisSink{
		client: rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_sink").Logger(),
	}, nil
}

func (s *RedisSink) Name() string { return "redis" }

// Channel is the pub/sub channel a topic is published on.
func (s *RedisSink) Channel(topic string) string {
	return channelName(s.prefix, topic)
}

func (s *RedisSink) Publish(ctx context.Context, m session.ReceivedMessage) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	receivers, err := s.client.Publish(ctx, s.Channel(m.Topic), data).Result()
	if err != nil {
		return fmt.Errorf("sinks: redis publish %s: %w", m.Topic, err)
	}
	s.logger.Debug().Str("topic", m.Topic).Int64("receivers", receivers).Msg("published")
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func channelName(prefix, topic string) string {
	return prefix + topic
}
