//go:build integration

package sinks

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_Integration(t *testing.T) {
	addr := os.Getenv("SERIALRELAY_REDIS_ADDR")
	if addr == "" {
		t.Skip("SERIALRELAY_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	sink, err := NewRedisSink(ctx, RedisConfig{Addr: addr, ChannelPrefix: "it:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	sub := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = sub.Close() })
	ps := sub.Subscribe(ctx, sink.Channel("imu"))
	t.Cleanup(func() { _ = ps.Close() })
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Publish(ctx, session.ReceivedMessage{
		Topic: "imu",
		Body:  json.RawMessage(`{"ax":0.5}`),
		Msec:  99,
	}))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "imu", env.Topic)
	assert.Equal(t, int64(99), env.Msec)
	assert.JSONEq(t, `{"ax":0.5}`, string(env.Body))
}
