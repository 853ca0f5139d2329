package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)

func TestMarshalEmbedsJSONSchema(t *testing.T) {
	out, err := Marshal(session.ReceivedMessage{
		Topic:    "pose",
		Body:     json.RawMessage(`{"x":1}`),
		Schema:   []byte(`{"title":"foxglove.Pose"}`),
		Msec:     12,
		Received: received,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"topic": "pose",
		"body": {"x":1},
		"schema": {"title":"foxglove.Pose"},
		"msec": 12,
		"received": "2025-05-05T10:00:00Z"
	}`, string(out))
}

func TestMarshalQuotesSentinelSchema(t *testing.T) {
	out, err := Marshal(session.ReceivedMessage{
		Topic:  "x",
		Body:   json.RawMessage(`1`),
		Schema: []byte("ERROR:NOTFOUND:fox:Nope"),
	})
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Equal(t, "ERROR:NOTFOUND:fox:Nope", env["schema"])
}

func TestMarshalDefaultsBodyAndOmitsSchema(t *testing.T) {
	out, err := Marshal(session.ReceivedMessage{Topic: "empty"})
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Nil(t, env["body"])
	assert.Contains(t, env, "body")
	assert.NotContains(t, env, "schema")
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "serialrelay:imu/raw", channelName(DefaultChannelPrefix, "imu/raw"))
	assert.Equal(t, "dev.", channelName("dev.", ""))
}

func TestNewRedisSinkRequiresAddress(t *testing.T) {
	_, err := NewRedisSink(context.Background(), RedisConfig{}, zerolog.Nop())
	require.Error(t, err)
}

func TestNewRedisSinkFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisSink(ctx, RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, zerolog.Nop())
	require.Error(t, err)
}
