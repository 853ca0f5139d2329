package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/frame"
	"github.com/danmuck/serialrelay/internal/protocol/payload"
	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/danmuck/serialrelay/internal/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)

type pipeTransport struct {
	net.Conn
}

func (pipeTransport) Name() string { return "pipe" }

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []session.ReceivedMessage
	err  error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, m session.ReceivedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return s.err
}

func (s *recordingSink) snapshot() []session.ReceivedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.ReceivedMessage(nil), s.msgs...)
}

type harness struct {
	relay *Relay
	clock *manualClock
	peer  net.Conn
	lines chan []byte
	done  chan error
}

func startRelay(t *testing.T, opts ...Option) *harness {
	t.Helper()
	local, peer := net.Pipe()
	clock := &manualClock{now: t0}
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	opts = append([]Option{WithClock(clock.Now), WithLogger(zerolog.Nop())}, opts...)
	r := New(cfg, opts...)

	h := &harness{
		relay: r,
		clock: clock,
		peer:  peer,
		lines: make(chan []byte, 16),
		done:  make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- r.Run(ctx, pipeTransport{local}) }()
	go func() {
		br := bufio.NewReader(peer)
		for {
			line, err := br.ReadBytes('\n')
			if err != nil {
				close(h.lines)
				return
			}
			h.lines <- line
		}
	}()
	t.Cleanup(func() {
		cancel()
		peer.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, p payload.Payload) {
	t.Helper()
	line, err := payload.ToLine(p)
	require.NoError(t, err)
	out, err := frame.AppendLine(nil, line)
	require.NoError(t, err)
	_, err = h.peer.Write(out)
	require.NoError(t, err)
}

func (h *harness) next(t *testing.T) frame.Line {
	t.Helper()
	select {
	case raw, ok := <-h.lines:
		require.True(t, ok, "peer stream closed")
		line, err := frame.Decode(bytes.TrimSuffix(raw, []byte("\n")))
		require.NoError(t, err)
		return line
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a line")
		return frame.Line{}
	}
}

func TestInboundMessagesReachSinks(t *testing.T) {
	sink := &recordingSink{}
	h := startRelay(t, WithSinks(sink))

	h.send(t, payload.Message{Topic: "gps", Body: json.RawMessage(`{"lat":1.5}`), Msec: 20})
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	got := sink.snapshot()[0]
	assert.Equal(t, "gps", got.Topic)
	assert.JSONEq(t, `{"lat":1.5}`, string(got.Body))
	assert.Equal(t, int64(20), got.Msec)
	assert.True(t, got.Received.Equal(t0))
	assert.NotEmpty(t, h.relay.ConnectionID())
	assert.Equal(t, "pipe", h.relay.Link())
}

func TestSinkFailureDoesNotStopRelay(t *testing.T) {
	sink := &recordingSink{err: errors.New("unavailable")}
	h := startRelay(t, WithSinks(sink))

	h.send(t, payload.Message{Topic: "a", Body: json.RawMessage(`1`)})
	h.send(t, payload.Message{Topic: "b", Body: json.RawMessage(`2`)})
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSubmittedMessagesAreWritten(t *testing.T) {
	h := startRelay(t)
	h.clock.Advance(750 * time.Millisecond)
	require.NoError(t, h.relay.Submit(payload.Message{Topic: "cmd", Body: json.RawMessage(`"go"`)}))

	// A time query is also due; it may be written first.
	line := h.next(t)
	if line.Tag == payload.TagTimeQuery {
		line = h.next(t)
	}
	m, err := payload.Parse[payload.Message](line)
	require.NoError(t, err)
	assert.Equal(t, "cmd", m.Topic)
	assert.Equal(t, int64(750), m.Msec)
}

func TestTimeQueryEmittedWhenDue(t *testing.T) {
	h := startRelay(t)
	h.clock.Advance(time.Millisecond)

	line := h.next(t)
	q, err := payload.Parse[payload.TimeQuery](line)
	require.NoError(t, err)
	assert.Equal(t, int64(20250701), q.YYYYMMDD)
	assert.Equal(t, int64(1), q.HHMMSSmmm)
}

func TestTimeQueryAnswered(t *testing.T) {
	h := startRelay(t)
	h.send(t, payload.TimeQuery{YYYYMMDD: 20250630, HHMMSSmmm: 235959000})

	line := h.next(t)
	reply, err := payload.Parse[payload.TimeReply](line)
	require.NoError(t, err)
	assert.Equal(t, int64(20250630), reply.YYYYMMDD)
	assert.Equal(t, int64(235959000), reply.HHMMSSmmm)
	assert.Equal(t, int64(0), reply.RxMsec)
	assert.Equal(t, int64(0), reply.TxMsec)
	assert.Equal(t, int64(0), reply.ProfileLen)
}

func TestRunReturnsWhenPeerCloses(t *testing.T) {
	h := startRelay(t)
	require.NoError(t, h.peer.Close())
	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.False(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}
	assert.Empty(t, h.relay.ConnectionID())
}

func TestSubmitQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	r := New(cfg, WithLogger(zerolog.Nop()))
	require.NoError(t, r.Submit(payload.Message{Topic: "a"}))
	assert.ErrorIs(t, r.Submit(payload.Message{Topic: "b"}), ErrQueueFull)
}

func TestSuperviseRedialsAndStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(context.Context) (transport.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		local, peer := net.Pipe()
		peer.Close()
		return pipeTransport{local}, nil
	}
	r := New(DefaultConfig(), WithLogger(zerolog.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Supervise(ctx, dial, transport.BackoffConfig{InitialDelay: time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dials >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("supervise did not stop")
	}
}
