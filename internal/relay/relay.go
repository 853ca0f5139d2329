// Package relay runs one link: it owns the Session, moves bytes between the
// session and its transport, and hands decoded messages to sinks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/serialrelay/internal/observability"
	"github.com/danmuck/serialrelay/internal/protocol/payload"
	"github.com/danmuck/serialrelay/internal/protocol/schema"
	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/danmuck/serialrelay/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrQueueFull = errors.New("relay: outbound queue full")

const (
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultQueueSize      = 64
	DefaultPublishTimeout = 2 * time.Second
	readChunkSize         = 4096
)

// Sink receives every message decoded from the link.
type Sink interface {
	Name() string
	Publish(ctx context.Context, m session.ReceivedMessage) error
}

// Config tunes one relay.
type Config struct {
	PollInterval   time.Duration
	QueueSize      int
	PublishTimeout time.Duration
	Session        session.Config
	Profile        []payload.ProfileEntry
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		QueueSize:      DefaultQueueSize,
		PublishTimeout: DefaultPublishTimeout,
		Session:        session.DefaultConfig(),
	}
}

type Option func(*Relay)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithClock replaces time.Now for every timestamp handed to the session.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func WithResolver(res schema.Resolver) Option {
	return func(r *Relay) { r.resolver = res }
}

func WithObserver(o session.Observer) Option {
	return func(r *Relay) { r.observer = o }
}

func WithSinks(sinks ...Sink) Option {
	return func(r *Relay) { r.sinks = append(r.sinks, sinks...) }
}

// Relay binds a transport to a fresh Session per connection.
type Relay struct {
	cfg      Config
	now      func() time.Time
	resolver schema.Resolver
	observer session.Observer
	sinks    []Sink
	submit   chan payload.Message
	logger   zerolog.Logger

	mu     sync.RWMutex
	connID string
	link   string
}

func New(cfg Config, opts ...Option) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	r := &Relay{
		cfg:    cfg,
		now:    time.Now,
		submit: make(chan payload.Message, cfg.QueueSize),
		logger: log.With().Str("component", "relay").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSink registers another sink. It must be called before Run.
func (r *Relay) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Submit queues an application message for the link. It never blocks.
func (r *Relay) Submit(m payload.Message) error {
	select {
	case r.submit <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// ConnectionID identifies the current connection, empty while disconnected.
func (r *Relay) ConnectionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connID
}

// Link names the current transport, empty while disconnected.
func (r *Relay) Link() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.link
}

func (r *Relay) setConnection(id, link string) {
	r.mu.Lock()
	r.connID = id
	r.link = link
	r.mu.Unlock()
}

// Supervise keeps a link up until ctx ends, redialing with backoff whenever
// the transport fails. Each connection gets a new Session.
func (r *Relay) Supervise(ctx context.Context, dial transport.Dialer, backoff transport.BackoffConfig) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		t, err := transport.DialWithRetry(ctx, dial, backoff, rng)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = r.Run(ctx, t)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn().Err(err).Str("link", t.Name()).Msg("link lost, redialing")
	}
}

// Run drives one connection until ctx ends or the transport fails. The
// transport is closed on return.
func (r *Relay) Run(ctx context.Context, t transport.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer t.Close()

	connID := uuid.NewString()
	logger := r.logger.With().Str("conn", connID).Str("link", t.Name()).Logger()

	opts := []session.Option{session.WithLogger(logger.With().Str("component", "session").Logger())}
	if r.resolver != nil {
		opts = append(opts, session.WithResolver(r.resolver))
	}
	if r.observer != nil {
		opts = append(opts, session.WithObserver(r.observer))
	}
	sess, err := session.New(r.now(), r.cfg.Profile, r.cfg.Session, opts...)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	r.setConnection(connID, t.Name())
	defer r.setConnection("", "")
	logger.Info().Msg("link up")

	chunks := make(chan []byte, 16)
	failed := make(chan error, 2)
	go readLoop(ctx, t, chunks, failed)

	w := newWriter(t, r.cfg.QueueSize)
	go w.run(ctx, failed)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("link closing")
			return ctx.Err()
		case err := <-failed:
			return fmt.Errorf("relay: %s: %w", t.Name(), err)
		case chunk := <-chunks:
			sess.Feed(chunk, r.now())
			r.publish(ctx, logger, sess.DrainMessages())
		case m := <-r.submit:
			line, err := sess.Enqueue(m, r.now())
			if err != nil {
				logger.Warn().Err(err).Str("topic", m.Topic).Msg("dropping unencodable message")
				break
			}
			if err := w.enqueue(ctx, line); err != nil {
				return err
			}
		case <-ticker.C:
		}

		if out := sess.NextOutbound(r.now(), w.idle()); out != nil {
			if err := w.enqueue(ctx, out); err != nil {
				return err
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, logger zerolog.Logger, msgs []session.ReceivedMessage) {
	for _, m := range msgs {
		for _, s := range r.sinks {
			pctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
			err := s.Publish(pctx, m)
			cancel()
			if err != nil {
				observability.RecordSinkFailure(s.Name())
				logger.Warn().Err(err).Str("sink", s.Name()).Str("topic", m.Topic).Msg("publish failed")
			}
		}
	}
}

func readLoop(ctx context.Context, t transport.Transport, chunks chan<- []byte, failed chan<- error) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case failed <- fmt.Errorf("read: %w", err):
			default:
			}
			return
		}
	}
}

// writer serializes writes to the transport. pending counts lines queued or
// in flight, which is what the session's idle-queue rule looks at.
type writer struct {
	t       transport.Transport
	lines   chan []byte
	pending atomic.Int64
}

func newWriter(t transport.Transport, size int) *writer {
	return &writer{t: t, lines: make(chan []byte, size)}
}

func (w *writer) idle() bool {
	return w.pending.Load() == 0
}

func (w *writer) enqueue(ctx context.Context, line []byte) error {
	w.pending.Add(1)
	select {
	case w.lines <- line:
		return nil
	case <-ctx.Done():
		w.pending.Add(-1)
		return ctx.Err()
	}
}

func (w *writer) run(ctx context.Context, failed chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-w.lines:
			_, err := w.t.Write(line)
			w.pending.Add(-1)
			if err != nil {
				select {
				case failed <- fmt.Errorf("write: %w", err):
				default:
				}
				return
			}
		}
	}
}
