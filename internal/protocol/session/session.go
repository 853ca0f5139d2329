package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/frame"
	"github.com/danmuck/serialrelay/internal/protocol/payload"
	"github.com/danmuck/serialrelay/internal/protocol/schema"
	"github.com/danmuck/serialrelay/internal/protocol/timesync"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReceivedMessage is an application message imported from the link.
type ReceivedMessage struct {
	Topic string
	Body  json.RawMessage
	// Schema is the resolved schema document, nil when the message named
	// none, or an ERROR: sentinel when the name could not be resolved.
	Schema []byte
	// Msec is the sender's offset from its own session start.
	Msec int64
	// Received is the arrival time of the line's first byte.
	Received time.Time
}

// Option customizes a Session.
type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithResolver sets the resolver used for fox: schema names.
func WithResolver(r schema.Resolver) Option {
	return func(s *Session) { s.resolver = r }
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithReplyObserver is called for every TimeReply the peer sends.
func WithReplyObserver(fn timesync.ReplyObserver) Option {
	return func(s *Session) { s.onReply = fn }
}

type Session struct {
	cfg      Config
	buf      []byte
	bufAt    time.Time
	inbox    []ReceivedMessage
	profile  []payload.ProfileEntry
	tracker  *timesync.Tracker
	resolver schema.Resolver
	observer Observer
	onReply  timesync.ReplyObserver
	logger   zerolog.Logger
}

// New creates the session for one connection that began at start. The local
// profile only contributes its identity and length to time replies.
func New(start time.Time, profile []payload.ProfileEntry, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, n, err := payload.ProfileIdentity(profile)
	if err != nil {
		return nil, fmt.Errorf("session: local profile: %w", err)
	}

	s := &Session{
		cfg:      cfg,
		profile:  append([]payload.ProfileEntry(nil), profile...),
		resolver: schema.Foxglove(),
		observer: nopObserver{},
		logger:   log.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = timesync.NewTracker(start, timesync.Config{
		QueryInterval: cfg.TimeQueryInterval,
		QuerySlack:    cfg.QuerySlack,
		ProfileID:     id,
		ProfileLen:    n,
		OnReply:       s.onReply,
	})
	s.logger.Debug().Int64("profile_id", id).Int64("profile_len", n).Msg("session created")
	return s, nil
}

// Start is the epoch of every offset this session reports.
func (s *Session) Start() time.Time {
	return s.tracker.Start()
}

// Profile returns a copy of the local profile.
func (s *Session) Profile() []payload.ProfileEntry {
	return append([]payload.ProfileEntry(nil), s.profile...)
}

// Buffered is the number of bytes waiting for a newline.
func (s *Session) Buffered() int {
	return len(s.buf)
}

// Feed appends transport bytes received at at. Each complete line is decoded
// and dispatched before Feed returns; the time recorded for a line is the
// arrival time of its first byte.
func (s *Session) Feed(data []byte, at time.Time) {
	s.observer.Bytes(Inbound, len(data))
	for len(data) > 0 {
		if len(s.buf) == 0 {
			s.bufAt = at
		}
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			s.buf = append(s.buf, data...)
			if len(s.buf) > s.cfg.MaxLineBytes {
				s.logger.Debug().Int("bytes", len(s.buf)).Msg("receive buffer overflow, discarding")
				s.observer.Overflow()
				s.buf = s.buf[:0]
			}
			return
		}
		s.buf = append(s.buf, data[:nl]...)
		data = data[nl+1:]
		if len(s.buf) > s.cfg.MaxLineBytes {
			s.logger.Debug().Int("bytes", len(s.buf)).Msg("receive buffer overflow, discarding")
			s.observer.Overflow()
		} else {
			s.dispatch(s.buf, s.bufAt)
		}
		s.buf = s.buf[:0]
	}
}

func (s *Session) dispatch(raw []byte, at time.Time) {
	line, err := frame.Decode(raw)
	if err != nil {
		var ce *frame.ChecksumError
		if errors.As(err, &ce) {
			s.logger.Warn().
				Str("expected", fmt.Sprintf("0x%05x", ce.Expected)).
				Str("actual", fmt.Sprintf("0x%05x", ce.Actual)).
				Bytes("line", raw).
				Msg("checksum mismatch")
			s.observer.Line(LineBadChecksum)
			return
		}
		s.logger.Debug().Err(err).Bytes("line", raw).Msg("unparsed line")
		s.observer.Line(LineBadFormat)
		return
	}

	if q, ok := payload.Interpret[payload.TimeQuery](line); ok {
		s.logger.Debug().Int64("date", q.YYYYMMDD).Int64("time", q.HHMMSSmmm).Msg("time query received")
		s.observer.Line(LineOK)
		s.tracker.OnQuery(q, at)
		return
	}
	if r, ok := payload.Interpret[payload.TimeReply](line); ok {
		s.observer.Line(LineOK)
		s.tracker.OnReply(r, at)
		return
	}
	if m, ok := payload.Interpret[payload.Message](line); ok {
		s.observer.Line(LineOK)
		s.observer.Message(Inbound)
		s.inbox = append(s.inbox, s.importMessage(m, at))
		return
	}
	s.logger.Warn().Str("tag", line.Tag).Bytes("payload", line.Payload).Msg("unknown line")
	s.observer.Line(LineUnknownTag)
}

func (s *Session) importMessage(m payload.Message, at time.Time) ReceivedMessage {
	body := m.Body
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	return ReceivedMessage{
		Topic:    m.Topic,
		Body:     body,
		Schema:   schema.Classify(m.Schema, s.resolver),
		Msec:     m.Msec,
		Received: at,
	}
}

// DrainMessages returns the messages decoded since the last call, oldest
// first.
func (s *Session) DrainMessages() []ReceivedMessage {
	out := s.inbox
	s.inbox = nil
	return out
}

// NextOutbound returns the next newline-terminated line of time traffic to
// write at at, or nil. Time traffic is only produced while the caller's own
// output queue is empty so that it never delays application data.
func (s *Session) NextOutbound(at time.Time, outputQueueEmpty bool) []byte {
	if !outputQueueEmpty || !s.tracker.Ready(at) {
		return nil
	}
	p, ok := s.tracker.Next(at)
	if !ok {
		return nil
	}
	out, err := s.frame(p)
	if err != nil {
		s.logger.Error().Err(err).Str("tag", p.Tag()).Msg("time payload encode failed")
		return nil
	}
	switch p.(type) {
	case payload.TimeQuery:
		s.observer.TimeSync("query")
	case payload.TimeReply:
		s.observer.TimeSync("reply")
	}
	s.observer.Bytes(Outbound, len(out))
	return out
}

// Enqueue frames an application message for the caller to write. A zero Msec
// is stamped with the offset of at.
func (s *Session) Enqueue(m payload.Message, at time.Time) ([]byte, error) {
	if m.Msec == 0 {
		m.Msec = s.tracker.OffsetMsec(at)
	}
	out, err := s.frame(m)
	if err != nil {
		return nil, err
	}
	s.observer.Message(Outbound)
	s.observer.Bytes(Outbound, len(out))
	return out, nil
}

func (s *Session) frame(p payload.Payload) ([]byte, error) {
	line, err := payload.ToLine(p)
	if err != nil {
		return nil, err
	}
	out, err := frame.AppendLine(nil, line)
	if err != nil {
		return nil, fmt.Errorf("session: frame %T: %w", p, err)
	}
	s.logger.Debug().Bytes("line", out[:len(out)-1]).Msg("to send")
	return out, nil
}
