// Package timesync schedules clock queries and builds replies for one link.
//
// The tracker never reads a clock. Every call carries the caller's notion of
// "now", which is also what makes it deterministic under test.
package timesync

import (
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/payload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueryInterval = 5 * time.Second
	DefaultQuerySlack    = time.Second
)

// ReplyObserver receives every TimeReply the peer sends, with the arrival time
// of its line. No clock correction is derived from replies yet; this hook is
// where it would attach.
type ReplyObserver func(reply payload.TimeReply, at time.Time)

// Config tunes query cadence.
type Config struct {
	// QueryInterval is the spacing between query deadlines.
	QueryInterval time.Duration
	// QuerySlack bounds how far a late poll can pull the next deadline
	// forward: next = max(prev+interval, now+interval-slack).
	QuerySlack time.Duration
	ProfileID  int64
	ProfileLen int64
	OnReply    ReplyObserver
}

func DefaultConfig() Config {
	return Config{
		QueryInterval: DefaultQueryInterval,
		QuerySlack:    DefaultQuerySlack,
	}
}

// Tracker holds at most one pending reply. A second query arriving before the
// first reply is fetched replaces it.
type Tracker struct {
	cfg       Config
	start     time.Time
	nextQuery time.Time
	pending   *payload.TimeReply
	logger    zerolog.Logger
}

func NewTracker(start time.Time, cfg Config) *Tracker {
	if cfg.QueryInterval <= 0 {
		cfg.QueryInterval = DefaultQueryInterval
	}
	if cfg.QuerySlack < 0 || cfg.QuerySlack > cfg.QueryInterval {
		cfg.QuerySlack = min(DefaultQuerySlack, cfg.QueryInterval)
	}
	return &Tracker{
		cfg:       cfg,
		start:     start,
		nextQuery: start,
		logger:    log.With().Str("component", "timesync").Logger(),
	}
}

// Start is the session epoch all offsets are measured from.
func (t *Tracker) Start() time.Time {
	return t.start
}

// NextQuery is the current query deadline.
func (t *Tracker) NextQuery() time.Time {
	return t.nextQuery
}

// HasPending reports whether a reply is waiting to be sent.
func (t *Tracker) HasPending() bool {
	return t.pending != nil
}

// Ready reports whether Next would return a payload at now.
func (t *Tracker) Ready(now time.Time) bool {
	return t.pending != nil || now.After(t.nextQuery)
}

// Next returns the payload to transmit at now, if any. A pending reply always
// goes first and is stamped with its send offset; a due query is left for a
// later call.
func (t *Tracker) Next(now time.Time) (payload.Payload, bool) {
	if t.pending != nil {
		reply := t.pending.WithSendOffset(t.OffsetMsec(now))
		t.pending = nil
		return reply, true
	}

	if now.After(t.nextQuery) {
		t.nextQuery = laterOf(
			t.nextQuery.Add(t.cfg.QueryInterval),
			now.Add(t.cfg.QueryInterval-t.cfg.QuerySlack),
		)
		return QueryAt(now), true
	}
	return nil, false
}

// OnQuery records a reply to query, received at at.
func (t *Tracker) OnQuery(query payload.TimeQuery, at time.Time) {
	if t.pending != nil {
		t.logger.Debug().Msg("replacing unsent time reply")
	}
	t.pending = &payload.TimeReply{
		YYYYMMDD:   query.YYYYMMDD,
		HHMMSSmmm:  query.HHMMSSmmm,
		RxMsec:     t.OffsetMsec(at),
		TxMsec:     0,
		ProfileID:  t.cfg.ProfileID,
		ProfileLen: t.cfg.ProfileLen,
	}
}

// OnReply acknowledges a reply from the peer.
func (t *Tracker) OnReply(reply payload.TimeReply, at time.Time) {
	t.logger.Debug().
		Int64("rx_msec", reply.RxMsec).
		Int64("tx_msec", reply.TxMsec).
		Int64("profile_id", reply.ProfileID).
		Int64("profile_len", reply.ProfileLen).
		Msg("time reply received")
	if t.cfg.OnReply != nil {
		t.cfg.OnReply(reply, at)
	}
}

// OffsetMsec is at relative to the session start in whole milliseconds.
func (t *Tracker) OffsetMsec(at time.Time) int64 {
	return at.Sub(t.start).Milliseconds()
}

// QueryAt stamps a query with the UTC calendar date and time of day of at.
func QueryAt(at time.Time) payload.TimeQuery {
	u := at.UTC()
	return payload.TimeQuery{
		YYYYMMDD: int64(u.Year())*10000 + int64(u.Month())*100 + int64(u.Day()),
		HHMMSSmmm: int64(u.Hour())*10000000 +
			int64(u.Minute())*100000 +
			int64(u.Second())*1000 +
			int64(u.Nanosecond()/int(time.Millisecond)),
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
