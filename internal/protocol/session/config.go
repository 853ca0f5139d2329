package session

import (
	"fmt"
	"time"

	"github.com/danmuck/serialrelay/internal/protocol/timesync"
)

const (
	DefaultMaxLineBytes = 65536
	MinMaxLineBytes     = 65536
	MaxMaxLineBytes     = 131072
)

// Config defines per-link tunables.
type Config struct {
	// MaxLineBytes bounds the receive buffer while no newline has been seen.
	MaxLineBytes      int
	TimeQueryInterval time.Duration
	QuerySlack        time.Duration
}

// DefaultConfig returns the link defaults: 64 KiB lines, a query every 5s.
func DefaultConfig() Config {
	return Config{
		MaxLineBytes:      DefaultMaxLineBytes,
		TimeQueryInterval: timesync.DefaultQueryInterval,
		QuerySlack:        timesync.DefaultQuerySlack,
	}
}

// Validate checks that cfg is usable as is.
func (c Config) Validate() error {
	if c.MaxLineBytes < MinMaxLineBytes || c.MaxLineBytes > MaxMaxLineBytes {
		return fmt.Errorf("session: max line bytes %d outside %d..%d", c.MaxLineBytes, MinMaxLineBytes, MaxMaxLineBytes)
	}
	if c.TimeQueryInterval <= 0 {
		return fmt.Errorf("session: time query interval must be positive, got %s", c.TimeQueryInterval)
	}
	if c.QuerySlack < 0 || c.QuerySlack > c.TimeQueryInterval {
		return fmt.Errorf("session: query slack %s outside 0..%s", c.QuerySlack, c.TimeQueryInterval)
	}
	return nil
}
