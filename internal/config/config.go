// Package config loads and validates the relay's TOML configuration.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/serialrelay/internal/protocol/payload"
	"github.com/danmuck/serialrelay/internal/protocol/schema"
	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/danmuck/serialrelay/internal/relay"
	"github.com/danmuck/serialrelay/internal/transport"
)

// Duration reads and writes as a Go duration string such as "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type ProfileConfig struct {
	Type string `toml:"type"`
	Data []any  `toml:"data"`
}

type RelayConfig struct {
	Name                 string          `toml:"name"`
	Device               string          `toml:"device,omitempty"`
	Address              string          `toml:"address,omitempty"`
	Baud                 int             `toml:"baud"`
	MaxBufferedLineBytes int             `toml:"max_buffered_line_bytes"`
	TimeQueryInterval    Duration        `toml:"time_query_interval"`
	QuerySlack           Duration        `toml:"query_slack"`
	PollInterval         Duration        `toml:"poll_interval"`
	SchemaDir            string          `toml:"schema_dir,omitempty"`
	Listen               string          `toml:"listen,omitempty"`
	CorsOrigins          []string        `toml:"cors_origins,omitempty"`
	RedisAddr            string          `toml:"redis_addr,omitempty"`
	RedisChannelPrefix   string          `toml:"redis_channel_prefix,omitempty"`
	Profile              []ProfileConfig `toml:"profile,omitempty"`
}

func Default() RelayConfig {
	sess := session.DefaultConfig()
	return RelayConfig{
		Name:                 "serialrelay",
		Baud:                 115200,
		MaxBufferedLineBytes: sess.MaxLineBytes,
		TimeQueryInterval:    Duration{sess.TimeQueryInterval},
		QuerySlack:           Duration{sess.QuerySlack},
		PollInterval:         Duration{relay.DefaultPollInterval},
	}
}

// Load reads path over Default. Keys absent from the file keep their
// default; unknown keys are rejected.
func Load(path string) (RelayConfig, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return RelayConfig{}, fmt.Errorf("config unknown keys (%s): %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("device") && meta.IsDefined("address") {
		return RelayConfig{}, fmt.Errorf("config (%s): device and address are mutually exclusive", path)
	}
	if err := Validate(cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	device := strings.TrimSpace(cfg.Device)
	address := strings.TrimSpace(cfg.Address)
	switch {
	case device == "" && address == "":
		return fmt.Errorf("one of device or address is required")
	case device != "" && address != "":
		return fmt.Errorf("device and address are mutually exclusive")
	case device != "" && cfg.Baud <= 0:
		return fmt.Errorf("baud must be positive, got %d", cfg.Baud)
	}
	if cfg.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	if err := cfg.Session().Validate(); err != nil {
		return err
	}
	for i, p := range cfg.Profile {
		if strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("profile[%d] type is required", i)
		}
	}
	return nil
}

func (c RelayConfig) Session() session.Config {
	return session.Config{
		MaxLineBytes:      c.MaxBufferedLineBytes,
		TimeQueryInterval: c.TimeQueryInterval.Duration,
		QuerySlack:        c.QuerySlack.Duration,
	}
}

// ProfileEntries converts the [[profile]] tables, indexed by position.
func (c RelayConfig) ProfileEntries() ([]payload.ProfileEntry, error) {
	entries := make([]payload.ProfileEntry, 0, len(c.Profile))
	for i, p := range c.Profile {
		data := make([]json.RawMessage, 0, len(p.Data))
		for j, v := range p.Data {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("profile[%d] data[%d]: %w", i, j, err)
			}
			data = append(data, raw)
		}
		entries = append(entries, payload.ProfileEntry{Index: int64(i), Type: p.Type, Data: data})
	}
	return entries, nil
}

func (c RelayConfig) Relay() (relay.Config, error) {
	entries, err := c.ProfileEntries()
	if err != nil {
		return relay.Config{}, err
	}
	cfg := relay.DefaultConfig()
	cfg.PollInterval = c.PollInterval.Duration
	cfg.Session = c.Session()
	cfg.Profile = entries
	return cfg, nil
}

func (c RelayConfig) Dialer() transport.Dialer {
	if strings.TrimSpace(c.Device) != "" {
		return transport.SerialDialer(c.Device, c.Baud)
	}
	return transport.TCPDialer(c.Address)
}

// Resolver layers schema_dir, when set, over the bundled schemas.
func (c RelayConfig) Resolver() schema.Resolver {
	if strings.TrimSpace(c.SchemaDir) == "" {
		return schema.Foxglove()
	}
	return schema.Chain{schema.Dir(c.SchemaDir), schema.Foxglove()}
}
