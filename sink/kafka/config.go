package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config for the destination producer. RequiredAcks, RetryMax and
// MaxOpenRequests are pointers so an explicit override is distinguishable
// from "unset": the defaults preserve at-least-once delivery and per-source-
// partition ordering, and overriding any of them is warned about.
type Config struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	Version  string   `koanf:"version"`
	TLSEn    bool     `koanf:"tls_enabled"`
	SASLUser string   `koanf:"sasl_user"`
	SASLPass string   `koanf:"sasl_pass"`

	RequiredAcks    *int16 `koanf:"required_acks"`     // default all (-1)
	RetryMax        *int   `koanf:"retry_max"`         // default effectively unbounded
	MaxOpenRequests *int   `koanf:"max_open_requests"` // default 1

	RetryBackoff  time.Duration `koanf:"retry_backoff"`  // default 100ms
	LingerMS      int           `koanf:"linger_ms"`      // default 0: dispatch eagerly
	ChannelBuffer int           `koanf:"channel_buffer"` // bounded: full buffer blocks Send
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `KAFMIRROR_DEST__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("dest schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("KAFMIRROR_DEST__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "KAFMIRROR_DEST__"))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.ClientID == "" {
		c.ClientID = "kafmirror"
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.ChannelBuffer == 0 {
		c.ChannelBuffer = 256
	}
}
