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

type Config struct {
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	GroupID  string   `koanf:"group_id"`
	Version  string   `koanf:"version"`
	TLSEn    bool     `koanf:"tls_enabled"`
	SASLUser string   `koanf:"sasl_user"`
	SASLPass string   `koanf:"sasl_pass"`

	// StartFrom picks the initial offset when a partition has no commit yet.
	StartFrom string `koanf:"start_from"` // oldest|newest (default oldest)

	// PollTimeout bounds Next's wait before it reports the timeout outcome.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// AutoCommit is accepted from user config but forced off: every commit
	// is driven explicitly through the flush-commit barrier.
	AutoCommit bool `koanf:"auto_commit"`

	ChannelBuffer int `koanf:"channel_buffer"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `KAFMIRROR_SOURCE__`, delimiter `__`).
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
		return Config{}, fmt.Errorf("source schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("KAFMIRROR_SOURCE__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "KAFMIRROR_SOURCE__"))
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
	if c.GroupID == "" {
		c.GroupID = "kafmirror"
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.ChannelBuffer == 0 {
		c.ChannelBuffer = 256
	}
	if c.StartFrom == "" {
		c.StartFrom = "oldest"
	}
}
