package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix selects the environment variables overriding a config file, e.g.
// LOGPIPE_KAFKA__BUFFER__MAX_SIZE=1048576.
const EnvPrefix = "LOGPIPE_KAFKA__"

const (
	DefaultVersion         = "2.1.0"
	DefaultFetchBufferSize = 1 << 20
	DefaultSocketTimeout   = 3 * time.Second
	DefaultMaxBufferSize   = 64 << 20
	DefaultEventDelay      = 2 * time.Second
	DefaultCheckpointEvery = 10 * time.Second
)

type BufferCfg struct {
	MaxSize    int64         `koanf:"max_size"`    // bytes held before a forced flush
	EventDelay time.Duration `koanf:"event_delay"` // cross-partition skew tolerated
}

type CheckpointCfg struct {
	Interval time.Duration `koanf:"interval"` // persist cadence
}

type Config struct {
	Brokers    []string `koanf:"brokers"`
	Topic      string   `koanf:"topic"`
	Partitions []int32  `koanf:"partitions"`
	Version    string   `koanf:"version"`
	ClientID   string   `koanf:"client_id"`
	TLSEn      bool     `koanf:"tls_enabled"`
	SASLUser   string   `koanf:"sasl_user"`
	SASLPass   string   `koanf:"sasl_pass"`

	FetchBufferSize int32         `koanf:"fetch_buffer_size"`
	SocketTimeout   time.Duration `koanf:"socket_timeout"`

	Buffer     BufferCfg     `koanf:"buffer"`
	Checkpoint CheckpointCfg `koanf:"checkpoint"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `LOGPIPE_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers is empty"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is empty"))
	}
	if len(c.Partitions) == 0 {
		errs = append(errs, errors.New("partitions is empty"))
	}
	seen := make(map[int32]bool, len(c.Partitions))
	for _, p := range c.Partitions {
		if p < 0 {
			errs = append(errs, fmt.Errorf("partition %d is negative", p))
		}
		if seen[p] {
			errs = append(errs, fmt.Errorf("partition %d listed twice", p))
		}
		seen[p] = true
	}
	if c.Buffer.MaxSize <= 0 {
		errs = append(errs, errors.New("buffer.max_size must be positive"))
	}
	if c.Buffer.EventDelay < 0 {
		errs = append(errs, errors.New("buffer.event_delay must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.ClientID == "" {
		c.ClientID = "logpipe-" + uuid.NewString()[:8]
	}
	if c.FetchBufferSize <= 0 {
		c.FetchBufferSize = DefaultFetchBufferSize
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = DefaultSocketTimeout
	}
	if c.Buffer.MaxSize == 0 {
		c.Buffer.MaxSize = DefaultMaxBufferSize
	}
	if c.Buffer.EventDelay == 0 {
		c.Buffer.EventDelay = DefaultEventDelay
	}
	if c.Checkpoint.Interval <= 0 {
		c.Checkpoint.Interval = DefaultCheckpointEvery
	}
}

// WithDefaults returns c with every unset field defaulted. It is meant for
// configs built in code rather than loaded from a file.
func (c Config) WithDefaults() Config {
	applyDefaults(&c)
	return c
}
