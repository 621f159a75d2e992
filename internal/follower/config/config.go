package config

import (
	"fmt"
	"os"
	"time"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/pkg/model"
)

const (
	DefaultHeartbeat         = 30 * time.Second
	DefaultMaxRetrySeconds   = 60 * 60
	DefaultInitialRetryDelay = time.Second
	DefaultResponseGraceTime = 5 * time.Second
	DefaultChunkSize         = 4096
)

// FilterFunc decides whether a change is delivered. It receives private copies
// of the document and of the request ({"query": QueryParams}). Returning an
// error, or panicking, counts as a rejection.
type FilterFunc func(doc model.Document, req map[string]interface{}) (bool, error)

// Config holds configuration for one feed.
type Config struct {
	// URL is the data source connection string.
	URL string `yaml:"url"`

	// Database and Collection identify the followed collection.
	Database   string `yaml:"db"`
	Collection string `yaml:"col"`

	// Heartbeat is the expected interval between signs of life on a response.
	// A response is abandoned after Heartbeat * 1.25 of silence.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// MaxRetrySeconds caps the retry backoff.
	MaxRetrySeconds int `yaml:"max_retry_seconds"`

	// Inactivity restarts the feed when no change was delivered for this long.
	// Zero disables the mechanism.
	Inactivity time.Duration `yaml:"inactivity"`

	InitialRetryDelay time.Duration `yaml:"initial_retry_delay"`
	ResponseGraceTime time.Duration `yaml:"response_grace_time"`

	// Feed selects the wire discipline: "continuous" or "longpoll".
	Feed events.Discipline `yaml:"feed"`

	// FilterExpr is a CEL expression over `doc` and `req`, compiled into Filter
	// when Filter is not set.
	FilterExpr string `yaml:"filter"`

	// Filter is only settable from code.
	Filter FilterFunc `yaml:"-"`

	// QueryParams are extra request values handed to the filter.
	QueryParams map[string]interface{} `yaml:"query_params"`

	// ChunkSize is the read size used when streaming a response body.
	ChunkSize int `yaml:"chunk_size"`

	// Extra keeps unrecognized keys. They have no effect.
	Extra map[string]interface{} `yaml:",inline"`
}

// DefaultConfig returns sensible defaults for Config.
func DefaultConfig() Config {
	return Config{
		Heartbeat:         DefaultHeartbeat,
		MaxRetrySeconds:   DefaultMaxRetrySeconds,
		InitialRetryDelay: DefaultInitialRetryDelay,
		ResponseGraceTime: DefaultResponseGraceTime,
		Feed:              events.DisciplineContinuous,
		ChunkSize:         DefaultChunkSize,
	}
}

// MaxRetryDelay returns the backoff ceiling. It never drops below the initial delay.
func (c *Config) MaxRetryDelay() time.Duration {
	max := time.Duration(c.MaxRetrySeconds) * time.Second
	if max < c.InitialRetryDelay {
		return c.InitialRetryDelay
	}
	return max
}

// Validate validates the Config. Every failure wraps model.ErrConfig.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: database URL required", model.ErrConfig)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database name required", model.ErrConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", model.ErrConfig)
	}
	if !c.Feed.IsValid() {
		return fmt.Errorf("%w: the only valid feed options are %q and %q, got %q",
			model.ErrConfig, events.DisciplineContinuous, events.DisciplineLongpoll, c.Feed)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be positive, got %s", model.ErrConfig, c.Heartbeat)
	}
	if c.Inactivity < 0 {
		return fmt.Errorf("%w: inactivity must not be negative", model.ErrConfig)
	}
	if c.InitialRetryDelay <= 0 {
		return fmt.Errorf("%w: initial_retry_delay must be positive", model.ErrConfig)
	}
	if c.MaxRetrySeconds <= 0 {
		return fmt.Errorf("%w: max_retry_seconds must be positive", model.ErrConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", model.ErrConfig)
	}
	return nil
}

// ApplyDefaults fills in zero values with defaults.
// Heartbeat is left alone when negative so Validate can reject it.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Heartbeat == 0 {
		c.Heartbeat = defaults.Heartbeat
	}
	if c.MaxRetrySeconds == 0 {
		c.MaxRetrySeconds = defaults.MaxRetrySeconds
	}
	if c.InitialRetryDelay == 0 {
		c.InitialRetryDelay = defaults.InitialRetryDelay
	}
	if c.ResponseGraceTime == 0 {
		c.ResponseGraceTime = defaults.ResponseGraceTime
	}
	if c.Feed == "" {
		c.Feed = defaults.Feed
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaults.ChunkSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FOLLOWER_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("FOLLOWER_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("FOLLOWER_COLLECTION"); v != "" {
		c.Collection = v
	}
}

// ResolvePaths is a no-op: a feed config holds no paths.
func (c *Config) ResolvePaths(_ string) {}

// Clone returns a copy whose maps can be mutated independently.
func (c Config) Clone() Config {
	out := c
	if c.QueryParams != nil {
		out.QueryParams = make(map[string]interface{}, len(c.QueryParams))
		for k, v := range c.QueryParams {
			out.QueryParams[k] = v
		}
	}
	if c.Extra != nil {
		out.Extra = make(map[string]interface{}, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
