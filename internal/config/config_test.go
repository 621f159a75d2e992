package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/pkg/model"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"FOLLOWER_URL", "FOLLOWER_DB", "FOLLOWER_COLLECTION",
		"FOLLOW_LOG_LEVEL", "FOLLOWER_NATS_URL", "FOLLOWER_HEALTH_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_Files(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.Mkdir(dir, 0755))

	writeConfig(t, dir, "config.yml", `
follower:
  url: "mongodb://file:27017"
  db: app
  col: things
  heartbeat: 2s
  feed: longpoll
  query_params:
    tenant: acme
logging:
  level: debug
sink:
  enabled: true
  high_water: 100
health:
  addr: ":9090"
`)
	writeConfig(t, dir, "config.local.yml", `
follower:
  col: others
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://file:27017", cfg.Follower.URL)
	assert.Equal(t, "app", cfg.Follower.Database)
	assert.Equal(t, "others", cfg.Follower.Collection)
	assert.Equal(t, 2*time.Second, cfg.Follower.Heartbeat)
	assert.Equal(t, events.DisciplineLongpoll, cfg.Follower.Feed)
	assert.Equal(t, "acme", cfg.Follower.QueryParams["tenant"])
	assert.Equal(t, 3600, cfg.Follower.MaxRetrySeconds)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "debug", cfg.Logging.Console.Level)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "logs"), cfg.Logging.Dir)

	assert.True(t, cfg.Sink.Enabled)
	assert.Equal(t, 100, cfg.Sink.HighWater)
	assert.Equal(t, "FOLLOWER", cfg.Sink.Stream)
	assert.Equal(t, ":9090", cfg.Health.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FOLLOWER_URL", "memory://")
	t.Setenv("FOLLOWER_DB", "envdb")
	t.Setenv("FOLLOWER_COLLECTION", "envcol")
	t.Setenv("FOLLOW_LOG_LEVEL", "WARN")
	t.Setenv("FOLLOWER_NATS_URL", "nats://env:4222")
	t.Setenv("FOLLOWER_HEALTH_ADDR", ":8081")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "memory://", cfg.Follower.URL)
	assert.Equal(t, "envdb", cfg.Follower.Database)
	assert.Equal(t, "envcol", cfg.Follower.Collection)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "warn", cfg.Logging.Console.Level)
	assert.Equal(t, "warn", cfg.Logging.File.Level)
	assert.Equal(t, "nats://env:4222", cfg.Sink.URL)
	assert.Equal(t, ":8081", cfg.Health.Addr)
}

func TestLoad_MissingSourceIsConfigError(t *testing.T) {
	clearEnv(t)

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfig))
}

func TestLoad_BadFilesKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FOLLOWER_URL", "memory://")
	t.Setenv("FOLLOWER_DB", "db")
	t.Setenv("FOLLOWER_COLLECTION", "col")

	dir := t.TempDir()
	// A directory where a file is expected triggers the read error path.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config.yml"), 0755))
	writeConfig(t, dir, "config.local.yml", "not: [valid")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Follower.Heartbeat)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Sink.Enabled)
}

func TestSinkConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     SinkConfig
		wantErr string
	}{
		{name: "disabled ignores fields", cfg: SinkConfig{}},
		{name: "valid", cfg: SinkConfig{Enabled: true, URL: "nats://x", Stream: "S", HighWater: 10, LowWater: 2}},
		{name: "no url", cfg: SinkConfig{Enabled: true, Stream: "S"}, wantErr: "sink.url"},
		{name: "no stream", cfg: SinkConfig{Enabled: true, URL: "nats://x"}, wantErr: "sink.stream"},
		{name: "negative", cfg: SinkConfig{Enabled: true, URL: "nats://x", Stream: "S", HighWater: -1}, wantErr: "negative"},
		{name: "inverted marks", cfg: SinkConfig{Enabled: true, URL: "nats://x", Stream: "S", HighWater: 10, LowWater: 10}, wantErr: "low_water"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type mockServiceConfig struct {
	calls []string
	err   error
}

func (m *mockServiceConfig) ApplyDefaults()          { m.calls = append(m.calls, "defaults") }
func (m *mockServiceConfig) ApplyEnvOverrides()      { m.calls = append(m.calls, "env") }
func (m *mockServiceConfig) ResolvePaths(dir string) { m.calls = append(m.calls, "paths:"+dir) }
func (m *mockServiceConfig) Validate() error {
	m.calls = append(m.calls, "validate")
	return m.err
}

func TestApplyServiceConfigs(t *testing.T) {
	t.Parallel()
	a := &mockServiceConfig{}
	b := &mockServiceConfig{err: errors.New("bad")}
	c := &mockServiceConfig{}

	err := ApplyServiceConfigs("cfg", a, b, c)
	assert.EqualError(t, err, "bad")
	assert.Equal(t, []string{"defaults", "env", "paths:cfg", "validate"}, a.calls)
	assert.Equal(t, []string{"defaults", "env", "paths:cfg", "validate"}, b.calls)
	assert.Empty(t, c.calls)
}
