package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultLoggingConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.True(t, cfg.Rotation.Compress)
	assert.True(t, cfg.Console.Enabled)
	assert.False(t, cfg.File.Enabled)
	assert.Equal(t, 10*time.Second, cfg.SuppressWindow)
}

func TestLoggingConfig_YAML(t *testing.T) {
	t.Parallel()
	yamlData := `
level: "debug"
format: "json"
dir: "/var/log/follower"
suppress_window: 30s
rotation:
  max_size: 50
  compress: false
console:
  enabled: false
file:
  enabled: true
  level: "warn"
`
	var cfg LoggingConfig
	require.NoError(t, yaml.Unmarshal([]byte(yamlData), &cfg))
	cfg.ApplyDefaults()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/var/log/follower", cfg.Dir)
	assert.Equal(t, 30*time.Second, cfg.SuppressWindow)
	assert.Equal(t, 50, cfg.Rotation.MaxSize)
	assert.Equal(t, 10, cfg.Rotation.MaxBackups)
	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, "warn", cfg.File.Level)
	assert.Equal(t, "json", cfg.File.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoggingConfig_ResolvePaths(t *testing.T) {
	t.Parallel()
	abs := filepath.Join(t.TempDir(), "logs")
	tests := []struct {
		dir  string
		want string
	}{
		{dir: "logs", want: filepath.Join("deploy", "logs")},
		{dir: "../shared/logs", want: filepath.Join("deploy", "shared", "logs")},
		{dir: abs, want: abs},
		{dir: "", want: ""},
	}
	for _, tt := range tests {
		cfg := LoggingConfig{Dir: tt.dir}
		cfg.ResolvePaths(filepath.Join("deploy", "config"))
		assert.Equal(t, tt.want, cfg.Dir, "dir %q", tt.dir)
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	t.Parallel()
	valid := func() LoggingConfig {
		cfg := DefaultLoggingConfig()
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*LoggingConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*LoggingConfig) {}},
		{name: "level", mutate: func(c *LoggingConfig) { c.Level = "trace" }, wantErr: "invalid log level"},
		{name: "format", mutate: func(c *LoggingConfig) { c.Format = "xml" }, wantErr: "invalid log format"},
		{name: "file without dir", mutate: func(c *LoggingConfig) { c.File.Enabled = true; c.Dir = "" }, wantErr: "directory"},
		{name: "console level", mutate: func(c *LoggingConfig) { c.Console.Level = "loud" }, wantErr: "invalid console log level"},
		{name: "file format", mutate: func(c *LoggingConfig) { c.File.Enabled = true; c.File.Format = "xml" }, wantErr: "invalid file log format"},
		{name: "disabled file unchecked", mutate: func(c *LoggingConfig) { c.File.Format = "xml" }},
		{name: "window", mutate: func(c *LoggingConfig) { c.SuppressWindow = -time.Second }, wantErr: "suppress_window"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingConfig_EnvOverride(t *testing.T) {
	t.Setenv("FOLLOW_LOG_LEVEL", "Debug")
	cfg := DefaultLoggingConfig()
	cfg.ApplyDefaults()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "debug", cfg.Console.Level)
	assert.Equal(t, "debug", cfg.File.Level)
}
