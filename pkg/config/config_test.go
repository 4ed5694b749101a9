package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "normal", cfg.Media.Upstream)
	assert.Equal(t, 3*time.Second, cfg.Media.NotificationTimeout)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.MessagesPerSecond = 0
	cfg.RateLimiting.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http url", func(c *Config) { c.Server.URL = "http://localhost/ws" }},
		{"empty group", func(c *Config) { c.Server.Group = "" }},
		{"empty username without token", func(c *Config) { c.Server.Username = "" }},
		{"pong not above ping", func(c *Config) { c.Server.PongTimeout = c.Server.PingInterval }},
		{"accept mode", func(c *Config) { c.Media.Accept = "video" }},
		{"upstream tier", func(c *Config) { c.Media.Upstream = "ultra" }},
		{"resolution", func(c *Config) { c.Media.Resolution = "4k" }},
		{"notification timeout", func(c *Config) { c.Media.NotificationTimeout = 0 }},
		{"device kind", func(c *Config) {
			c.Media.Devices = []DeviceConfig{{ID: "cam", Kind: "speaker", File: "a.ivf"}}
		}},
		{"device duplicated", func(c *Config) {
			c.Media.Devices = []DeviceConfig{
				{ID: "cam", Kind: "videoinput", File: "a.ivf"},
				{ID: "cam", Kind: "videoinput", File: "b.ivf"},
			}
		}},
		{"device without file", func(c *Config) {
			c.Media.Devices = []DeviceConfig{{ID: "mic", Kind: "audioinput"}}
		}},
		{"port range inverted", func(c *Config) {
			c.WebRTC.PortRange.Min = 50000
			c.WebRTC.PortRange.Max = 40000
		}},
		{"ws rate", func(c *Config) { c.RateLimiting.MessagesPerSecond = 0 }},
		{"ws burst", func(c *Config) { c.RateLimiting.Burst = 0 }},
		{"reconnect multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }},
		{"reconnect delays", func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }},
		{"control address", func(c *Config) {
			c.Control.Enabled = true
			c.Control.Address = ""
		}},
		{"redis channel", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Channel = ""
		}},
		{"tracing sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_TokenAllowsEmptyUsername(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Username = ""
	cfg.Server.Token = "eyJhbGciOiJIUzI1NiJ9.e30.sig"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.URL, cfg.Server.URL)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyrite.yaml")
	data := []byte(`
server:
  url: wss://galene.example.org/ws
  group: team/standup
  username: bob
media:
  upstream: low
  resolution: 720p
  devices:
    - id: cam0
      kind: videoinput
      file: testdata/cam.ivf
      loop: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("PYRITE_USERNAME", "carol")
	t.Setenv("PYRITE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://galene.example.org/ws", cfg.Server.URL)
	assert.Equal(t, "team/standup", cfg.Server.Group)
	assert.Equal(t, "carol", cfg.Server.Username)
	assert.Equal(t, "low", cfg.Media.Upstream)
	assert.Equal(t, "720p", cfg.Media.Resolution)
	require.Len(t, cfg.Media.Devices, 1)
	assert.True(t, cfg.Media.Devices[0].Loop)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Server.HandshakeTimeout)
}

func TestLoad_InvalidFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyrite.yaml")
	require.NoError(t, os.WriteFile(path, []byte("media:\n  accept: video\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
