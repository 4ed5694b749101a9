package config

import (
	"fmt"
	"os"
	"time"

	"pyrite/pkg/validation"

	"gopkg.in/yaml.v2"
)

// DeviceConfig describes one virtual capture device backed by a media file.
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Kind  string `yaml:"kind"` // videoinput | audioinput
	Label string `yaml:"label"`
	File  string `yaml:"file"`
	Loop  bool   `yaml:"loop"`
}

type Config struct {
	Server struct {
		URL              string        `yaml:"url"`
		Group            string        `yaml:"group"`
		Username         string        `yaml:"username"`
		Password         string        `yaml:"password"`
		Token            string        `yaml:"token"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Media struct {
		Accept              string         `yaml:"accept"`
		Upstream            string         `yaml:"upstream"`
		Resolution          string         `yaml:"resolution"`
		Camera              bool           `yaml:"camera"`
		Microphone          bool           `yaml:"microphone"`
		NotificationTimeout time.Duration  `yaml:"notification_timeout"`
		Devices             []DeviceConfig `yaml:"devices"`
		Display             struct {
			File string `yaml:"file"`
		} `yaml:"display"`
	} `yaml:"media"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Reconnect struct {
		Enabled      bool          `yaml:"enabled"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
	} `yaml:"reconnect"`

	Control struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
		// Token, when set, is required as a bearer token on every request.
		Token     string `yaml:"token"`
		RateLimit struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"rate_limit"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

var (
	acceptModes   = map[string]bool{"everything": true, "audio": true, "screenshare": true, "nothing": true}
	upstreamTiers = map[string]bool{"lowest": true, "low": true, "normal": true, "unlimited": true}
	resolutions   = map[string]bool{"default": true, "720p": true, "1080p": true}
	deviceKinds   = map[string]bool{"videoinput": true, "audioinput": true}
)

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if err := validation.ValidateURL(c.Server.URL); err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if err := validation.ValidateGroupName(c.Server.Group); err != nil {
		return fmt.Errorf("server.group: %w", err)
	}
	if c.Server.Token == "" {
		if err := validation.ValidateUsername(c.Server.Username); err != nil {
			return fmt.Errorf("server.username: %w", err)
		}
	}
	if c.Server.HandshakeTimeout <= 0 {
		return fmt.Errorf("server.handshake_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server.ping_interval must be > 0")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout must be > server.ping_interval")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}

	// Media
	if !acceptModes[c.Media.Accept] {
		return fmt.Errorf("media.accept must be one of everything, audio, screenshare, nothing")
	}
	// An unknown upstream tier is tolerated at runtime, but a typo in the
	// config file is still worth rejecting early.
	if !upstreamTiers[c.Media.Upstream] {
		return fmt.Errorf("media.upstream must be one of lowest, low, normal, unlimited")
	}
	if !resolutions[c.Media.Resolution] {
		return fmt.Errorf("media.resolution must be one of default, 720p, 1080p")
	}
	if c.Media.NotificationTimeout <= 0 {
		return fmt.Errorf("media.notification_timeout must be > 0")
	}
	seen := make(map[string]bool)
	for i, d := range c.Media.Devices {
		if d.ID == "" {
			return fmt.Errorf("media.devices[%d].id must not be empty", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("media.devices[%d].id %q is duplicated", i, d.ID)
		}
		seen[d.ID] = true
		if !deviceKinds[d.Kind] {
			return fmt.Errorf("media.devices[%d].kind must be videoinput or audioinput", i)
		}
		if d.File == "" {
			return fmt.Errorf("media.devices[%d].file must not be empty", i)
		}
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Reconnect
	if c.Reconnect.Enabled {
		if c.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("reconnect.max_attempts must be >= 0")
		}
		if c.Reconnect.InitialDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			return fmt.Errorf("reconnect delays must satisfy 0 < initial_delay <= max_delay")
		}
		if c.Reconnect.Multiplier < 1 {
			return fmt.Errorf("reconnect.multiplier must be >= 1")
		}
	}

	// Control
	if c.Control.Enabled && c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty when control.enabled=true")
	}
	if c.Control.RateLimit.RequestsPerSecond < 0 || c.Control.RateLimit.Burst < 0 || c.Control.RateLimit.MaxConcurrent < 0 {
		return fmt.Errorf("control.rate_limit values must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.Channel == "" {
			return fmt.Errorf("redis.channel must not be empty when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.URL = "ws://localhost:8443/ws"
	cfg.Server.Group = "public"
	cfg.Server.Username = "pyrite"
	cfg.Server.HandshakeTimeout = 10 * time.Second
	cfg.Server.PingInterval = 20 * time.Second
	cfg.Server.PongTimeout = 60 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second

	cfg.Media.Accept = "everything"
	cfg.Media.Upstream = "normal"
	cfg.Media.Resolution = "default"
	cfg.Media.Camera = true
	cfg.Media.Microphone = true
	cfg.Media.NotificationTimeout = 3 * time.Second

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Reconnect.Enabled = true
	cfg.Reconnect.MaxAttempts = 3
	cfg.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Reconnect.MaxDelay = 10 * time.Second
	cfg.Reconnect.Multiplier = 2.0

	cfg.Control.Enabled = false
	cfg.Control.Address = "127.0.0.1:8090"
	cfg.Control.RateLimit.RequestsPerSecond = 20
	cfg.Control.RateLimit.Burst = 40
	cfg.Control.RateLimit.MaxConcurrent = 16

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.Channel = "pyrite:events"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PYRITE_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("PYRITE_GROUP"); v != "" {
		c.Server.Group = v
	}
	if v := os.Getenv("PYRITE_USERNAME"); v != "" {
		c.Server.Username = v
	}
	if v := os.Getenv("PYRITE_PASSWORD"); v != "" {
		c.Server.Password = v
	}
	if v := os.Getenv("PYRITE_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("PYRITE_CONTROL_TOKEN"); v != "" {
		c.Control.Token = v
	}
	if v := os.Getenv("PYRITE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
