package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Session struct {
		URL       string `yaml:"url"`
		UserID    string `yaml:"user_id"`
		UserName  string `yaml:"user_name"`
		SessionID string `yaml:"session_id"`
	} `yaml:"session"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Speaking struct {
		Interval  time.Duration `yaml:"interval"`
		Threshold uint8         `yaml:"threshold"`
	} `yaml:"speaking"`

	Media struct {
		// Paths to prerecorded media; empty values select synthetic sources.
		AudioFile  string `yaml:"audio_file"`
		VideoFile  string `yaml:"video_file"`
		ScreenFile string `yaml:"screen_file"`
	} `yaml:"media"`

	Diagnostics struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"diagnostics"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Session.URL == "" {
		return fmt.Errorf("session.url must not be empty")
	}
	if c.Session.UserID == "" {
		return fmt.Errorf("session.user_id must not be empty")
	}
	if c.Session.SessionID == "" {
		return fmt.Errorf("session.session_id must not be empty")
	}

	if c.Speaking.Interval <= 0 {
		return fmt.Errorf("speaking.interval must be > 0")
	}

	if c.Diagnostics.Enabled && c.Diagnostics.Address == "" {
		return fmt.Errorf("diagnostics.address must not be empty when diagnostics.enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults plus env apply.
func Load(configPath string) (*Config, error) {
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

	cfg.Session.URL = "ws://localhost:8080/ws"
	cfg.Session.UserID = ""
	cfg.Session.SessionID = ""

	cfg.Speaking.Interval = 250 * time.Millisecond
	cfg.Speaking.Threshold = 12

	cfg.Diagnostics.Enabled = false
	cfg.Diagnostics.Address = ":9091"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROOMLINK_URL"); v != "" {
		c.Session.URL = v
	}
	if v := os.Getenv("ROOMLINK_USER_ID"); v != "" {
		c.Session.UserID = v
	}
	if v := os.Getenv("ROOMLINK_SESSION_ID"); v != "" {
		c.Session.SessionID = v
	}
	if v := os.Getenv("ROOMLINK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
