package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Panel struct {
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		MaxHistory       int           `yaml:"max_history"`
		LatencyWindow    int           `yaml:"latency_window"`
	} `yaml:"panel"`

	Stream struct {
		SnapshotsPerSecond float64       `yaml:"snapshots_per_second"`
		Burst              int           `yaml:"burst"`
		WriteTimeout       time.Duration `yaml:"write_timeout"`
	} `yaml:"stream"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Simulator struct {
		Enabled  bool          `yaml:"enabled"`
		Clients  int           `yaml:"clients"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"simulator"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Panel
	if c.Panel.SnapshotInterval <= 0 {
		return fmt.Errorf("panel.snapshot_interval must be > 0")
	}
	if c.Panel.MaxHistory <= 0 {
		return fmt.Errorf("panel.max_history must be > 0")
	}
	if c.Panel.LatencyWindow <= 0 {
		return fmt.Errorf("panel.latency_window must be > 0")
	}

	// Stream
	if c.Stream.SnapshotsPerSecond <= 0 {
		return fmt.Errorf("stream.snapshots_per_second must be > 0")
	}
	if c.Stream.Burst <= 0 {
		return fmt.Errorf("stream.burst must be > 0")
	}
	if c.Stream.WriteTimeout <= 0 {
		return fmt.Errorf("stream.write_timeout must be > 0")
	}

	// Auth
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
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
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Simulator
	if c.Simulator.Enabled {
		if c.Simulator.Clients <= 0 {
			return fmt.Errorf("simulator.clients must be > 0 when simulator.enabled=true")
		}
		if c.Simulator.Interval <= 0 {
			return fmt.Errorf("simulator.interval must be > 0 when simulator.enabled=true")
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

	cfg.Server.Address = ":8099"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Panel.SnapshotInterval = time.Second
	cfg.Panel.MaxHistory = 1000
	cfg.Panel.LatencyWindow = 256

	cfg.Stream.SnapshotsPerSecond = 10
	cfg.Stream.Burst = 20
	cfg.Stream.WriteTimeout = 10 * time.Second

	cfg.Auth.Enabled = false

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "broker-devtools"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Storage.Path = "devtools-settings.json"

	cfg.Simulator.Enabled = false
	cfg.Simulator.Clients = 3
	cfg.Simulator.Interval = 500 * time.Millisecond

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("DEVTOOLS_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("DEVTOOLS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("DEVTOOLS_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("DEVTOOLS_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if path := os.Getenv("DEVTOOLS_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
}
