package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Cache    CacheConfig    `yaml:"cache"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MQTTConfig holds the broker connection used for both ingestion and publishing.
type MQTTConfig struct {
	Broker                string        `yaml:"broker"`
	ClientID              string        `yaml:"client_id"`
	Username              string        `yaml:"username"`
	Password              string        `yaml:"password"`
	SubscribeEnabled      bool          `yaml:"subscribe_enabled"`
	SubscribeTopics       []string      `yaml:"subscribe_topics"`
	QoS                   byte          `yaml:"qos"`
	ConnectTimeoutSeconds int           `yaml:"connect_timeout_seconds"`
	PublishTimeoutSeconds int           `yaml:"publish_timeout_seconds"`
	ConnectTimeout        time.Duration `yaml:"-"`
	PublishTimeout        time.Duration `yaml:"-"`
}

// IngestConfig tunes the telemetry worker pool and its store calls.
type IngestConfig struct {
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	StoreTimeoutSeconds int           `yaml:"store_timeout_seconds"`
	StoreTimeout        time.Duration `yaml:"-"`
	// DropStaleFields skips field and channel writes for a message received
	// before the device's stored last_seen.
	DropStaleFields bool `yaml:"drop_stale_fields"`
}

// CacheConfig selects the device resolver cache backend.
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // memory, redis or none
	TTLSeconds int           `yaml:"ttl_seconds"`
	TTL        time.Duration `yaml:"-"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the redis connection for the shared device cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SweeperConfig controls the background job that marks silent devices offline.
type SweeperConfig struct {
	Enabled             bool          `yaml:"enabled"`
	IntervalSeconds     int           `yaml:"interval_seconds"`
	OfflineAfterSeconds int           `yaml:"offline_after_seconds"`
	Interval            time.Duration `yaml:"-"`
	OfflineAfter        time.Duration `yaml:"-"`
}

// LogConfig holds the zap logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in every unset or invalid value and derives the durations.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds < 0 {
		cfg.Server.CacheTTLSeconds = 0
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "vendorflowd"
	}
	if len(cfg.MQTT.SubscribeTopics) == 0 {
		cfg.MQTT.SubscribeTopics = []string{"vendorflow/+/status", "vendorflow/+/telemetry"}
	}
	// Commands and telemetry are at-least-once; qos 2 is not used.
	if cfg.MQTT.QoS > 1 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.ConnectTimeoutSeconds <= 0 {
		cfg.MQTT.ConnectTimeoutSeconds = 5
	}
	if cfg.MQTT.PublishTimeoutSeconds <= 0 {
		cfg.MQTT.PublishTimeoutSeconds = 5
	}
	cfg.MQTT.ConnectTimeout = time.Duration(cfg.MQTT.ConnectTimeoutSeconds) * time.Second
	cfg.MQTT.PublishTimeout = time.Duration(cfg.MQTT.PublishTimeoutSeconds) * time.Second

	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = 256
	}
	if cfg.Ingest.StoreTimeoutSeconds <= 0 {
		cfg.Ingest.StoreTimeoutSeconds = 5
	}
	cfg.Ingest.StoreTimeout = time.Duration(cfg.Ingest.StoreTimeoutSeconds) * time.Second

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 60
	}
	cfg.Cache.TTL = time.Duration(cfg.Cache.TTLSeconds) * time.Second

	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	if cfg.Sweeper.OfflineAfterSeconds <= 0 {
		cfg.Sweeper.OfflineAfterSeconds = 300
	}
	cfg.Sweeper.Interval = time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second
	cfg.Sweeper.OfflineAfter = time.Duration(cfg.Sweeper.OfflineAfterSeconds) * time.Second

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
