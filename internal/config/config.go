package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// adiskd - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
	Dctl      DctlConfig      `yaml:"dctl"`
	Stats     StatsConfig     `yaml:"stats"`
	Fleet     FleetConfig     `yaml:"fleet"`
	IOTap     IOTapConfig     `yaml:"iotap"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// TransportConfig configures the gRPC CoreServer internal/transport exposes
// to searchlet clients.
type TransportConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	SpiffeSocketPath string `yaml:"spiffe_socket_path"`
	MaxConnections   int    `yaml:"max_connections"`
}

// SearchConfig sizes the per-search pipeline internal/search drives.
type SearchConfig struct {
	RingSize       int `yaml:"ring_size"`
	PendHighWater  int `yaml:"pend_high_water"`
	PendLowWater   int `yaml:"pend_low_water"`
	EvaluatorCount int `yaml:"evaluator_count"`
}

// CacheConfig controls the object/filter cache and filter sandbox pool.
type CacheConfig struct {
	RootPath           string `yaml:"root_path"`
	SandboxMinIdle     int    `yaml:"sandbox_min_idle"`
	SandboxMaxCapacity int    `yaml:"sandbox_max_capacity"`
}

// DctlConfig points at the control-tree's unix socket.
type DctlConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// StatsConfig selects where internal/stats mirrors dctl's counters and
// where its Prometheus /metrics endpoint binds.
type StatsConfig struct {
	Sink               string        `yaml:"sink"` // log | postgres | spanner
	LogPath            string        `yaml:"log_path"`
	PostgresURL        string        `yaml:"postgres_url"`
	Spanner            SpannerConfig `yaml:"spanner"`
	PrometheusBindAddr string        `yaml:"prometheus_bind_addr"`
	PollIntervalMs     int           `yaml:"poll_interval_ms"`
}

type SpannerConfig struct {
	ProjectID  string `yaml:"project_id"`
	InstanceID string `yaml:"instance_id"`
	DatabaseID string `yaml:"database_id"`
}

// FleetConfig wires internal/fleet's Pub/Sub broadcaster and Cloud Tasks
// housekeeping scheduler.
type FleetConfig struct {
	PubSub           PubSubConfig     `yaml:"pubsub"`
	CloudTasks       CloudTasksConfig `yaml:"cloud_tasks"`
	SweepIntervalSec int              `yaml:"sweep_interval_sec"`
}

// PubSubConfig for the generation-bump broadcast topic/subscription.
type PubSubConfig struct {
	ProjectID      string `yaml:"project_id"`
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
	Enabled        bool   `yaml:"enabled"`
}

// CloudTasksConfig for the idle-cache-eviction sweep scheduler.
type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	TargetURL  string `yaml:"target_url"`
	Enabled    bool   `yaml:"enabled"`
}

// IOTapConfig toggles the optional eBPF I/O latency tap.
type IOTapConfig struct {
	Enabled bool `yaml:"enabled"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from YAML file
func LoadConfig(path string) (*Config, error) {
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

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Server
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("ADISKD_ENV", c.Server.Env)
	c.Server.Interface = getEnv("ADISKD_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	// Transport
	c.Transport.ListenAddr = getEnv("ADISKD_LISTEN_ADDR", c.Transport.ListenAddr)
	c.Transport.SpiffeSocketPath = getEnv("ADISKD_SPIFFE_SOCKET", c.Transport.SpiffeSocketPath)
	if v := getEnvInt("ADISKD_MAX_CONNECTIONS", 0); v > 0 {
		c.Transport.MaxConnections = v
	}

	// Search pipeline
	if v := getEnvInt("ADISKD_RING_SIZE", 0); v > 0 {
		c.Search.RingSize = v
	}
	if v := getEnvInt("ADISKD_PEND_HIGH_WATER", 0); v > 0 {
		c.Search.PendHighWater = v
	}
	if v := getEnvInt("ADISKD_PEND_LOW_WATER", 0); v > 0 {
		c.Search.PendLowWater = v
	}
	if v := getEnvInt("ADISKD_EVALUATOR_COUNT", 0); v > 0 {
		c.Search.EvaluatorCount = v
	}

	// Cache / sandbox pool
	c.Cache.RootPath = getEnv("ADISKD_CACHE_ROOT", c.Cache.RootPath)
	if v := getEnvInt("ADISKD_SANDBOX_MIN_IDLE", 0); v > 0 {
		c.Cache.SandboxMinIdle = v
	}
	if v := getEnvInt("ADISKD_SANDBOX_MAX_CAPACITY", 0); v > 0 {
		c.Cache.SandboxMaxCapacity = v
	}

	// dctl control tree
	c.Dctl.SocketPath = getEnv("ADISKD_DCTL_SOCKET", c.Dctl.SocketPath)

	// Stats mirroring
	c.Stats.Sink = getEnv("ADISKD_STATS_SINK", c.Stats.Sink)
	c.Stats.LogPath = getEnv("ADISKD_STATS_LOG_PATH", c.Stats.LogPath)
	c.Stats.PostgresURL = getEnv("ADISKD_STATS_POSTGRES_URL", c.Stats.PostgresURL)
	c.Stats.Spanner.ProjectID = getEnv("SPANNER_PROJECT_ID", c.Stats.Spanner.ProjectID)
	c.Stats.Spanner.InstanceID = getEnv("SPANNER_INSTANCE_ID", c.Stats.Spanner.InstanceID)
	c.Stats.Spanner.DatabaseID = getEnv("SPANNER_DATABASE_ID", c.Stats.Spanner.DatabaseID)
	c.Stats.PrometheusBindAddr = getEnv("ADISKD_PROMETHEUS_ADDR", c.Stats.PrometheusBindAddr)
	if v := getEnvInt("ADISKD_STATS_POLL_INTERVAL_MS", 0); v > 0 {
		c.Stats.PollIntervalMs = v
	}

	// Fleet - Pub/Sub generation bumps
	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.Fleet.PubSub.ProjectID = projectID
		c.Fleet.CloudTasks.ProjectID = projectID // share project
	}
	c.Fleet.PubSub.TopicID = getEnv("ADISKD_PUBSUB_TOPIC_ID", c.Fleet.PubSub.TopicID)
	c.Fleet.PubSub.SubscriptionID = getEnv("ADISKD_PUBSUB_SUBSCRIPTION_ID", c.Fleet.PubSub.SubscriptionID)
	c.Fleet.PubSub.Enabled = getEnvBool("ADISKD_PUBSUB_ENABLED", c.Fleet.PubSub.Enabled)

	// Fleet - Cloud Tasks housekeeping
	c.Fleet.CloudTasks.LocationID = getEnv("ADISKD_CLOUD_TASKS_LOCATION", c.Fleet.CloudTasks.LocationID)
	c.Fleet.CloudTasks.QueueID = getEnv("ADISKD_CLOUD_TASKS_QUEUE", c.Fleet.CloudTasks.QueueID)
	c.Fleet.CloudTasks.TargetURL = getEnv("ADISKD_CLOUD_TASKS_TARGET_URL", c.Fleet.CloudTasks.TargetURL)
	c.Fleet.CloudTasks.Enabled = getEnvBool("ADISKD_CLOUD_TASKS_ENABLED", c.Fleet.CloudTasks.Enabled)
	if v := getEnvInt("ADISKD_SWEEP_INTERVAL_SEC", 0); v > 0 {
		c.Fleet.SweepIntervalSec = v
	}

	// I/O latency tap
	c.IOTap.Enabled = getEnvBool("ADISKD_IOTAP_ENABLED", c.IOTap.Enabled)

	// Apply defaults for zero values
	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Transport.ListenAddr == "" {
		c.Transport.ListenAddr = ":9631"
	}
	if c.Transport.MaxConnections == 0 {
		c.Transport.MaxConnections = 64
	}
	if c.Search.RingSize == 0 {
		c.Search.RingSize = 256
	}
	if c.Search.PendHighWater == 0 {
		c.Search.PendHighWater = 192
	}
	if c.Search.PendLowWater == 0 {
		c.Search.PendLowWater = 64
	}
	if c.Search.EvaluatorCount == 0 {
		c.Search.EvaluatorCount = 4
	}
	if c.Cache.RootPath == "" {
		c.Cache.RootPath = "/var/cache/adiskd"
	}
	if c.Cache.SandboxMinIdle == 0 {
		c.Cache.SandboxMinIdle = 1
	}
	if c.Cache.SandboxMaxCapacity == 0 {
		c.Cache.SandboxMaxCapacity = 8
	}
	if c.Dctl.SocketPath == "" {
		c.Dctl.SocketPath = "/var/run/adiskd/dctl.sock"
	}
	if c.Stats.Sink == "" {
		c.Stats.Sink = "log"
	}
	if c.Stats.LogPath == "" {
		c.Stats.LogPath = "/var/log/adiskd/stats.log"
	}
	if c.Stats.PrometheusBindAddr == "" {
		c.Stats.PrometheusBindAddr = ":9632"
	}
	if c.Stats.PollIntervalMs == 0 {
		c.Stats.PollIntervalMs = 1000
	}
	if c.Fleet.PubSub.TopicID == "" {
		c.Fleet.PubSub.TopicID = "adiskd-gen-bumps"
	}
	if c.Fleet.CloudTasks.LocationID == "" {
		c.Fleet.CloudTasks.LocationID = "us-central1"
	}
	if c.Fleet.CloudTasks.QueueID == "" {
		c.Fleet.CloudTasks.QueueID = "adiskd-sweeps"
	}
	if c.Fleet.SweepIntervalSec == 0 {
		c.Fleet.SweepIntervalSec = 300
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
