package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Artifacts ArtifactsConfig
	ML        MLConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	CORSOrigins  string
	Development  bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ArtifactsConfig selects where serialized models live and how calls to
// that backend are retried and guarded.
type ArtifactsConfig struct {
	Backend           string // "sqlite", "redis" or "memory"
	RetryAttempts     int
	RetryDelayMS      int
	BreakerFailures   uint32
	BreakerTimeoutSec int
	PersistScores     bool
}

type MLConfig struct {
	WindowDays     int
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	Seed           int64
	TopSlots       int
	Timezone       string
}

type CacheConfig struct {
	Enabled bool
	TTLSec  int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Window returns the trailing history window used for retraining.
func (c MLConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// Location resolves the configured timezone, falling back to UTC.
func (c MLConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/timebloom")

	v.SetEnvPrefix("TIMEBLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Artifacts.Backend {
	case "sqlite", "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("artifacts backend %q requires redis.enabled", c.Artifacts.Backend)
		}
	default:
		return fmt.Errorf("unknown artifacts backend %q", c.Artifacts.Backend)
	}

	if c.Cache.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("cache.enabled requires redis.enabled")
	}
	if c.ML.WindowDays <= 0 {
		return fmt.Errorf("ml.windowDays must be positive, got %d", c.ML.WindowDays)
	}
	if c.ML.Timezone != "" {
		if _, err := time.LoadLocation(c.ML.Timezone); err != nil {
			return fmt.Errorf("invalid ml.timezone: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.corsOrigins", "*")
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/timebloom.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("artifacts.backend", "sqlite")
	v.SetDefault("artifacts.retryAttempts", 3)
	v.SetDefault("artifacts.retryDelayMS", 100)
	v.SetDefault("artifacts.breakerFailures", 5)
	v.SetDefault("artifacts.breakerTimeoutSec", 30)
	v.SetDefault("artifacts.persistScores", true)

	v.SetDefault("ml.windowDays", 30)
	v.SetDefault("ml.trees", 100)
	v.SetDefault("ml.maxDepth", 0)
	v.SetDefault("ml.minSamplesLeaf", 1)
	v.SetDefault("ml.seed", 42)
	v.SetDefault("ml.topSlots", 3)
	v.SetDefault("ml.timezone", "UTC")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttlSec", 300)

	v.SetDefault("ratelimit.requestsPerMinute", 120)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
