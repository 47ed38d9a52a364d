package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/assetcache/internal/observability"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig               `mapstructure:"server"`
	Assets  AssetsConfig               `mapstructure:"assets"`
	Mirror  MirrorConfig               `mapstructure:"mirror"`
	Metrics MetricsConfig              `mapstructure:"metrics"`
	Tracing observability.TracerConfig `mapstructure:"tracing"`
	Debug   bool                       `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RootPrefix   string        `mapstructure:"root_prefix"` // application root prefix stripped from request paths
}

// AssetsConfig contains the asset compiler settings
type AssetsConfig struct {
	WebRoot          string        `mapstructure:"web_root"`
	ConfigFile       string        `mapstructure:"config_file"` // bundle configuration document
	CacheMaxAge      time.Duration `mapstructure:"cache_max_age"`
	StaticMaxAge     time.Duration `mapstructure:"static_max_age"` // plain web root files, 0 = no Cache-Control
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	FetchRateLimit   float64       `mapstructure:"fetch_rate_limit"` // fetches per second, 0 = unlimited
	LoopbackHost     string        `mapstructure:"loopback_host"`
	Intercept        []string      `mapstructure:"intercept"`
	BodyCacheEntries int           `mapstructure:"body_cache_entries"` // finalized bodies kept in memory, 0 = disabled
}

// MirrorConfig contains the artifact mirror settings
type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Provider  string `mapstructure:"provider"` // "s3" or "local"
	LocalPath string `mapstructure:"local_path"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig contains Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file, environment and defaults. An empty
// configFile searches the default locations.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("assetcache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/assetcache")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("ASSETCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.root_prefix", "")

	// Asset defaults
	v.SetDefault("assets.web_root", "./web")
	v.SetDefault("assets.config_file", "./assets.yaml")
	v.SetDefault("assets.cache_max_age", "720h") // 30 days
	v.SetDefault("assets.static_max_age", "0s")
	v.SetDefault("assets.fetch_timeout", "30s")
	v.SetDefault("assets.fetch_rate_limit", 0)
	v.SetDefault("assets.loopback_host", "127.0.0.1")
	v.SetDefault("assets.intercept", []string{"**/*.js", "**/*.css", "**/*.gss", "**/*.soy"})
	v.SetDefault("assets.body_cache_entries", 256)

	// Mirror defaults
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.provider", "s3")
	v.SetDefault("mirror.region", "us-east-1")
	v.SetDefault("mirror.use_ssl", true)
	v.SetDefault("mirror.prefix", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	tracing := observability.DefaultTracerConfig()
	v.SetDefault("tracing.enabled", tracing.Enabled)
	v.SetDefault("tracing.endpoint", tracing.Endpoint)
	v.SetDefault("tracing.service_name", tracing.ServiceName)
	v.SetDefault("tracing.environment", tracing.Environment)
	v.SetDefault("tracing.sample_rate", tracing.SampleRate)
	v.SetDefault("tracing.insecure", tracing.Insecure)

	v.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration error: %w", err)
	}
	if err := c.Assets.Validate(); err != nil {
		return fmt.Errorf("assets configuration error: %w", err)
	}
	if err := c.Mirror.Validate(); err != nil {
		return fmt.Errorf("mirror configuration error: %w", err)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1")
	}
	return nil
}

// Validate validates server configuration
func (sc *ServerConfig) Validate() error {
	if sc.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if sc.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got: %v", sc.ReadTimeout)
	}
	if sc.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got: %v", sc.WriteTimeout)
	}
	if sc.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got: %v", sc.IdleTimeout)
	}
	return nil
}

// Validate validates asset compiler configuration
func (ac *AssetsConfig) Validate() error {
	if ac.WebRoot == "" {
		return fmt.Errorf("web_root cannot be empty")
	}
	if ac.ConfigFile == "" {
		return fmt.Errorf("config_file cannot be empty")
	}
	if ac.CacheMaxAge < 0 {
		return fmt.Errorf("cache_max_age cannot be negative, got: %v", ac.CacheMaxAge)
	}
	if ac.StaticMaxAge < 0 {
		return fmt.Errorf("static_max_age cannot be negative, got: %v", ac.StaticMaxAge)
	}
	if ac.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got: %v", ac.FetchTimeout)
	}
	if ac.FetchRateLimit < 0 {
		return fmt.Errorf("fetch_rate_limit cannot be negative, got: %v", ac.FetchRateLimit)
	}
	if ac.BodyCacheEntries < 0 {
		return fmt.Errorf("body_cache_entries cannot be negative, got: %d", ac.BodyCacheEntries)
	}
	for _, glob := range ac.Intercept {
		if !doublestar.ValidatePattern(glob) {
			return fmt.Errorf("invalid intercept glob %q", glob)
		}
	}
	return nil
}

// Validate validates mirror configuration
func (mc *MirrorConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	switch mc.Provider {
	case "", "s3":
		if mc.Endpoint == "" || mc.AccessKey == "" || mc.SecretKey == "" || mc.Bucket == "" {
			return fmt.Errorf("mirror configuration is incomplete")
		}
	case "local":
		if mc.LocalPath == "" {
			return fmt.Errorf("local_path is required for the local mirror")
		}
	default:
		return fmt.Errorf("invalid mirror provider: %s (valid: s3, local)", mc.Provider)
	}
	return nil
}
