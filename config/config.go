package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tradeflow TradeflowConfig `yaml:"tradeflow"`
	Venue     VenueConfig     `yaml:"venue"`
	Engine    EngineConfig    `yaml:"engine"`
	Journal   JournalConfig   `yaml:"journal"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TradeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type VenueConfig struct {
	Binance BinanceConfig `yaml:"binance"`
}

type BinanceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Testnet        bool                 `yaml:"testnet"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`

	// Credentials come from the environment only, never from the file.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type EngineConfig struct {
	Grid GridEngineConfig `yaml:"grid"`
	Twap TwapEngineConfig `yaml:"twap"`
}

type GridEngineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StatusEvery  int           `yaml:"status_every"`
}

type TwapEngineConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
}

type JournalConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Directory string   `yaml:"directory"`
	S3        S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch     bool          `yaml:"cloudwatch"`
	Namespace      string        `yaml:"namespace"`
	Region         string        `yaml:"region"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultConfigPath is used when no -config flag is given. An environment
// specific file (config/config.<env>.yml) takes precedence when it exists
// for the current APP_ENV.
const DefaultConfigPath = "config/config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	resolved := resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)
	if resolved != path {
		if _, err := os.Stat(resolved); err == nil {
			path = resolved
		}
	}

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Venue: VenueConfig{
			Binance: BinanceConfig{
				Timeout: 10 * time.Second,
				RateLimit: RateLimitConfig{
					RequestsPerSecond: 5,
					BurstSize:         10,
				},
				Retry: RetryConfig{
					MaxAttempts: 3,
					BaseDelay:   time.Second,
					MaxDelay:    10 * time.Second,
				},
			},
		},
		Engine: EngineConfig{
			Grid: GridEngineConfig{
				PollInterval: 5 * time.Second,
				StatusEvery:  12,
			},
			Twap: TwapEngineConfig{
				DefaultInterval: 60 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			ReportInterval: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Venue credentials are environment-only
	config.Venue.Binance.APIKey = strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	config.Venue.Binance.APISecret = strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))

	if IsProductionLike(AppEnvironment()) && (config.Venue.Binance.APIKey == "" || config.Venue.Binance.APISecret == "") {
		return nil, fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET are required in %s", AppEnvironment())
	}

	// Override S3 settings from environment variables if available
	if config.Journal.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Journal.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Journal.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Journal.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Journal.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Journal.S3.Bucket = strings.TrimSpace(config.Journal.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Tradeflow.Name == "" {
		return fmt.Errorf("tradeflow.name is required")
	}

	if cfg.Tradeflow.Version == "" {
		return fmt.Errorf("tradeflow.version is required")
	}

	if cfg.Venue.Binance.Timeout <= 0 {
		return fmt.Errorf("venue.binance.timeout must be greater than 0")
	}

	if cfg.Venue.Binance.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("venue.binance.rate_limit.requests_per_second must be greater than 0")
	}

	if cfg.Venue.Binance.Retry.MaxAttempts < 1 {
		return fmt.Errorf("venue.binance.retry.max_attempts must be at least 1")
	}

	if cfg.Engine.Grid.PollInterval <= 0 {
		return fmt.Errorf("engine.grid.poll_interval must be greater than 0")
	}

	if cfg.Engine.Grid.StatusEvery <= 0 {
		return fmt.Errorf("engine.grid.status_every must be greater than 0")
	}

	if cfg.Engine.Twap.DefaultInterval <= 0 {
		return fmt.Errorf("engine.twap.default_interval must be greater than 0")
	}

	if cfg.Journal.Enabled && cfg.Journal.Directory == "" && !cfg.Journal.S3.Enabled {
		return fmt.Errorf("journal.directory is required when the journal is enabled without S3")
	}

	if cfg.Journal.S3.Enabled {
		if cfg.Journal.S3.Bucket == "" {
			return fmt.Errorf("journal.s3.bucket is required when S3 is enabled")
		}
		if cfg.Journal.S3.Region == "" {
			return fmt.Errorf("journal.s3.region is required when S3 is enabled")
		}
		if cfg.Journal.S3.AccessKeyID == "" || cfg.Journal.S3.SecretAccessKey == "" {
			return fmt.Errorf("journal.s3.access_key_id and journal.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Journal.S3.Bucket) {
			return fmt.Errorf("journal.s3.bucket '%s' is invalid", cfg.Journal.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
