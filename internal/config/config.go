package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls the optional status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Mode    string `mapstructure:"mode"`
}

// ProgressConfig configures the durable progress store.
type ProgressConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	DSN             string        `mapstructure:"dsn"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects and configures the asset storage backend.
type StorageConfig struct {
	Backend string   `mapstructure:"backend"` // fs, s3, or r2
	Dir     string   `mapstructure:"dir"`     // base directory for the fs backend
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// HarvestConfig bounds per-source page processing.
type HarvestConfig struct {
	PageWorkers int           `mapstructure:"page_workers"` // concurrent units per source
	RetryBudget int           `mapstructure:"retry_budget"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
	Jitter      float64       `mapstructure:"jitter"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	MaxPages    int           `mapstructure:"max_pages"` // hard cap per seed, 0 = unlimited
}

// AssetsConfig bounds the shared image download pool.
type AssetsConfig struct {
	Workers     int           `mapstructure:"workers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryBudget int           `mapstructure:"retry_budget"`
}

// SinkConfig configures the record output.
type SinkConfig struct {
	Dir         string   `mapstructure:"dir"`
	Placeholder string   `mapstructure:"placeholder"` // value written for missing fields
	Columns     []string `mapstructure:"columns"`     // output column order
}

// SourceConfig describes one origin to harvest.
type SourceConfig struct {
	ID        string        `mapstructure:"id"`
	Adapter   string        `mapstructure:"adapter"` // static or browser
	Enabled   bool          `mapstructure:"enabled"`
	Seeds     []string      `mapstructure:"seeds"`      // first-page URLs, one per partition
	PageParam string        `mapstructure:"page_param"` // query param carrying the page number
	Listing   ListingConfig `mapstructure:"listing"`
}

// ListingConfig holds the site-specific extraction selectors.
type ListingConfig struct {
	CardSelector  string            `mapstructure:"card_selector"`  // detail links on a result page
	Fields        map[string]string `mapstructure:"fields"`         // output column -> CSS selector
	ImageSelector string            `mapstructure:"image_selector"` // images on a detail page
	EmptyMarkers  []string          `mapstructure:"empty_markers"`  // body fragments meaning "no results"
	CookieButton  string            `mapstructure:"cookie_button"`  // consent banner button, optional
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("progress.driver", "sqlite")
	v.SetDefault("progress.path", "./data/progress.db")
	v.SetDefault("progress.max_idle_conns", 2)
	v.SetDefault("progress.max_open_conns", 8)
	v.SetDefault("progress.conn_max_lifetime", time.Hour)
	v.SetDefault("progress.auto_migrate", true)
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.dir", "./data/images")
	v.SetDefault("harvest.page_workers", 2)
	v.SetDefault("harvest.retry_budget", 3)
	v.SetDefault("harvest.backoff_base", 2*time.Second)
	v.SetDefault("harvest.backoff_cap", 60*time.Second)
	v.SetDefault("harvest.jitter", 0.2)
	v.SetDefault("harvest.page_timeout", 30*time.Second)
	v.SetDefault("harvest.max_pages", 50)
	v.SetDefault("assets.workers", 10)
	v.SetDefault("assets.timeout", 10*time.Second)
	v.SetDefault("assets.retry_budget", 3)
	v.SetDefault("sink.dir", "./data/exports")
	v.SetDefault("sink.placeholder", "not found")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("progress.dsn", "PROGRESS_DSN")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.s3.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings the engine cannot sensibly default.
// A violation here is a fatal configuration error: the run must not start.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.ID == "" {
			return fmt.Errorf("source %d: missing id", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("source %q: duplicate id", src.ID)
		}
		seen[src.ID] = true
		if len(src.Seeds) == 0 {
			return fmt.Errorf("source %q: no seed URLs", src.ID)
		}
		switch src.Adapter {
		case "", "static", "browser":
		default:
			return fmt.Errorf("source %q: unknown adapter %q", src.ID, src.Adapter)
		}
	}
	if c.Harvest.PageWorkers < 1 {
		return fmt.Errorf("harvest.page_workers must be at least 1")
	}
	if c.Assets.Workers < 1 {
		return fmt.Errorf("assets.workers must be at least 1")
	}
	return nil
}
