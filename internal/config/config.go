package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Transfer   TransferConfig   `mapstructure:"transfer"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Enumerator EnumeratorConfig `mapstructure:"enumerator"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

// CatalogConfig describes the remote listing service
type CatalogConfig struct {
	RootURL         string `mapstructure:"root_url"`
	UnitURLTemplate string `mapstructure:"unit_url_template"`
	SummarySelector string `mapstructure:"summary_selector"`
	PagerSelector   string `mapstructure:"pager_selector"`
	ItemPattern     string `mapstructure:"item_pattern"`
	UnitPattern     string `mapstructure:"unit_pattern"`
	ArchivePattern  string `mapstructure:"archive_pattern"`
	FileExtension   string `mapstructure:"file_extension"`
	// ListingRewrites are applied to discovered unit links before they are visited.
	ListingRewrites []RewriteRule `mapstructure:"listing_rewrites"`
}

// BrowserConfig selects and tunes the page rendering driver
type BrowserConfig struct {
	Driver          string        `mapstructure:"driver"`
	RemoteURL       string        `mapstructure:"remote_url"`
	Bin             string        `mapstructure:"bin"`
	Headless        bool          `mapstructure:"headless"`
	NoSandbox       bool          `mapstructure:"no_sandbox"`
	Stealth         bool          `mapstructure:"stealth"`
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
}

// TransferConfig holds file download settings
type TransferConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	RequestsPerSecond   int           `mapstructure:"requests_per_second"`
	Proxies             []string      `mapstructure:"proxies"`
	ProxyTestURL        string        `mapstructure:"proxy_test_url"`
	CircuitBreakerDelay time.Duration `mapstructure:"circuit_breaker_delay"`
	UserAgent           string        `mapstructure:"user_agent"`
	Insecure            bool          `mapstructure:"insecure"`
}

// RewriteRule derives an alternate item URL from the primary one
type RewriteRule struct {
	Match   string `mapstructure:"match"`
	Replace string `mapstructure:"replace"`
}

type FetchConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          time.Duration `mapstructure:"backoff"`
	SkipExisting     bool          `mapstructure:"skip_existing"`
	FallbackRewrites []RewriteRule `mapstructure:"fallback_rewrites"`
	// RetryRounds bounds how many queued retry passes a failed download gets.
	RetryRounds int `mapstructure:"retry_rounds"`
}

type EnumeratorConfig struct {
	PageLoadAttempts int           `mapstructure:"page_load_attempts"`
	PageLoadBackoff  time.Duration `mapstructure:"page_load_backoff"`
	PageSettle       time.Duration `mapstructure:"page_settle"`
}

type WorkersConfig struct {
	Units int `mapstructure:"units"`
	Items int `mapstructure:"items"`
}

type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// PathsConfig holds the local directories the harvester writes to
type PathsConfig struct {
	Output  string `mapstructure:"output"`
	Logs    string `mapstructure:"logs"`
	Missing string `mapstructure:"missing"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// RedisConfig holds Redis connection details
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	Database  int           `mapstructure:"database"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`

	// Retry queue
	ConsumerGroup string        `mapstructure:"consumer_group"`
	MinIdleTime   time.Duration `mapstructure:"min_idle_time"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load loads configuration from YAML file with environment variable overrides.
// A missing config file is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the harvester cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Workers.Units < 1:
		return fmt.Errorf("workers.units must be positive, got %d", c.Workers.Units)
	case c.Workers.Items < 1:
		return fmt.Errorf("workers.items must be positive, got %d", c.Workers.Items)
	case c.Fetch.MaxAttempts < 1:
		return fmt.Errorf("fetch.max_attempts must be positive, got %d", c.Fetch.MaxAttempts)
	case c.Enumerator.PageLoadAttempts < 1:
		return fmt.Errorf("enumerator.page_load_attempts must be positive, got %d", c.Enumerator.PageLoadAttempts)
	case c.Browser.Driver != "rod" && c.Browser.Driver != "static":
		return fmt.Errorf("browser.driver must be rod or static, got %q", c.Browser.Driver)
	case c.Catalog.UnitURLTemplate != "" && !strings.Contains(c.Catalog.UnitURLTemplate, "%s"):
		return fmt.Errorf("catalog.unit_url_template must contain %%s")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("catalog.root_url", "https://www.ncei.noaa.gov/oa/local-climatological-data/index.html#v2/access/")
	viper.SetDefault("catalog.unit_url_template", "https://www.ncei.noaa.gov/oa/local-climatological-data/index.html#v2/access/%s/")
	viper.SetDefault("catalog.summary_selector", "div.dataTables_info")
	viper.SetDefault("catalog.pager_selector", "a")
	viper.SetDefault("catalog.item_pattern", `\.csv$`)
	viper.SetDefault("catalog.unit_pattern", `/[0-9]{4}/$`)
	viper.SetDefault("catalog.archive_pattern", `lcd_v2\.0\.0_d.*\.tar\.gz$`)
	viper.SetDefault("catalog.file_extension", ".csv")
	viper.SetDefault("catalog.listing_rewrites", []map[string]string{
		{"match": "/v2/access/", "replace": "/index.html#v2/access/"},
	})

	viper.SetDefault("browser.driver", "rod")
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.no_sandbox", true)
	viper.SetDefault("browser.stealth", true)
	viper.SetDefault("browser.wait_timeout", 10*time.Second)
	viper.SetDefault("browser.navigate_timeout", 30*time.Second)

	viper.SetDefault("transfer.timeout", 10*time.Minute)
	viper.SetDefault("transfer.requests_per_second", 20)
	viper.SetDefault("transfer.circuit_breaker_delay", 30*time.Minute)
	viper.SetDefault("transfer.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	viper.SetDefault("fetch.max_attempts", 3)
	viper.SetDefault("fetch.backoff", 2*time.Second)
	viper.SetDefault("fetch.skip_existing", true)
	viper.SetDefault("fetch.retry_rounds", 3)

	viper.SetDefault("enumerator.page_load_attempts", 3)
	viper.SetDefault("enumerator.page_load_backoff", 2*time.Second)
	viper.SetDefault("enumerator.page_settle", time.Second)

	viper.SetDefault("workers.units", 15)
	viper.SetDefault("workers.items", 8)

	viper.SetDefault("progress.interval", time.Second)

	viper.SetDefault("paths.output", "data")
	viper.SetDefault("paths.logs", "logs")
	viper.SetDefault("paths.missing", "missing")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "harvester")
	viper.SetDefault("database.user", "harvester")
	viper.SetDefault("database.password", "harvester")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.key_prefix", "harvester")
	viper.SetDefault("redis.ttl", 7*24*time.Hour)
	viper.SetDefault("redis.consumer_group", "harvester")
	viper.SetDefault("redis.min_idle_time", 2*time.Minute)
}
