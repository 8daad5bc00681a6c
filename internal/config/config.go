// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/cache"
	"github.com/JakeFAU/catalog-crawler/internal/sink"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Auth      AuthConfig          `mapstructure:"auth"`
	Crawler   CrawlerConfig       `mapstructure:"crawler"`
	Retry     RetryConfig         `mapstructure:"retry"`
	Cache     CacheConfig         `mapstructure:"cache"`
	Output    OutputConfig        `mapstructure:"output"`
	Selectors SelectorsConfig     `mapstructure:"selectors"`
	Fields    []extract.FieldSpec `mapstructure:"fields"`
	Logging   LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs traversal and fetch politeness.
type CrawlerConfig struct {
	StartURL         string        `mapstructure:"start_url"`
	BaseURL          string        `mapstructure:"base_url"`
	AllowedDomains   []string      `mapstructure:"allowed_domains"`
	UserAgent        string        `mapstructure:"user_agent"`
	DelaySeconds     float64       `mapstructure:"delay_seconds"`
	Randomize        bool          `mapstructure:"randomize"`
	Encoding         string        `mapstructure:"encoding"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	CatalogPageLimit int           `mapstructure:"catalog_page_limit"`
	DetailPageLimit  int           `mapstructure:"detail_page_limit"`

	// MaxRequestsPerSecond caps the per-host request rate; 0 disables the cap.
	MaxRequestsPerSecond float64 `mapstructure:"max_requests_per_second"`
	Burst                int     `mapstructure:"burst"`
}

// RetryConfig configures transient failure retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// OutputConfig sets where and how run output is written.
type OutputConfig struct {
	Dir            string `mapstructure:"dir"`
	Extension      string `mapstructure:"extension"`
	Images         bool   `mapstructure:"images"`
	ImageTitle     string `mapstructure:"image_title"`
	ImageExtension string `mapstructure:"image_extension"`
}

// SelectorsConfig holds the navigation and layout selectors.
type SelectorsConfig struct {
	CategoryLinks string `mapstructure:"category_links"`
	DetailLinks   string `mapstructure:"detail_links"`
	NextPage      string `mapstructure:"next_page"`
	Container     string `mapstructure:"container"`
	Table         string `mapstructure:"table"`
	Image         string `mapstructure:"image"`
}

// LoggingConfig toggles zap development features, extra process log
// outputs and the run log file.
type LoggingConfig struct {
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
	File        string   `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = extract.DefaultFields()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("crawler.start_url", "https://books.toscrape.com/")
	v.SetDefault("crawler.base_url", "https://books.toscrape.com/")
	v.SetDefault("crawler.allowed_domains", []string{"books.toscrape.com"})
	v.SetDefault("crawler.user_agent", defaultUserAgent)
	v.SetDefault("crawler.delay_seconds", 2.0)
	v.SetDefault("crawler.randomize", true)
	v.SetDefault("crawler.encoding", "utf-8")
	v.SetDefault("crawler.request_timeout", "3.5s")
	v.SetDefault("crawler.catalog_page_limit", 2)
	v.SetDefault("crawler.detail_page_limit", 2)
	v.SetDefault("crawler.max_requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.backoff_base", "1s")
	v.SetDefault("retry.backoff_max", "30s")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", filepath.Join(".webcache", "responses.gob"))
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("output.dir", defaultOutputDir())
	v.SetDefault("output.extension", "csv")
	v.SetDefault("output.images", true)
	v.SetDefault("output.image_title", "")
	v.SetDefault("output.image_extension", "jpg")
	v.SetDefault("selectors.category_links", "ul.nav ul > li > a")
	v.SetDefault("selectors.detail_links", "h3 > a")
	v.SetDefault("selectors.next_page", "li.next > a")
	v.SetDefault("selectors.container", "article > div.row")
	v.SetDefault("selectors.table", "table")
	v.SetDefault("selectors.image", "div.item > img")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{})
	v.SetDefault("logging.file", "tmp.log")
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "output"
	}
	return filepath.Join(home, "Downloads")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	start, err := url.Parse(c.Crawler.StartURL)
	if err != nil || start.Host == "" {
		return fmt.Errorf("crawler.start_url must be an absolute URL")
	}
	if base, err := url.Parse(c.Crawler.BaseURL); err != nil || base.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if len(c.Crawler.AllowedDomains) == 0 {
		return fmt.Errorf("crawler.allowed_domains must not be empty")
	}
	if !containsFold(c.Crawler.AllowedDomains, start.Hostname()) {
		return fmt.Errorf("crawler.allowed_domains must include the start url host %q", start.Hostname())
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.Crawler.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("crawler.max_requests_per_second must be >= 0")
	}
	if c.Crawler.CatalogPageLimit < 0 || c.Crawler.DetailPageLimit < 0 {
		return fmt.Errorf("crawler page limits must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.Extension == "" {
		return fmt.Errorf("output.extension is required")
	}
	if c.Selectors.CategoryLinks == "" || c.Selectors.DetailLinks == "" {
		return fmt.Errorf("selectors.category_links and selectors.detail_links are required")
	}
	if err := c.Schema().Validate(); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

// Delay converts delay_seconds into a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds * float64(time.Second))
}

// CrawlConfig is the traversal configuration of one run.
func (c Config) CrawlConfig() crawler.Config {
	return crawler.Config{
		StartURL:         c.Crawler.StartURL,
		BaseURL:          c.Crawler.BaseURL,
		CatalogPageLimit: c.Crawler.CatalogPageLimit,
		DetailPageLimit:  c.Crawler.DetailPageLimit,
		Selectors: crawler.Selectors{
			CategoryLinks: c.Selectors.CategoryLinks,
			DetailLinks:   c.Selectors.DetailLinks,
			NextPage:      c.Selectors.NextPage,
			Image:         c.Selectors.Image,
		},
		Images:     c.Output.Images,
		ImageTitle: c.Output.ImageTitle,
	}
}

// FetchConfig is the fetch policy of one run.
func (c Config) FetchConfig() fetcher.Config {
	return fetcher.Config{
		AllowedDomains: c.Crawler.AllowedDomains,
		UserAgent:      c.Crawler.UserAgent,
		Delay:          c.Delay(),
		Randomize:      c.Crawler.Randomize,
		Timeout:        c.Crawler.RequestTimeout,
		Encoding:       c.Crawler.Encoding,
		MaxAttempts:    c.Retry.MaxAttempts,
		BackoffBase:    c.Retry.BackoffBase,
		BackoffMax:     c.Retry.BackoffMax,
	}
}

// Schema is the extraction layout of detail pages.
func (c Config) Schema() extract.Schema {
	return extract.Schema{
		Container: c.Selectors.Container,
		Table:     c.Selectors.Table,
		Fields:    c.Fields,
	}
}

// WriterConfig names the output files.
func (c Config) WriterConfig() sink.WriterConfig {
	return sink.WriterConfig{
		Extension:      c.Output.Extension,
		ImageExtension: c.Output.ImageExtension,
		Images:         c.Output.Images,
	}
}

// CacheStoreConfig configures the response cache store.
func (c Config) CacheStoreConfig() cache.Config {
	return cache.Config{Path: c.Cache.Path, TTL: c.Cache.TTL}
}

// APIKey is the key required by the HTTP API, empty when auth is disabled.
func (c Config) APIKey() string {
	if !c.Auth.Enabled {
		return ""
	}
	return c.Auth.APIKey
}
