// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/frontier-crawler/internal/auth"
	"github.com/JakeFAU/frontier-crawler/internal/fetch"
	"github.com/JakeFAU/frontier-crawler/internal/handler"
	"github.com/JakeFAU/frontier-crawler/internal/politeness"
	"github.com/JakeFAU/frontier-crawler/internal/router"
	"github.com/JakeFAU/frontier-crawler/internal/scope"
	"github.com/JakeFAU/frontier-crawler/internal/session"
	"github.com/JakeFAU/frontier-crawler/internal/storage/gcs"
	"github.com/JakeFAU/frontier-crawler/internal/storage/local"
	"github.com/JakeFAU/frontier-crawler/internal/storage/postgres"
	"github.com/JakeFAU/frontier-crawler/internal/storage/sqlite"
	collytransport "github.com/JakeFAU/frontier-crawler/internal/transport/colly"
	"github.com/JakeFAU/frontier-crawler/internal/transport/file"
	"github.com/JakeFAU/frontier-crawler/internal/transport/headless"
	"github.com/JakeFAU/frontier-crawler/internal/worker"
)

// Backend and provider names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	ProviderNone   = "none"
	ProviderMemory = "memory"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Crawler    CrawlerConfig     `mapstructure:"crawler"`
	Fetch      FetchSettings     `mapstructure:"fetch"`
	Frontier   FrontierSettings  `mapstructure:"frontier"`
	Database   DatabaseConfig    `mapstructure:"database"`
	SQLite     SQLiteConfig      `mapstructure:"sqlite"`
	Robots     RobotsConfig      `mapstructure:"robots"`
	Politeness PolitenessConfig  `mapstructure:"politeness"`
	Auth       []auth.Entry      `mapstructure:"auth"`
	Rules      []router.RuleSpec `mapstructure:"rules"`
	Storage    StorageConfig     `mapstructure:"storage"`
	PubSub     PubSubConfig      `mapstructure:"pubsub"`
	Scope      scope.Config      `mapstructure:"scope"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pool.
type CrawlerConfig struct {
	Workers          int           `mapstructure:"workers"`
	UserAgent        string        `mapstructure:"user_agent"`
	IdleBackoff      time.Duration `mapstructure:"idle_backoff"`
	MaxIdleBackoff   time.Duration `mapstructure:"max_idle_backoff"`
	Incremental      bool          `mapstructure:"incremental"`
	DiscoverSitemaps bool          `mapstructure:"discover_sitemaps"`
	MaxLinksPerPage  int           `mapstructure:"max_links_per_page"`
}

// FetchSettings configures the transports and the retry loop.
type FetchSettings struct {
	MaxRetryCount     int              `mapstructure:"max_retry_count"`
	RetryInterval     time.Duration    `mapstructure:"retry_interval"`
	Timeout           time.Duration    `mapstructure:"timeout"`
	MaxBodySize       int64            `mapstructure:"max_body_size"`
	RetryableStatuses []int            `mapstructure:"retryable_statuses"`
	Headless          HeadlessSettings `mapstructure:"headless"`
}

// HeadlessSettings switches http(s) GETs to a headless browser.
type HeadlessSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Settle            time.Duration `mapstructure:"settle"`
	// Auto renders only pages that look client-rendered after a plain fetch.
	Auto              bool          `mapstructure:"auto"`
	MinBodyLength     int           `mapstructure:"min_body_length"`
}

// FrontierSettings selects the frontier backend and its lease policy.
type FrontierSettings struct {
	Backend        string        `mapstructure:"backend"`
	LeaseTimeout   time.Duration `mapstructure:"lease_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	ReclaimOnStart bool          `mapstructure:"reclaim_on_start"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// SQLiteConfig locates the local frontier file.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	EnableWAL   bool          `mapstructure:"enable_wal"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RobotsConfig toggles robots directive enforcement.
type RobotsConfig struct {
	Respect bool `mapstructure:"respect"`
}

// PolitenessConfig paces requests per origin.
type PolitenessConfig struct {
	DefaultRPS    float64       `mapstructure:"default_rps"`
	DefaultBurst  int           `mapstructure:"default_burst"`
	MaxCrawlDelay time.Duration `mapstructure:"max_crawl_delay"`
}

// StorageConfig selects where fetched documents are written.
type StorageConfig struct {
	Provider string       `mapstructure:"provider"`
	Prefix   string       `mapstructure:"prefix"`
	Local    local.Config `mapstructure:"local"`
	GCS      gcs.Config   `mapstructure:"gcs"`
}

// PubSubConfig selects where document notifications are published.
type PubSubConfig struct {
	Provider    string `mapstructure:"provider"`
	ProjectID   string `mapstructure:"project_id"`
	Topic       string `mapstructure:"topic"`
	CheckTopics bool   `mapstructure:"check_topics"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.user_agent", "frontier-crawler/0.1")
	v.SetDefault("crawler.idle_backoff", "100ms")
	v.SetDefault("crawler.max_idle_backoff", "2s")
	v.SetDefault("crawler.incremental", true)
	v.SetDefault("crawler.discover_sitemaps", true)
	v.SetDefault("crawler.max_links_per_page", 500)
	v.SetDefault("fetch.max_retry_count", fetch.DefaultMaxRetryCount)
	v.SetDefault("fetch.retry_interval", fetch.DefaultRetryInterval.String())
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.max_body_size", 10<<20)
	v.SetDefault("fetch.headless.enabled", false)
	v.SetDefault("fetch.headless.max_parallel", 2)
	v.SetDefault("fetch.headless.navigation_timeout", "45s")
	v.SetDefault("fetch.headless.settle", "500ms")
	v.SetDefault("fetch.headless.auto", true)
	v.SetDefault("frontier.backend", BackendMemory)
	v.SetDefault("frontier.lease_timeout", "5m")
	v.SetDefault("frontier.reclaim_on_start", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("sqlite.path", "data/frontier.db")
	v.SetDefault("sqlite.enable_wal", true)
	v.SetDefault("sqlite.busy_timeout", "5s")
	v.SetDefault("robots.respect", true)
	v.SetDefault("politeness.default_rps", 0)
	v.SetDefault("politeness.default_burst", 1)
	v.SetDefault("politeness.max_crawl_delay", "30s")
	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.local.base_dir", "data/raw")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("pubsub.provider", ProviderNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("scope.max_depth", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Fetch.MaxRetryCount <= 0 {
		return fmt.Errorf("fetch.max_retry_count must be > 0")
	}
	if c.Fetch.RetryInterval < 0 {
		return fmt.Errorf("fetch.retry_interval must be >= 0")
	}
	if c.Fetch.Headless.MaxParallel < 0 {
		return fmt.Errorf("fetch.headless.max_parallel must be >= 0")
	}
	switch c.Frontier.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when frontier.backend is postgres")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set when frontier.backend is sqlite")
		}
	default:
		return fmt.Errorf("unknown frontier.backend %q", c.Frontier.Backend)
	}
	switch c.Storage.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.provider is local")
		}
	case ProviderGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.PubSub.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown pubsub.provider %q", c.PubSub.Provider)
	}
	if _, err := router.FromSpecs(c.RuleSpecs()); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if _, err := scope.New(c.Scope); err != nil {
		return fmt.Errorf("scope: %w", err)
	}
	return nil
}

// FetchConfig returns the executor retry budget.
func (c Config) FetchConfig() fetch.Config {
	return fetch.Config{MaxRetryCount: c.Fetch.MaxRetryCount, RetryInterval: c.Fetch.RetryInterval}
}

// HTTPTransportConfig returns the colly transport settings.
func (c Config) HTTPTransportConfig() collytransport.Config {
	return collytransport.Config{
		UserAgent:         c.Crawler.UserAgent,
		Timeout:           c.Fetch.Timeout,
		MaxBodySize:       c.Fetch.MaxBodySize,
		RetryableStatuses: c.Fetch.RetryableStatuses,
	}
}

// HeadlessTransportConfig returns the browser transport settings.
func (c Config) HeadlessTransportConfig() headless.Config {
	statuses := c.Fetch.RetryableStatuses
	if statuses == nil {
		statuses = collytransport.DefaultRetryableStatuses
	}
	return headless.Config{
		MaxParallel:       c.Fetch.Headless.MaxParallel,
		UserAgent:         c.Crawler.UserAgent,
		NavigationTimeout: c.Fetch.Headless.NavigationTimeout,
		Settle:            c.Fetch.Headless.Settle,
		MaxBodySize:       c.Fetch.MaxBodySize,
		RetryableStatuses: statuses,
		Auto:              c.Fetch.Headless.Auto,
		MinBodyLength:     c.Fetch.Headless.MinBodyLength,
	}
}

// FileTransportConfig returns the file transport settings.
func (c Config) FileTransportConfig() file.Config {
	return file.Config{MaxBodySize: c.Fetch.MaxBodySize}
}

// FrontierConfig returns the lease policy sessions run with.
func (c Config) FrontierConfig() session.Config {
	return session.Config{
		LeaseTimeout:   c.Frontier.LeaseTimeout,
		SweepInterval:  c.Frontier.SweepInterval,
		ReclaimOnStart: c.Frontier.ReclaimOnStart,
	}
}

// WorkerConfig returns the settings of worker id.
func (c Config) WorkerConfig(id string) worker.Config {
	return worker.Config{
		ID:               id,
		IdleBackoff:      c.Crawler.IdleBackoff,
		MaxIdleBackoff:   c.Crawler.MaxIdleBackoff,
		Incremental:      c.Crawler.Incremental,
		DiscoverSitemaps: c.Crawler.DiscoverSitemaps,
	}
}

// PolitenessConfig returns the per-origin pacing defaults.
func (c Config) PolitenessConfig() politeness.Config {
	return politeness.Config{
		DefaultRPS:    c.Politeness.DefaultRPS,
		DefaultBurst:  c.Politeness.DefaultBurst,
		MaxCrawlDelay: c.Politeness.MaxCrawlDelay,
	}
}

// PostgresConfig returns the pool settings.
func (c Config) PostgresConfig() postgres.Config {
	return postgres.Config{
		DSN:             c.Database.DSN,
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
	}
}

// SQLiteOptions returns the SQLite pragmas.
func (c Config) SQLiteOptions() sqlite.Options {
	return sqlite.Options{EnableWAL: c.SQLite.EnableWAL, BusyTimeout: c.SQLite.BusyTimeout}
}

// HTMLConfig returns the HTML handler settings.
func (c Config) HTMLConfig() handler.HTMLConfig {
	return handler.HTMLConfig{MaxLinks: c.Crawler.MaxLinksPerPage}
}

// StoreConfig returns where the document sink writes and publishes.
func (c Config) StoreConfig() handler.StoreConfig {
	cfg := handler.StoreConfig{BlobPrefix: c.Storage.Prefix}
	if c.PubSub.Provider != ProviderNone {
		cfg.Topic = c.PubSub.Topic
	}
	return cfg
}

// AuthEntries returns the credential entries in registration order.
func (c Config) AuthEntries() []auth.Entry {
	return append([]auth.Entry(nil), c.Auth...)
}

// RuleSpecs returns the configured routing rules, or DefaultRules when none
// are configured.
func (c Config) RuleSpecs() []router.RuleSpec {
	if len(c.Rules) == 0 {
		return DefaultRules()
	}
	return append([]router.RuleSpec(nil), c.Rules...)
}

// Router builds the response router.
func (c Config) Router() (*router.Router, error) {
	r, err := router.FromSpecs(c.RuleSpecs())
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}
	return r, nil
}

// ScopeConfig returns the discovery filter settings.
func (c Config) ScopeConfig() scope.Config {
	return c.Scope
}

// DefaultRules sends HTML to the link extractor, sitemaps to the sitemap
// parser, other successful responses to the store and everything else to
// the discard handler.
func DefaultRules() []router.RuleSpec {
	return []router.RuleSpec{
		{Name: "html", Handler: handler.IDHTML, MIMETypes: []string{"text/html", "application/xhtml+xml"}, Statuses: []int{200}},
		{Name: "sitemap", Handler: handler.IDSitemap, MIMETypes: []string{"application/xml", "text/xml"}, URLPattern: `(?i)sitemap[^/]*\.xml$`, Statuses: []int{200}},
		{Name: "ok", Handler: handler.IDStore, Statuses: []int{200}},
		{Name: "rest", Handler: handler.IDDiscard},
	}
}
