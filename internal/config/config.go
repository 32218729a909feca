package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lucy-a11y/shuffle/internal/apperr"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Serper     SerperConfig     `yaml:"serper" mapstructure:"serper"`
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`
	Leads      LeadsConfig      `yaml:"leads" mapstructure:"leads"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	HubSpot    HubSpotConfig    `yaml:"hubspot" mapstructure:"hubspot"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Timeouts   TimeoutConfig    `yaml:"timeouts" mapstructure:"timeouts"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// SearchConfig selects and tunes the discovery search provider.
type SearchConfig struct {
	Provider  string   `yaml:"provider" mapstructure:"provider"`
	RateLimit float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	MinRating float64  `yaml:"min_rating" mapstructure:"min_rating"`
	OverFetch int      `yaml:"over_fetch" mapstructure:"over_fetch"`
	Blocklist []string `yaml:"blocklist" mapstructure:"blocklist"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SerperConfig holds Serper search API settings.
type SerperConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ScanConfig points at the accessibility scan engine.
type ScanConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// LeadsConfig selects the decision-maker lookup.
type LeadsConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	MaxContacts int    `yaml:"max_contacts" mapstructure:"max_contacts"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CRMConfig selects the CRM vendor and guards calls to it.
type CRMConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// HubSpotConfig holds HubSpot private-app settings.
type HubSpotConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// PipelineConfig configures the per-site batch.
type PipelineConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	AutoScript  bool   `yaml:"auto_script" mapstructure:"auto_script"`
	DefaultTone string `yaml:"default_tone" mapstructure:"default_tone"`
}

// TimeoutConfig bounds each external stage call.
type TimeoutConfig struct {
	SearchSecs   int `yaml:"search_secs" mapstructure:"search_secs"`
	ScanSecs     int `yaml:"scan_secs" mapstructure:"scan_secs"`
	LeadsSecs    int `yaml:"leads_secs" mapstructure:"leads_secs"`
	CRMSecs      int `yaml:"crm_secs" mapstructure:"crm_secs"`
	GenerateSecs int `yaml:"generate_secs" mapstructure:"generate_secs"`
}

// Search returns the search timeout.
func (t TimeoutConfig) Search() time.Duration { return secs(t.SearchSecs) }

// Scan returns the scan timeout.
func (t TimeoutConfig) Scan() time.Duration { return secs(t.ScanSecs) }

// Leads returns the lead lookup timeout.
func (t TimeoutConfig) Leads() time.Duration { return secs(t.LeadsSecs) }

// CRM returns the CRM sync timeout.
func (t TimeoutConfig) CRM() time.Duration { return secs(t.CRMSecs) }

// Generate returns the outreach generation timeout.
func (t TimeoutConfig) Generate() time.Duration { return secs(t.GenerateSecs) }

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RetryConfig configures per-stage retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// SchedulerConfig configures the background maintenance service.
type SchedulerConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	IntervalSecs   int  `yaml:"interval_secs" mapstructure:"interval_secs"`
	StaleAfterMins int  `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
}

// EventsConfig selects where session lifecycle events go.
type EventsConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	ProjectID string `yaml:"project_id" mapstructure:"project_id"`
	TopicID   string `yaml:"topic_id" mapstructure:"topic_id"`
}

// MonitoringConfig configures health alerts for the pipeline.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CRMBacklogThreshold  int     `yaml:"crm_backlog_threshold" mapstructure:"crm_backlog_threshold"`
}

var secretKeys = []string{
	"store.database_url",
	"google.key",
	"serper.key",
	"scan.base_url",
	"scan.key",
	"perplexity.key",
	"anthropic.key",
	"hubspot.token",
	"salesforce.client_id",
	"salesforce.username",
	"salesforce.key_path",
	"events.project_id",
	"events.topic_id",
	"monitoring.webhook_url",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SHUFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 30)
	v.SetDefault("search.provider", "google")
	v.SetDefault("search.rate_limit", 5.0)
	v.SetDefault("search.min_rating", 3.0)
	v.SetDefault("search.over_fetch", 2)
	v.SetDefault("search.blocklist", []string{
		"yelp.com", "facebook.com", "instagram.com", "linkedin.com", "twitter.com", "x.com",
		"youtube.com", "wikipedia.org", "apple.com", "yellowpages.com", "bbb.org", "angi.com",
	})
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("leads.provider", "perplexity")
	v.SetDefault("leads.max_contacts", 5)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1500)
	v.SetDefault("crm.provider", "hubspot")
	v.SetDefault("crm.rate_limit", 8.0)
	v.SetDefault("crm.failure_threshold", 5)
	v.SetDefault("crm.reset_timeout_secs", 60)
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.auto_script", false)
	v.SetDefault("pipeline.default_tone", "professional")
	v.SetDefault("timeouts.search_secs", 30)
	v.SetDefault("timeouts.scan_secs", 120)
	v.SetDefault("timeouts.leads_secs", 60)
	v.SetDefault("timeouts.crm_secs", 30)
	v.SetDefault("timeouts.generate_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_secs", 300)
	v.SetDefault("scheduler.stale_after_mins", 30)
	v.SetDefault("scheduler.batch_size", 25)
	v.SetDefault("events.provider", "log")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.crm_backlog_threshold", 50)

	// Keys without defaults are only visible to Unmarshal when bound.
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by mode are present. Missing
// credentials for a selected vendor are reported as a configuration error.
// Modes: "serve", "shuffle", "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "migrate":
		c.validateStore(require)
	case "serve", "shuffle":
		c.validateStore(require)
		c.validatePipeline(require)
		if mode == "serve" {
			require(c.Server.Port > 0, "server.port must be > 0")
		}
	default:
		return apperr.E(apperr.Configuration, "config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return apperr.E(apperr.Configuration, "config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore(require func(bool, string)) {
	switch c.Store.Driver {
	case "postgres":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	case "sqlite":
	default:
		require(false, "store.driver must be postgres or sqlite")
	}
}

func (c *Config) validatePipeline(require func(bool, string)) {
	switch c.Search.Provider {
	case "google":
		require(c.Google.Key != "", "google.key is required")
	case "serper":
		require(c.Serper.Key != "", "serper.key is required")
	default:
		require(false, "search.provider must be google or serper")
	}

	require(c.Scan.BaseURL != "", "scan.base_url is required")
	require(c.Anthropic.Key != "", "anthropic.key is required")

	switch c.Leads.Provider {
	case "perplexity":
		require(c.Perplexity.Key != "", "perplexity.key is required")
	case "website":
	default:
		require(false, "leads.provider must be perplexity or website")
	}

	switch c.CRM.Provider {
	case "hubspot":
		require(c.HubSpot.Token != "", "hubspot.token is required")
	case "salesforce":
		require(c.Salesforce.ClientID != "", "salesforce.client_id is required")
		require(c.Salesforce.KeyPath != "", "salesforce.key_path is required")
	case "none":
	default:
		require(false, "crm.provider must be hubspot, salesforce, or none")
	}

	switch c.Events.Provider {
	case "pubsub":
		require(c.Events.ProjectID != "", "events.project_id is required")
		require(c.Events.TopicID != "", "events.topic_id is required")
	case "log", "none", "":
	default:
		require(false, "events.provider must be log, pubsub, or none")
	}

	if c.Monitoring.Enabled {
		require(c.Monitoring.WebhookURL != "", "monitoring.webhook_url is required when monitoring is enabled")
	}

	require(c.Pipeline.Concurrency >= 1 && c.Pipeline.Concurrency <= 10,
		"pipeline.concurrency must be between 1 and 10")
}

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&c.Google.Key)
	mask(&c.Serper.Key)
	mask(&c.Scan.Key)
	mask(&c.Perplexity.Key)
	mask(&c.Anthropic.Key)
	mask(&c.HubSpot.Token)
	mask(&c.Store.DatabaseURL)
	mask(&c.Monitoring.WebhookURL)
	return c
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
