// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sessioncrawler/internal/logging"
	"github.com/JakeFAU/sessioncrawler/internal/telemetry"
	"github.com/JakeFAU/sessioncrawler/internal/transformer"
)

// Backend names accepted by the store and archive sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendElastic  = "elasticsearch"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     logging.Config    `mapstructure:"logging"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Transformer TransformerConfig `mapstructure:"transformer"`
	Client      ClientConfig      `mapstructure:"client"`
	Store       StoreConfig       `mapstructure:"store"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	SQLite      SQLiteConfig      `mapstructure:"sqlite"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Elastic     ElasticConfig     `mapstructure:"elasticsearch"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Tracing     telemetry.Config  `mapstructure:"tracing"`
}

// CrawlerConfig governs the worker pool and session limits.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// MaxDepth limits link expansion; negative means unlimited.
	MaxDepth       int           `mapstructure:"max_depth"`
	MaxAccessCount int64         `mapstructure:"max_access_count"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ClearOnFinish  bool          `mapstructure:"clear_on_finish"`
	UserAgent      string        `mapstructure:"user_agent"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	Seeds          []string      `mapstructure:"seeds"`

	// MaxForbiddenResponses blocks a host within a session after this many refusals.
	MaxForbiddenResponses int `mapstructure:"max_forbidden_responses"`
}

// FilterConfig seeds the URL filter of every session.
type FilterConfig struct {
	Include         []string `mapstructure:"include"`
	Exclude         []string `mapstructure:"exclude"`
	URLPattern      string   `mapstructure:"url_pattern"`
	IncludeTemplate string   `mapstructure:"include_template"`
	ExcludeTemplate string   `mapstructure:"exclude_template"`
}

// TransformerConfig tunes the HTML transformer.
type TransformerConfig struct {
	DefaultEncoding          string                     `mapstructure:"default_encoding"`
	PreloadSize              int                        `mapstructure:"preload_size"`
	CharsetAliases           map[string]string          `mapstructure:"charset_aliases"`
	ChildURLRules            []transformer.ChildURLRule `mapstructure:"child_url_rules"`
	URLConvertRules          []transformer.ConvertRule  `mapstructure:"url_convert_rules"`
	SuppressDuplicateVariant bool                       `mapstructure:"suppress_duplicate_variant"`
	TempDir                  string                     `mapstructure:"temp_dir"`
}

// ClientConfig configures the protocol clients.
type ClientConfig struct {
	MaxCachedContentSize   int64            `mapstructure:"max_cached_content_size"`
	MaxContentLength       int64            `mapstructure:"max_content_length"`
	MaxContentLengthByMIME map[string]int64 `mapstructure:"max_content_length_by_mime"`
	FileCharset            string           `mapstructure:"file_charset"`
	HTTPTimeout            time.Duration    `mapstructure:"http_timeout"`
	RateLimitRPS           float64          `mapstructure:"rate_limit_rps"`
	RateLimitBurst         int              `mapstructure:"rate_limit_burst"`
}

// StoreConfig picks the frontier and result backends.
type StoreConfig struct {
	Queue  string `mapstructure:"queue"`
	Result string `mapstructure:"result"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	TablePrefix     string        `mapstructure:"table_prefix"`
}

// SQLiteConfig locates the embedded database.
type SQLiteConfig struct {
	Dir string `mapstructure:"dir"`
	WAL bool   `mapstructure:"wal"`
}

// RedisConfig locates the Redis frontier.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ElasticConfig locates the Elasticsearch result index.
type ElasticConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
	Refresh   string   `mapstructure:"refresh"`
}

// ArchiveConfig selects where stored payloads are copied.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
	// CacheControl is set on GCS objects.
	CacheControl string `mapstructure:"cache_control"`
	// Render also stores a UTF-8 text rendering next to each payload.
	Render bool `mapstructure:"render"`
}

// PubSubConfig holds metadata for result notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
	// MaxFinishedRuns caps the finished session outcomes the API remembers.
	MaxFinishedRuns int `mapstructure:"max_finished_runs"`
}

// Load builds a Config from disk/environment. An empty path searches for
// config.yaml in the working directory, /etc/sessioncrawler and
// $HOME/.sessioncrawler; a missing file leaves defaults and environment.
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
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sessioncrawler/")
		v.AddConfigPath("$HOME/.sessioncrawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_depth", -1)
	v.SetDefault("crawler.max_access_count", 0)
	v.SetDefault("crawler.poll_interval", 50*time.Millisecond)
	v.SetDefault("crawler.idle_timeout", 0)
	v.SetDefault("crawler.clear_on_finish", false)
	v.SetDefault("crawler.user_agent", "sessioncrawler/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_forbidden_responses", 3)
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("filter.url_pattern", `^(.*:/+)([^/]*)(.*)$`)
	v.SetDefault("filter.include_template", "")
	v.SetDefault("filter.exclude_template", "")
	v.SetDefault("transformer.default_encoding", "")
	v.SetDefault("transformer.preload_size", transformer.DefaultPreloadSize)
	v.SetDefault("transformer.suppress_duplicate_variant", true)
	v.SetDefault("client.max_cached_content_size", 1024*1024)
	v.SetDefault("client.max_content_length", 10*1024*1024)
	v.SetDefault("client.file_charset", "UTF-8")
	v.SetDefault("client.http_timeout", 15*time.Second)
	v.SetDefault("client.rate_limit_rps", 2.0)
	v.SetDefault("client.rate_limit_burst", 1)
	v.SetDefault("store.queue", BackendMemory)
	v.SetDefault("store.result", BackendMemory)
	v.SetDefault("postgres.max_conns", 8)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("postgres.table_prefix", "crawl_")
	v.SetDefault("sqlite.dir", "./data")
	v.SetDefault("sqlite.wal", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "crawler:")
	v.SetDefault("elasticsearch.index", "access_results")
	v.SetDefault("elasticsearch.refresh", "wait_for")
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "results")
	v.SetDefault("archive.render", false)
	v.SetDefault("archive.cache_control", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_finished_runs", 1000)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sessioncrawler")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.MaxAccessCount < 0 {
		errs = append(errs, errors.New("crawler.max_access_count must be >= 0"))
	}
	if c.Client.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("client.http_timeout must be > 0"))
	}
	if c.Client.MaxContentLength <= 0 {
		errs = append(errs, errors.New("client.max_content_length must be > 0"))
	}
	switch c.Store.Queue {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store.queue %q is not one of memory, postgres, sqlite, redis", c.Store.Queue))
	}
	switch c.Store.Result {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendElastic:
	default:
		errs = append(errs, fmt.Errorf("store.result %q is not one of memory, postgres, sqlite, elasticsearch", c.Store.Result))
	}
	if c.Store.Result == BackendElastic && len(c.Elastic.Addresses) == 0 {
		errs = append(errs, errors.New("elasticsearch.addresses must be set when the elasticsearch result store is selected"))
	}
	if c.uses(BackendPostgres) && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn must be set when a postgres store is selected"))
	}
	if c.uses(BackendSQLite) && c.SQLite.Dir == "" {
		errs = append(errs, errors.New("sqlite.dir must be set when a sqlite store is selected"))
	}
	if c.Store.Queue == BackendRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr must be set when the redis queue is selected"))
	}
	switch c.Archive.Backend {
	case "", BackendNone:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir must be set for the local archive"))
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket must be set for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is not one of none, local, gcs", c.Archive.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is set"))
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	return errors.Join(errs...)
}

func (c Config) uses(backend string) bool {
	return c.Store.Queue == backend || c.Store.Result == backend
}
