// Package config defines the top-level configuration for the indexer and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYINDEXER_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Queue      QueueConfig      `toml:"queue"`
	S3         S3Config         `toml:"s3"`
	Export     ExportConfig     `toml:"export"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds RPC endpoints, the indexed contract addresses and the
// historical scan parameters.
type ChainConfig struct {
	WsURL             string   `toml:"ws_url"`
	HTTPURL           string   `toml:"http_url"`
	ExchangeAddresses []string `toml:"exchange_addresses"`
	AdapterAddresses  []string `toml:"adapter_addresses"`
	ResubscribeDelay  duration `toml:"resubscribe_delay"`
	RPCRateLimit      float64  `toml:"rpc_rate_limit"`
	RPCBurst          int      `toml:"rpc_burst"`

	// Backfill range. ToBlock 0 means the chain head at start.
	FromBlock uint64 `toml:"from_block"`
	ToBlock   uint64 `toml:"to_block"`
	ChunkSize uint64 `toml:"chunk_size"`

	// ChunkFailurePolicy is one of "skip", "retry" or "abort".
	ChunkFailurePolicy string   `toml:"chunk_failure_policy"`
	ChunkMaxRetries    int      `toml:"chunk_max_retries"`
	ChunkRetryDelay    duration `toml:"chunk_retry_delay"`
}

// PolymarketConfig holds the market-data provider endpoint.
type PolymarketConfig struct {
	GammaHost     string   `toml:"gamma_host"`
	Timeout       duration `toml:"timeout"`
	MarketLockTTL duration `toml:"market_lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// QueueConfig holds the job queue settings for both workers.
type QueueConfig struct {
	Prefix string       `toml:"prefix"`
	Market WorkerConfig `toml:"market"`
	Trade  WorkerConfig `toml:"trade"`
	// Resolution overrides the retry policy of process-market-resolution
	// jobs, which poll the provider until the market closes.
	Resolution RetryConfig `toml:"resolution"`
}

// WorkerConfig configures one queue and the worker pool draining it.
type WorkerConfig struct {
	Concurrency      int         `toml:"concurrency"`
	RateLimit        int         `toml:"rate_limit"`
	RateWindow       duration    `toml:"rate_window"`
	PollInterval     duration    `toml:"poll_interval"`
	LeaseTTL         duration    `toml:"lease_ttl"`
	KeepCompleted    int         `toml:"keep_completed"`
	KeepCompletedAge duration    `toml:"keep_completed_age"`
	KeepFailed       int         `toml:"keep_failed"`
	Retry            RetryConfig `toml:"retry"`
}

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay duration `toml:"initial_delay"`
	Multiplier   float64  `toml:"multiplier"`
	MaxDelay     duration `toml:"max_delay"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExportConfig controls the daily CSV export of trades and events.
type ExportConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	Prefix  string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds admin HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP per RateWindow. 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// ThrottleLimit caps alerts of one event type per ThrottleWindow.
	ThrottleLimit  int      `toml:"throttle_limit"`
	ThrottleWindow duration `toml:"throttle_window"`
}

// Defaults returns a Config populated with reasonable default values.
// Contract addresses are the Polygon mainnet deployments.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ExchangeAddresses: []string{
				"0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E", // CTF Exchange
				"0xC5d563A36AE78145C45a50134d48A1215220f80a", // Neg Risk CTF Exchange
			},
			AdapterAddresses: []string{
				"0x6A9D222616C90FcA5754cd1333cFD9b7fb6a4F74",
				"0x157ce2d672854c848c9b79c49a8cc6cc89176a49",
				"0x65070BE91477460D8A7AeEb94ef92fe056C2f2A7",
				"0x2F5e3684cb1F318ec51b00Edba38d79Ac2c0aA9d",
			},
			ResubscribeDelay:   duration{5 * time.Second},
			RPCRateLimit:       10,
			RPCBurst:           5,
			ChunkSize:          10,
			ChunkFailurePolicy: "skip",
			ChunkMaxRetries:    3,
			ChunkRetryDelay:    duration{2 * time.Second},
		},
		Polymarket: PolymarketConfig{
			GammaHost:     "https://gamma-api.polymarket.com",
			Timeout:       duration{10 * time.Second},
			MarketLockTTL: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Queue: QueueConfig{
			Prefix: "polyindexer",
			Market: WorkerConfig{
				Concurrency:      2,
				RateLimit:        5,
				RateWindow:       duration{time.Second},
				PollInterval:     duration{250 * time.Millisecond},
				LeaseTTL:         duration{2 * time.Minute},
				KeepCompleted:    1000,
				KeepCompletedAge: duration{10 * time.Minute},
				KeepFailed:       100,
				Retry: RetryConfig{
					MaxAttempts:  5,
					InitialDelay: duration{2 * time.Second},
					Multiplier:   2,
					MaxDelay:     duration{5 * time.Minute},
				},
			},
			Trade: WorkerConfig{
				Concurrency:      5,
				PollInterval:     duration{250 * time.Millisecond},
				LeaseTTL:         duration{2 * time.Minute},
				KeepCompleted:    1000,
				KeepCompletedAge: duration{time.Hour},
				KeepFailed:       5000,
				Retry: RetryConfig{
					MaxAttempts:  10,
					InitialDelay: duration{2 * time.Second},
					Multiplier:   2,
					MaxDelay:     duration{30 * time.Minute},
				},
			},
			Resolution: RetryConfig{
				MaxAttempts:  24,
				InitialDelay: duration{30 * time.Second},
				Multiplier:   2,
				MaxDelay:     duration{time.Hour},
			},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyindexer-data",
			ForcePathStyle: true,
		},
		Export: ExportConfig{
			Enabled: false,
			Cron:    "15 0 * * *",
			Prefix:  "exports",
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       3000,
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:         []string{"job_failed", "chunk_skipped", "market_resolved"},
			ThrottleLimit:  10,
			ThrottleWindow: duration{time.Minute},
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":     true,
	"backfill": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validChunkPolicies = map[string]bool{
	"skip":  true,
	"retry": true,
	"abort": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, backfill)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if mode == "live" && c.Chain.WsURL == "" {
		errs = append(errs, "chain: ws_url is required for mode live")
	}
	if mode == "backfill" && c.Chain.HTTPURL == "" {
		errs = append(errs, "chain: http_url is required for mode backfill")
	}
	if len(c.Chain.ExchangeAddresses) == 0 && len(c.Chain.AdapterAddresses) == 0 {
		errs = append(errs, "chain: at least one exchange or adapter address must be set")
	}
	for _, a := range append(append([]string{}, c.Chain.ExchangeAddresses...), c.Chain.AdapterAddresses...) {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("chain: invalid address %q", a))
		}
	}
	if c.Chain.ChunkSize == 0 {
		errs = append(errs, "chain: chunk_size must be > 0")
	}
	if c.Chain.ToBlock != 0 && c.Chain.ToBlock < c.Chain.FromBlock {
		errs = append(errs, fmt.Sprintf("chain: to_block %d is before from_block %d", c.Chain.ToBlock, c.Chain.FromBlock))
	}
	if !validChunkPolicies[strings.ToLower(c.Chain.ChunkFailurePolicy)] {
		errs = append(errs, fmt.Sprintf("chain: unknown chunk_failure_policy %q (valid: skip, retry, abort)", c.Chain.ChunkFailurePolicy))
	}
	if c.Chain.RPCRateLimit <= 0 {
		errs = append(errs, "chain: rpc_rate_limit must be > 0")
	}

	// Polymarket
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Queues
	errs = append(errs, c.Queue.Market.validate("queue.market")...)
	errs = append(errs, c.Queue.Trade.validate("queue.trade")...)
	errs = append(errs, c.Queue.Resolution.validate("queue.resolution")...)

	// Export needs object storage.
	if c.Export.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when export is enabled")
		}
		if c.Export.Cron == "" {
			errs = append(errs, "export: cron must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (w WorkerConfig) validate(section string) []string {
	var errs []string
	if w.Concurrency < 1 {
		errs = append(errs, section+": concurrency must be >= 1")
	}
	if w.RateLimit < 0 {
		errs = append(errs, section+": rate_limit must be >= 0")
	}
	if w.RateLimit > 0 && w.RateWindow.Duration <= 0 {
		errs = append(errs, section+": rate_window must be > 0 when rate_limit is set")
	}
	if w.PollInterval.Duration <= 0 {
		errs = append(errs, section+": poll_interval must be > 0")
	}
	if w.LeaseTTL.Duration <= 0 {
		errs = append(errs, section+": lease_ttl must be > 0")
	}
	return append(errs, w.Retry.validate(section+".retry")...)
}

func (r RetryConfig) validate(section string) []string {
	var errs []string
	if r.MaxAttempts < 1 {
		errs = append(errs, section+": max_attempts must be >= 1")
	}
	if r.InitialDelay.Duration < 0 {
		errs = append(errs, section+": initial_delay must be >= 0")
	}
	if r.Multiplier < 1 {
		errs = append(errs, section+": multiplier must be >= 1")
	}
	return errs
}
