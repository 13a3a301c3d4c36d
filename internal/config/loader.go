package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYINDEXER_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the indexer can be
// configured from the environment alone. The returned Config has NOT been
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known POLYINDEXER_*
// environment variables that are set and non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.WsURL, "POLYINDEXER_CHAIN_WS_URL")
	setStr(&cfg.Chain.HTTPURL, "POLYINDEXER_CHAIN_HTTP_URL")
	setStringSlice(&cfg.Chain.ExchangeAddresses, "POLYINDEXER_CHAIN_EXCHANGE_ADDRESSES")
	setStringSlice(&cfg.Chain.AdapterAddresses, "POLYINDEXER_CHAIN_ADAPTER_ADDRESSES")
	setUint64(&cfg.Chain.FromBlock, "POLYINDEXER_CHAIN_FROM_BLOCK")
	setUint64(&cfg.Chain.ToBlock, "POLYINDEXER_CHAIN_TO_BLOCK")
	setUint64(&cfg.Chain.ChunkSize, "POLYINDEXER_CHAIN_CHUNK_SIZE")
	setStr(&cfg.Chain.ChunkFailurePolicy, "POLYINDEXER_CHAIN_CHUNK_FAILURE_POLICY")
	setInt(&cfg.Chain.ChunkMaxRetries, "POLYINDEXER_CHAIN_CHUNK_MAX_RETRIES")
	setDuration(&cfg.Chain.ChunkRetryDelay, "POLYINDEXER_CHAIN_CHUNK_RETRY_DELAY")
	setDuration(&cfg.Chain.ResubscribeDelay, "POLYINDEXER_CHAIN_RESUBSCRIBE_DELAY")
	setFloat64(&cfg.Chain.RPCRateLimit, "POLYINDEXER_CHAIN_RPC_RATE_LIMIT")
	setInt(&cfg.Chain.RPCBurst, "POLYINDEXER_CHAIN_RPC_BURST")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYINDEXER_POLYMARKET_GAMMA_HOST")
	setDuration(&cfg.Polymarket.Timeout, "POLYINDEXER_POLYMARKET_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYINDEXER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYINDEXER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYINDEXER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYINDEXER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYINDEXER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYINDEXER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYINDEXER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYINDEXER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYINDEXER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYINDEXER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYINDEXER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYINDEXER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYINDEXER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYINDEXER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYINDEXER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYINDEXER_REDIS_TLS_ENABLED")

	// ── Queue ──
	setStr(&cfg.Queue.Prefix, "POLYINDEXER_QUEUE_PREFIX")
	setInt(&cfg.Queue.Market.Concurrency, "POLYINDEXER_QUEUE_MARKET_CONCURRENCY")
	setInt(&cfg.Queue.Market.RateLimit, "POLYINDEXER_QUEUE_MARKET_RATE_LIMIT")
	setInt(&cfg.Queue.Trade.Concurrency, "POLYINDEXER_QUEUE_TRADE_CONCURRENCY")
	setInt(&cfg.Queue.Trade.RateLimit, "POLYINDEXER_QUEUE_TRADE_RATE_LIMIT")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYINDEXER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYINDEXER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYINDEXER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYINDEXER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYINDEXER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYINDEXER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYINDEXER_S3_FORCE_PATH_STYLE")

	// ── Export ──
	setBool(&cfg.Export.Enabled, "POLYINDEXER_EXPORT_ENABLED")
	setStr(&cfg.Export.Cron, "POLYINDEXER_EXPORT_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYINDEXER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYINDEXER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYINDEXER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYINDEXER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "POLYINDEXER_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYINDEXER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYINDEXER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYINDEXER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYINDEXER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYINDEXER_MODE")
	setStr(&cfg.LogLevel, "POLYINDEXER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
