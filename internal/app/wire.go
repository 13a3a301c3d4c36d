package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polyindexer/internal/blob/s3"
	"github.com/alanyoungcy/polyindexer/internal/cache/redis"
	"github.com/alanyoungcy/polyindexer/internal/chain"
	"github.com/alanyoungcy/polyindexer/internal/config"
	"github.com/alanyoungcy/polyindexer/internal/domain"
	"github.com/alanyoungcy/polyindexer/internal/notify"
	"github.com/alanyoungcy/polyindexer/internal/platform/polymarket"
	"github.com/alanyoungcy/polyindexer/internal/server/handler"
	"github.com/alanyoungcy/polyindexer/internal/store/postgres"
)

// Dependencies bundles the concrete clients and stores the modes run on. It
// is built by Wire and torn down by the cleanup function Wire returns.
type Dependencies struct {
	// Stores
	EventStore  domain.EventStore
	MarketStore domain.MarketStore
	TradeStore  domain.TradeStore

	// Redis
	Redis       *redis.Client
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Chain and market data
	Chain *chain.Client
	Gamma *polymarket.GammaClient

	// Blob storage, only when export is enabled
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Notifier *notify.Notifier

	// Checks backs the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs every dependency from cfg. On error the partially built
// resources are released before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.EventStore = postgres.NewEventStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.Checks["postgres"] = pgClient.Ping

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- Chain RPC ---
	chainClient, err := chain.Dial(ctx, chain.ClientConfig{
		WsURL:     cfg.Chain.WsURL,
		HTTPURL:   cfg.Chain.HTTPURL,
		RateLimit: cfg.Chain.RPCRateLimit,
		Burst:     cfg.Chain.RPCBurst,
	})
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.Timeout.Duration)

	// --- S3 blob storage ---
	if cfg.Export.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	deps.Notifier = newNotifier(cfg.Notify, deps.RateLimiter, logger)
	return deps, cleanup, nil
}

func newNotifier(cfg config.NotifyConfig, limiter domain.RateLimiter, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	n := notify.NewNotifier(senders, cfg.Events, logger)
	if cfg.ThrottleLimit > 0 {
		n.Throttle(limiter, cfg.ThrottleLimit, cfg.ThrottleWindow.Duration)
	}
	return n
}
