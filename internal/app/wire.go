package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/callmedraxx/mevu-sub004/internal/batch"
	s3blob "github.com/callmedraxx/mevu-sub004/internal/blob/s3"
	"github.com/callmedraxx/mevu-sub004/internal/cache/redis"
	"github.com/callmedraxx/mevu-sub004/internal/config"
	"github.com/callmedraxx/mevu-sub004/internal/crypto"
	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/callmedraxx/mevu-sub004/internal/election"
	"github.com/callmedraxx/mevu-sub004/internal/feed"
	"github.com/callmedraxx/mevu-sub004/internal/ingest"
	"github.com/callmedraxx/mevu-sub004/internal/mapper"
	"github.com/callmedraxx/mevu-sub004/internal/notify"
	"github.com/callmedraxx/mevu-sub004/internal/platform/kalshi"
	"github.com/callmedraxx/mevu-sub004/internal/server"
	"github.com/callmedraxx/mevu-sub004/internal/server/handler"
	"github.com/callmedraxx/mevu-sub004/internal/server/ws"
	"github.com/callmedraxx/mevu-sub004/internal/store/postgres"
)

// Dependencies bundles every constructed component. Wire builds them once
// per process; the returned cleanup tears them down in reverse order.
type Dependencies struct {
	Bus         domain.BroadcastBus
	Coordinator *election.Coordinator

	GamePrices   domain.GamePriceStore
	MarketQuotes domain.MarketQuoteStore
	BatchWriter  domain.BatchWriter

	Mapper  *mapper.Mapper
	Engine  *ingest.Engine
	Queues  *batch.Queues
	Flusher *batch.Flusher

	// Feeder is nil when the feed is disabled; it parks until promotion
	// otherwise, so followers never dial the exchange.
	Feeder *feed.Feeder

	// Archiver is nil unless archival is configured.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Hub      *ws.Hub
	Server   *server.Server
}

// Wire constructs every component from the configuration. Fatal conditions
// (unreachable Postgres, an unloadable feed key) surface as errors; the
// absence of Redis is not fatal and degrades to unclustered leader mode.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Coordination store. Optional: without it the bus stays off and the
	// election short-circuits to leader.
	var redisClient *redis.Client
	var leaderLock domain.LeaderLock
	var priceCache domain.LatestPriceCache
	var rateLimiter domain.RateLimiter
	if cfg.Redis.Enabled() {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = c.Close() })
		redisClient = c
		leaderLock = redis.NewLeaderLock(c)
		priceCache = redis.NewPriceCache(c)
		rateLimiter = redis.NewRateLimiter(c)
	} else {
		logger.Warn("no coordination store configured, running unclustered")
	}

	bus := redis.NewBus(redisClient, cfg.Bus.BatchWindow.Duration, cfg.Bus.ProbeInterval.Duration, logger)
	closers = append(closers, func() { _ = bus.Close() })
	deps.Bus = bus

	deps.Coordinator = election.New(leaderLock, cfg.Election.LockKey,
		cfg.Election.TTL.Duration, cfg.Election.RenewBefore.Duration, logger)

	// Authoritative storage.
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.GamePrices = postgres.NewGamePriceStore(pool)
	deps.MarketQuotes = postgres.NewMarketQuoteStore(pool)
	deps.BatchWriter = postgres.NewBatchWriter(pool)
	mappingStore := postgres.NewMappingStore(pool)

	deps.Mapper = mapper.New(mappingStore, logger)

	// Archival, best-effort cold storage of flushed snapshots.
	var blobReader domain.BlobReader
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.Archive.Prefix, 0, logger)
		blobReader = s3blob.NewReader(s3Client)
	}

	// Batching pipeline.
	deps.Queues = batch.NewQueues(cfg.Batch.MaxPending)
	var flushArchiver batch.Archiver
	if deps.Archiver != nil {
		flushArchiver = deps.Archiver
	}
	deps.Flusher = batch.NewFlusher(deps.Queues, deps.BatchWriter, bus, priceCache,
		flushArchiver, cfg.Batch.FlushInterval.Duration, logger)

	deps.Engine = ingest.NewEngine(deps.Mapper, deps.Queues, logger)

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// Upstream feed. The key loads at wire time so a bad credential fails
	// the process instead of failing the first election winner.
	if cfg.Feed.Enabled {
		key, err := crypto.LoadPrivateKey(crypto.KeySource{
			RawPEM:        cfg.Feed.PrivateKeyPEM,
			PEMPath:       cfg.Feed.PrivateKeyFile,
			EncryptedPath: cfg.Feed.EncryptedKeyPath,
			Passphrase:    cfg.Feed.KeyPassphrase,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: feed key: %w", err)
		}
		creds := &kalshi.Credentials{KeyID: cfg.Feed.APIKeyID, PrivateKey: key}

		newClient := func() domain.FeedClient {
			return kalshi.NewWSClient(cfg.Feed.WSURL, creds,
				cfg.Feed.BackoffMin.Duration, cfg.Feed.BackoffMax.Duration, logger)
		}
		notifier := deps.Notifier
		onDrop := func(code int, reason string) {
			notifier.Notifyf(context.Background(), notify.EventFeedDisconnected,
				"Upstream feed disconnected", "code=%d reason=%s", code, reason)
		}
		deps.Feeder = feed.NewFeeder(newClient, deps.Mapper, deps.Engine.HandleTick, onDrop, logger)
	}

	// Local client surface.
	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(bus, func() string { return string(deps.Coordinator.Role()) }, logger)

		sources := handler.StatusSources{
			Role:       func() string { return string(deps.Coordinator.Role()) },
			HolderID:   deps.Coordinator.HolderID,
			BusReady:   bus.Ready,
			Ingest:     deps.Engine.Stats,
			Flush:      deps.Flusher.Stats,
			Mappings:   deps.Mapper.Size,
			HubClients: deps.Hub.ClientCount,
		}
		if deps.Feeder != nil {
			sources.Feed = deps.Feeder.Status
		}
		if deps.Archiver != nil {
			archiver := deps.Archiver
			sources.ArchiveInfo = func() any { return archiver.Stats() }
		}

		handlers := server.Handlers{
			Health: handler.NewHealthHandler(),
			Status: handler.NewStatusHandler(sources),
			Prices: handler.NewPriceHandler(priceCache, deps.GamePrices, deps.MarketQuotes, logger),
		}
		if blobReader != nil {
			handlers.Archive = handler.NewArchiveHandler(blobReader, cfg.Archive.Prefix, logger)
		}

		deps.Server = server.New(server.Config{
			Port:            cfg.Server.Port,
			CORSOrigins:     cfg.Server.CORSOrigins,
			AuthToken:       cfg.Server.AuthToken,
			RateLimitPerMin: cfg.Server.RateLimitPerMin,
		}, handlers, deps.Hub, rateLimiter, logger)
	}

	return deps, cleanup, nil
}
