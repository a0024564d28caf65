package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"ig-autoreply/internal/adapters/cache"
	"ig-autoreply/internal/adapters/gateway"
	"ig-autoreply/internal/adapters/handler"
	"ig-autoreply/internal/adapters/repository"
	"ig-autoreply/internal/config"
	"ig-autoreply/internal/core/ports"
	"ig-autoreply/internal/core/services"
	"ig-autoreply/internal/observability"
)

const (
	connectRetries = 5
	connectDelay   = 2 * time.Second
	shutdownGrace  = 15 * time.Second
	detectTimeout  = 10 * time.Second
)

func runServe(ctx context.Context) error {
	slog.Info("[1/6] Loading configuration...")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("Config loaded",
		"db", fmt.Sprintf("%s@%s:%d", cfg.DB.User, cfg.DB.Host, cfg.DB.Port),
		"redis", cfg.Redis.Addr,
		"owner_scope", cfg.App.OwnerScope,
	)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	slog.Info("[2/6] Connecting to MariaDB...")
	db, err := connectMariaDB(ctx, cfg.DB, connectRetries, connectDelay)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := repository.MigrateUp(db); err != nil {
		return err
	}

	slog.Info("[3/6] Initializing dedup store...")
	deps := map[string]handler.Pinger{}
	var dedupStore ports.DedupStore
	if cfg.Redis.Addr != "" {
		rdb, err := connectRedis(ctx, cfg.Redis, connectRetries, connectDelay)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisRepo := repository.NewRedisRepository(rdb)
		dedupStore = redisRepo
		deps["redis"] = redisRepo
		slog.Info("Using Redis dedup store", "addr", cfg.Redis.Addr)
	} else {
		dedupStore = cache.NewMemoryStore(cfg.Dedup.MaxEvents)
		slog.Warn("REDIS_ADDR not set, using in-process dedup cache (single instance only)")
	}

	slog.Info("[4/6] Initializing services...")
	mariadbRepo := repository.NewMariaDBRepository(db)
	deps["mariadb"] = mariadbRepo

	graph := gateway.NewGraphClient(cfg.Instagram)
	pause := services.NewPauseSwitch()

	processor := services.NewProcessor(
		mariadbRepo, // WebhookRepository
		services.NewDeduplicator(dedupStore, cfg.Dedup.BodyTTL, cfg.Dedup.EventTTL),
		services.NewMatcher(mariadbRepo, graph, cfg.App.OwnerScope),
		services.NewReplyDispatcher(graph, graph, mariadbRepo, cfg.App.AutoReplyMessage).
			WithCatalog(cfg.App.CatalogURL, cfg.App.CatalogImageURL),
		resolveIdentity(ctx, cfg.Instagram, graph),
		pause,
	)
	if cfg.App.CatalogURL != "" {
		slog.Info("Direct messages answered with catalog card", "catalog_url", cfg.App.CatalogURL)
	}

	watchdog := services.NewWatchdog(
		mariadbRepo,
		cfg.Watchdog.Interval,
		cfg.Watchdog.DiskThreshold,
		cfg.Watchdog.Retention,
		".",
	)
	go watchdog.Run(ctx)

	slog.Info("[5/6] Initializing HTTP handlers...")
	webhook := handler.NewWebhookHandler(processor, cfg.Instagram.AppSecret, cfg.Instagram.VerifyToken)
	router := handler.NewRouter(handler.Handlers{
		Webhook:     webhook,
		Automations: handler.NewAutomationHandler(mariadbRepo, cfg.App.OwnerScope),
		System:      handler.NewSystemHandler(deps, pause, cfg.Watchdog.DiskThreshold, ".", Version),
		Privacy:     handler.NewPrivacyHandler(cfg.App.PrivacyContact),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("[6/6] Server listening", "addr", srv.Addr, "webhook", "/webhook", "privacy", "/privacy-policy", "version", Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := webhook.Wait(sctx); err != nil {
		slog.Warn("Webhook processing still in flight at shutdown", "error", err)
	}
	slog.Info("Server stopped")
	return nil
}

type accountLookup interface {
	AccountUsername(ctx context.Context, businessID string) (string, error)
}

// resolveIdentity fills in the account username from the Graph API when
// IG_USERNAME is unset. A failed lookup leaves it empty and only the
// business id suppresses self replies.
func resolveIdentity(ctx context.Context, ig config.InstagramConfig, lookup accountLookup) services.Identity {
	id := services.Identity{BusinessID: ig.BusinessID, Username: ig.Username}
	if id.Username != "" || id.BusinessID == "" || lookup == nil {
		return id
	}

	lctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()
	name, err := lookup.AccountUsername(lctx, id.BusinessID)
	if err != nil {
		slog.Warn("Could not detect account username", "business_id", id.BusinessID, "error", err)
		return id
	}
	id.Username = name
	slog.Info("Detected account username", "username", name)
	return id
}

// connectMariaDB opens the pool and retries the ping while the database
// container is still starting
func connectMariaDB(ctx context.Context, cfg config.DBConfig, maxRetries int, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("configure db driver: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for i := 1; i <= maxRetries; i++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			slog.Info("MariaDB connection established")
			return db, nil
		}

		slog.Warn("Cannot ping MariaDB", "attempt", i, "max", maxRetries, "error", err)
		if i < maxRetries {
			if werr := sleepCtx(ctx, retryDelay); werr != nil {
				break
			}
		}
	}

	db.Close()
	return nil, fmt.Errorf("connect mariadb after %d attempts: %w", maxRetries, err)
}

// connectRedis pings Redis with the same retry policy
func connectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	var err error
	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			slog.Info("Redis connection established")
			return rdb, nil
		}

		slog.Warn("Cannot ping Redis", "attempt", i, "max", maxRetries, "error", err)
		if i < maxRetries {
			if werr := sleepCtx(ctx, retryDelay); werr != nil {
				break
			}
		}
	}

	rdb.Close()
	return nil, fmt.Errorf("connect redis after %d attempts: %w", maxRetries, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
