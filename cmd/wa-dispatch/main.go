package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/api"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/cache"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/client"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/config"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/logging"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/migrations"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/service"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg.Log.Level, cfg.Log.Format))

	if err := run(cfg); err != nil {
		slog.Error("wa-dispatch exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	gw := client.NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	resolver, err := newResolver(ctx, cfg.Attachments)
	if err != nil {
		return err
	}

	dispatcher := service.NewDispatcher(store, gw, resolver, service.DispatchConfig{
		AllowAttachment: cfg.Gateway.AllowAttachment,
	})

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		rc := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		dispatcher.WithFileCache(rc).WithHooks(rc.StoreSent)
	}

	sweeper, err := scheduler.New("stale-pending-sweeper", cfg.Sweeper.Interval,
		scheduler.SweepStalePending(store, dispatcher, cfg.Sweeper.BatchSize, cfg.Sweeper.Grace))
	if err != nil {
		return err
	}
	if cfg.Sweeper.AutoStart {
		sweeper.Start()
	}
	defer sweeper.Stop()

	h := api.NewHandler(
		sweeper,
		store,
		service.NewOutbox(store, dispatcher),
		service.NewInboundReceiver(store),
		service.NewReconciler(store),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 10 * time.Second,
		// Gateway calls run inside the request; leave room for upload + send.
		WriteTimeout: 2*cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("wa-dispatch starting",
			"addr", cfg.Server.Address,
			"store", cfg.Store.Driver,
			"redis", cfg.Redis.Enabled,
			"s3", cfg.Attachments.S3.Enabled,
			"allow_attachment", cfg.Gateway.AllowAttachment,
			"sweeper_autostart", cfg.Sweeper.AutoStart,
		)
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
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("server exited gracefully")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (repo.MessageRepository, func(), error) {
	if cfg.Driver == config.StoreMemory {
		slog.Warn("using in-memory store, messages are lost on restart")
		return repo.NewMemoryMessageRepo(), func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := migrations.Up(db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}

	return repo.NewPostgresMessageRepo(db), func() { _ = db.Close() }, nil
}

func newResolver(ctx context.Context, cfg config.AttachmentConfig) (*storage.Resolver, error) {
	var opts []storage.Option

	if cfg.S3.Enabled {
		p, err := storage.NewS3Presigner(ctx, storage.S3Config{
			Region:            cfg.S3.Region,
			Endpoint:          cfg.S3.Endpoint,
			AccessKey:         cfg.S3.AccessKey,
			SecretKey:         cfg.S3.SecretKey,
			UsePathStyle:      cfg.S3.UsePathStyle,
			PresignExpiration: cfg.S3.PresignDuration,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithPresigner(p, cfg.S3.Bucket))
	}

	return storage.NewResolver(cfg.PublicBaseURL, opts...)
}
