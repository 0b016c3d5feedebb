package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/vidrelay/vidrelay/internal/bot"
	"github.com/vidrelay/vidrelay/internal/cache"
	"github.com/vidrelay/vidrelay/internal/config"
	"github.com/vidrelay/vidrelay/internal/guard"
	"github.com/vidrelay/vidrelay/internal/http/rest"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/pipeline"
	"github.com/vidrelay/vidrelay/internal/publish"
	"github.com/vidrelay/vidrelay/internal/resolve/direct"
	"github.com/vidrelay/vidrelay/internal/resolve/ytdlp"
	"github.com/vidrelay/vidrelay/internal/storage/sqlite"
	"github.com/vidrelay/vidrelay/internal/telemetry"
	"github.com/vidrelay/vidrelay/internal/transfer"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewRelayHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("vidrelay starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && err != context.Canceled {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedCacheRepository(database, tel)

	// =========================================================================
	// Start Cache
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	cacheService := cache.NewService(repo, tel, cfg.DownloadDir, cfg.CacheExpiry, cfg.TempFileAge)
	go cacheService.Run(ctx, cfg.CleanupInterval)

	// =========================================================================
	// Start Relay Pipeline
	admissionGuard := guard.New(cfg.MaxFileSize(), cfg.GroupMaxFileSize())

	engine := transfer.NewEngine(transfer.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		IdleReadTimeout: cfg.IdleReadTimeout,
	})

	videoResolver := ytdlp.NewResolver(cfg.YTDLPPath)
	videoResolver.Timeout = cfg.YTDLPTimeout
	directResolver := direct.NewResolver(nil)

	// =========================================================================
	// Start Telegram Bot
	relayBot, err := bot.New(cfg.BotToken, nil, videoResolver, cacheService, cfg.IsAdmin)
	if err != nil {
		return fmt.Errorf("failed to setup telegram bot: %w", err)
	}

	publisher := publish.NewPublisher(relayBot.Client(), cfg.CacheChatID, tel)

	relayPipeline := pipeline.New(pipeline.Config{
		VideoResolver:  videoResolver,
		DirectResolver: directResolver,
		Engine:         engine,
		Guard:          admissionGuard,
		Cache:          cacheService,
		Publisher:      publisher,
		Messenger:      bot.NewMessenger(relayBot),
		Telemetry:      tel,
		ScratchDir:     cfg.DownloadDir,
	})
	relayBot.SetRunner(relayPipeline)

	botErrors := make(chan error, 1)

	go func() {
		botErrors <- relayBot.Run(ctx)
	}()

	// =========================================================================
	// Start Ops API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, admissionGuard, cacheService, tel, cfg)

	go func() {
		logger.Info("Initializing ops API", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for links...",
		"download_dir", cfg.DownloadDir,
		"cache_expiry", cfg.CacheExpiry.String(),
		"max_file_size_mb", cfg.MaxFileSizeMB,
	)

	// =========================================================================
	// Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case err := <-botErrors:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("bot error: %w", err)
		}

		return nil
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

// setupServer prepares the handlers to create the ops http server.
func setupServer(ctx context.Context, admissionGuard *guard.Guard, cacheService *cache.Service, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	opsHandler := rest.NewOpsHandler(admissionGuard, cacheService, tel)

	r := chi.NewRouter()
	r.Mount("/", opsHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
