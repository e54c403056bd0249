package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/allowlist"
	"github.com/sungwon/mail-dispatch/internal/api"
	"github.com/sungwon/mail-dispatch/internal/archive"
	"github.com/sungwon/mail-dispatch/internal/azure"
	"github.com/sungwon/mail-dispatch/internal/cognitive"
	"github.com/sungwon/mail-dispatch/internal/config"
	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/logger"
	"github.com/sungwon/mail-dispatch/internal/message"
	"github.com/sungwon/mail-dispatch/internal/policy"
	"github.com/sungwon/mail-dispatch/internal/provider"
	"github.com/sungwon/mail-dispatch/internal/ratelimit"
	"github.com/sungwon/mail-dispatch/internal/unsubscribe"
)

const healthCheckInterval = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File: logger.FileConfig{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxFiles:   cfg.Logging.MaxFiles,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	})
	log.Info().Msg("starting dispatch server")

	ctx := context.Background()

	httpClient := azure.NewHTTPClient(cfg.REST.Timeout)
	cognitiveClient := azure.NewHTTPClient(cfg.Cognitive.Timeout)

	allow := allowlist.New(
		cfg.AllowList.Hosts,
		net.DefaultResolver,
		allowlist.NewIPSet(),
		log.With().Str("component", "allowlist").Logger(),
		allowlist.WithLookupTimeout(cfg.AllowList.LookupTimeout),
	)

	contentPolicy := policy.NewDispatcher(
		cognitive.NewBackends(cfg.Cognitive, cognitiveClient, log),
		log.With().Str("component", "policy").Logger(),
	)

	// Rate limiting needs Redis; without it every caller is unlimited.
	var limiter dispatch.RateLimiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable, rate limiting will fail open")
		}
		if l := ratelimit.New(rdb, cfg.RateLimit.DailyLimit); l.Enabled() {
			limiter = l
			log.Info().Int("daily_limit", cfg.RateLimit.DailyLimit).Msg("rate limiter initialized")
		}
	}

	store, err := archive.New(ctx, cfg.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize message archive")
	}

	transports := provider.BuildTransports(ctx, cfg, httpClient, log)
	log.Info().Strs("providers", transports.Names()).Msg("transports configured")

	healthChecker := provider.NewHealthChecker(transports.All(), log, healthCheckInterval)
	healthChecker.Start()
	defer healthChecker.Stop()

	suppression := buildSuppressionWriter(cfg, httpClient, log)

	orchestrator := dispatch.New(dispatch.Deps{
		Config:      cfg,
		AllowList:   allow,
		Limiter:     limiter,
		Policy:      contentPolicy,
		Renderer:    message.NewRenderer(true),
		Transports:  transports,
		Archive:     store,
		Suppression: suppression,
		Log:         log,
	})

	router := api.NewRouter(api.RouterConfig{
		Dispatcher: orchestrator,
		Health:     healthChecker,
		Defaults: message.Defaults{
			Sender:    cfg.Defaults.Sender,
			Recipient: cfg.Defaults.Recipient,
			ReplyTo:   cfg.Defaults.ReplyTo,
		},
		TrustForwardedFor: cfg.API.TrustForwardedFor,
		Log:               log,
	})

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("dispatch server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// buildSuppressionWriter returns nil when no Entra ID credentials are
// configured. The unsubscribe endpoint then reports a configuration error.
func buildSuppressionWriter(cfg *config.Config, client azure.HTTPClient, log zerolog.Logger) unsubscribe.SuppressionWriter {
	creds := azure.Credentials{
		TenantID:     cfg.Azure.TenantID,
		ClientID:     cfg.Azure.ClientID,
		ClientSecret: cfg.Azure.ClientSecret,
	}
	tokens, err := azure.NewTokenManager(creds, azure.ScopeManagement, cfg.REST.Timeout)
	if err != nil {
		log.Warn().Err(err).Msg("unsubscribe endpoint disabled")
		return nil
	}
	return unsubscribe.NewARMWriter(unsubscribe.ARMWriterConfig{
		Endpoint:   cfg.Unsubscribe.ManagementEndpoint,
		APIVersion: cfg.Unsubscribe.APIVersion,
	}, client, tokens)
}
