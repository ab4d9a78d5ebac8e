package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nlarkins/mexc-sniper/cacheservice"
	"github.com/nlarkins/mexc-sniper/config"
	"github.com/nlarkins/mexc-sniper/cryptoenc"
	"github.com/nlarkins/mexc-sniper/discovery"
	"github.com/nlarkins/mexc-sniper/logger"
	"github.com/nlarkins/mexc-sniper/mexc"
	"github.com/nlarkins/mexc-sniper/store"
	"github.com/nlarkins/mexc-sniper/telemetry"
	"github.com/nlarkins/mexc-sniper/workflow"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("mexc sniper starting")

	cache := cacheservice.New(cfg, log)
	if cache.Start(context.Background()) {
		log.Info().Msg("cache connected")
	} else {
		log.Warn().Msg("cache unavailable — continuing in no-op mode")
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence store")
	}

	metrics := telemetry.New()

	apiKey, secretKey := loadCredentials(context.Background(), cfg, st, log)
	adapter := mexc.New(cfg.MexcBaseURL, apiKey, secretKey, cache, log, metrics)

	engine := discovery.New(adapter, st, log, discovery.Config{
		ReadyStatePattern:  cfg.ReadyStatePattern,
		TargetAdvanceHours: cfg.TargetAdvanceHours,
		PollInterval:       time.Duration(cfg.CalendarPollIntervalSeconds) * time.Second,
		DefaultBuyAmount:   cfg.DefaultBuyAmountUSDT,
	}, metrics)

	bus := workflow.NewBus(log, 256)
	scheduler := workflow.New(st, bus, engine, adapter, log, workflow.Config{
		CalendarPollInterval: time.Duration(cfg.CalendarPollIntervalSeconds) * time.Second,
		CalendarPollCron:     cfg.CalendarPollCron,
		MaxRecheckAttempts:   cfg.MaxSymbolRecheckAttempts,
	}, metrics)

	engine.Start(context.Background())
	scheduler.Start(context.Background())

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		_ = engine.Status(req.Context())
		if cache.Available() || cfg.RedisURL == "" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	r.Get("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sniper listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	// Shutdown order mandated by the design notes: scheduler → discovery
	// → adapter (stateless, nothing to stop) → cache → persistence.
	scheduler.Stop()
	engine.Stop()
	if err := cache.Close(); err != nil {
		log.Warn().Err(err).Msg("cache close failed")
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("sniper stopped gracefully")
	}
}

// loadCredentials prefers the encrypted credential row for "mexc"; falling
// back to the plaintext env vars when no row is configured.
func loadCredentials(ctx context.Context, cfg *config.Config, st *store.Store, log zerolog.Logger) (apiKey, secretKey string) {
	cred, err := st.GetCredential(ctx, "mexc")
	if err != nil {
		log.Warn().Err(err).Msg("failed to look up stored credentials, falling back to env vars")
		return cfg.MexcAPIKey, cfg.MexcSecretKey
	}
	if cred == nil {
		return cfg.MexcAPIKey, cfg.MexcSecretKey
	}
	if cfg.EncryptionPassphrase == "" {
		log.Warn().Msg("stored credentials present but ENCRYPTION_PASSPHRASE not configured, falling back to env vars")
		return cfg.MexcAPIKey, cfg.MexcSecretKey
	}

	enc := cryptoenc.New(cfg.EncryptionPassphrase)
	apiKeyBytes, err := enc.Decrypt(cred.EncryptedAPIKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decrypt stored API key, falling back to env vars")
		return cfg.MexcAPIKey, cfg.MexcSecretKey
	}
	secretKeyBytes, err := enc.Decrypt(cred.EncryptedSecretKey)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decrypt stored secret key, falling back to env vars")
		return cfg.MexcAPIKey, cfg.MexcSecretKey
	}
	return string(apiKeyBytes), string(secretKeyBytes)
}
