package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/config"
	"github.com/pesasats/pesasats-api/internal/domain/credit"
	"github.com/pesasats/pesasats-api/internal/domain/rates"
	"github.com/pesasats/pesasats-api/internal/domain/transaction"
	"github.com/pesasats/pesasats-api/internal/domain/webhook"
	"github.com/pesasats/pesasats-api/internal/middleware"
	"github.com/pesasats/pesasats-api/internal/pkg/airtime"
	"github.com/pesasats/pesasats-api/internal/pkg/archive"
	"github.com/pesasats/pesasats-api/internal/pkg/database"
	"github.com/pesasats/pesasats-api/internal/pkg/gateway"
	"github.com/pesasats/pesasats-api/internal/pkg/jwt"
	"github.com/pesasats/pesasats-api/internal/pkg/lightning"
	"github.com/pesasats/pesasats-api/internal/pkg/mpesa"
	"github.com/pesasats/pesasats-api/internal/pkg/response"
	"github.com/pesasats/pesasats-api/internal/queue"
)

var supportedCurrencies = []string{"KES", "NGN", "ZAR", "UGX", "TZS"}

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting PesaSats API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Provider clients ----------
	mpesaClient := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.MpesaBaseURL,
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		ShortCode:      cfg.MpesaShortCode,
		Passkey:        cfg.MpesaPasskey,
		InitiatorName:  cfg.MpesaInitiatorName,
		InitiatorCred:  cfg.MpesaInitiatorCred,
		CallbackURL:    cfg.CallbackBaseURL + "/webhooks/mpesa/stk",
		ResultURL:      cfg.CallbackBaseURL + "/webhooks/mpesa/b2c",
		Timeout:        cfg.DispatchTimeout,
	})
	airtimeClient := airtime.NewClient(airtime.Config{
		BaseURL: cfg.AirtimeBaseURL,
		APIKey:  cfg.AirtimeAPIKey,
		Timeout: cfg.DispatchTimeout,
	})
	lightningClient := lightning.NewClient(lightning.Config{
		BaseURL: cfg.LightningBaseURL,
		Token:   cfg.LightningToken,
	})

	var webhookArchive webhook.Archiver
	if cfg.ArchiveAccessKeyID != "" {
		a, err := archive.New(archive.Config{
			AccountID:       cfg.ArchiveAccountID,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			AccessKeySecret: cfg.ArchiveAccessKeySecret,
			BucketName:      cfg.ArchiveBucketName,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create webhook archive")
		}
		webhookArchive = a
	} else {
		log.Warn().Msg("Webhook archive disabled, no access key configured")
	}

	// ---------- Exchange rates ----------
	rateSource := rates.NewHTTPSource(cfg.RateSourceURL, 10*time.Second)
	rateService := rates.NewService(rateSource, rdb, supportedCurrencies, cfg.RateMaxAge)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rateService.Run(rootCtx, cfg.RateRefreshInterval)

	// ---------- Repositories and services ----------
	txRepo := transaction.NewRepository(db)
	creditRepo := credit.NewRepository(db)

	creditService := credit.NewService(creditRepo, lightningClient, rateService, cfg.MinCreditSats)
	jobQueue := queue.New(txRepo, rdb)
	txService := transaction.NewService(txRepo, jobQueue, rateService, creditService, cfg.AirtimeMinAmount)
	webhookService := webhook.NewService(txRepo, creditService, webhookArchive)

	// ---------- Worker pool ----------
	adapters := map[transaction.Kind]gateway.Adapter{
		transaction.KindBuy:     mpesa.NewCollectAdapter(mpesaClient),
		transaction.KindPayout:  mpesa.NewPayoutAdapter(mpesaClient),
		transaction.KindAirtime: airtime.NewAdapter(airtimeClient),
	}
	pool := queue.NewPool(txRepo, adapters, creditService, queue.PoolConfig{
		Workers:         cfg.WorkerCount,
		MaxAttempts:     cfg.MaxAttempts,
		DispatchTimeout: cfg.DispatchTimeout,
		RetryBackoff:    cfg.RetryBackoff,
	})
	pool.Start(rootCtx, rdb)

	// ---------- Handlers ----------
	txHandler := transaction.NewHandler(txService)
	webhookHandler := webhook.NewHandler(webhookService, cfg.MpesaWebhookSecret, cfg.AirtimeWebhookSecret)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/debug/vars", expvar.Handler())

	// Provider callbacks authenticate via HMAC signature, not JWT
	r.Mount("/webhooks", webhookHandler.Routes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(jwtService))
			r.Mount("/transactions", txHandler.Routes())
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	pool.Wait()
	log.Info().Msg("Shutdown complete")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
}
