package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/config"
	"github.com/pesasats/pesasats-api/internal/domain/credit"
	"github.com/pesasats/pesasats-api/internal/domain/rates"
	"github.com/pesasats/pesasats-api/internal/domain/transaction"
	"github.com/pesasats/pesasats-api/internal/pkg/database"
	"github.com/pesasats/pesasats-api/internal/pkg/lightning"
)

const sweepBatchSize = 100

// The sweeper is the dead-letter path for transactions whose provider
// never called back or that never got claimed. It reuses the guarded
// status transitions, so it can race the workers and webhook handlers
// safely: whoever moves the row first wins, the loser is a no-op.
func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Msg("Starting PesaSats sweeper")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	lightningClient := lightning.NewClient(lightning.Config{
		BaseURL: cfg.LightningBaseURL,
		Token:   cfg.LightningToken,
	})
	rateSource := rates.NewHTTPSource(cfg.RateSourceURL, 10*time.Second)
	rateService := rates.NewService(rateSource, nil, nil, cfg.RateMaxAge)

	txRepo := transaction.NewRepository(db)
	creditRepo := credit.NewRepository(db)
	creditService := credit.NewService(creditRepo, lightningClient, rateService, cfg.MinCreditSats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		sweep(ctx, txRepo, creditService, cfg)

		select {
		case <-ctx.Done():
			log.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, repo transaction.Repository, credits *credit.Service, cfg *config.Config) {
	sweepStatus(ctx, repo, credits, transaction.StatusPending,
		time.Now().Add(-cfg.PendingMaxWait), "timed out awaiting dispatch")
	sweepStatus(ctx, repo, credits, transaction.StatusProcessing,
		time.Now().Add(-cfg.ProcessingMaxWait), "timed out awaiting provider confirmation")
}

func sweepStatus(ctx context.Context, repo transaction.Repository, credits *credit.Service, status transaction.Status, cutoff time.Time, reason string) {
	stale, err := repo.ListStale(ctx, status, cutoff, sweepBatchSize)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to list stale transactions")
		return
	}

	for _, tx := range stale {
		applied, err := repo.MarkFailed(ctx, tx.ID, reason)
		if err != nil {
			log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Failed to time out transaction")
			continue
		}
		if !applied {
			// Settled between listing and sweeping
			continue
		}

		log.Warn().
			Str("transaction_id", tx.ID.String()).
			Str("kind", string(tx.Kind)).
			Str("from_status", string(status)).
			Msg("Transaction timed out")

		if !tx.CryptoLegCollected() {
			continue
		}
		res, err := credits.Refund(ctx, tx.ID, tx.AmountSats.Int64, tx.LightningDest.String, reason)
		if err != nil {
			log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Compensating refund failed; manual reconciliation required")
			continue
		}
		if _, err := repo.MarkRefunded(ctx, tx.ID, res.LightningRef); err != nil {
			log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Failed to mark transaction refunded")
		}
	}
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
