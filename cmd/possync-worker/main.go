package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/config"
	"github.com/restolabs/possync/internal/database"
	"github.com/restolabs/possync/internal/ratelimit"
	"github.com/restolabs/possync/internal/repository"
	"github.com/restolabs/possync/internal/service"
	"github.com/restolabs/possync/internal/toast"
	"github.com/restolabs/possync/internal/vault"
	"github.com/restolabs/possync/internal/watcher"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)
	log.Info().Msg("database connected")

	if err := database.RunMigrations(db); err != nil {
		return err
	}
	log.Info().Msg("migrations applied")

	key := vault.DeriveKey(cfg.CredentialKey, cfg.CredentialKeySalt)

	jobRepo := repository.NewSyncJobRepository(db, time.Duration(cfg.LeaseTTL)*time.Second)
	credRepo := repository.NewCredentialRepository(db)
	txnRepo := repository.NewTransactionRepository(db)

	limiter := ratelimit.NewSlidingWindow(cfg.RateLimitBudget, time.Duration(cfg.RateLimitWindow)*time.Second)
	vendorClient := toast.NewClient(cfg.ToastBaseURL, limiter,
		toast.WithPageSize(cfg.PageSize),
		toast.WithPageDelay(time.Duration(cfg.PageDelayMs)*time.Millisecond),
	)

	importer := service.NewImporter(txnRepo)
	processor := service.NewSyncProcessor(credRepo, vendorClient, importer, jobRepo, key)
	processor.SetTiming(time.Duration(cfg.MaxWindowDays)*24*time.Hour, service.DefaultInterWindowDelay)

	w := watcher.New(jobRepo, processor,
		time.Duration(cfg.PollInterval)*time.Second,
		time.Duration(cfg.RetentionDays)*24*time.Hour,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		select {
		case <-shutdownCtx.Done():
			log.Warn().Msg("shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("watcher error during shutdown")
			}
		}
		log.Info().Msg("worker stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
