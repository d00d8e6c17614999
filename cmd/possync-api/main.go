package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/api"
	"github.com/restolabs/possync/internal/config"
	"github.com/restolabs/possync/internal/database"
	"github.com/restolabs/possync/internal/repository"
	"github.com/restolabs/possync/internal/service"
	"github.com/restolabs/possync/internal/vault"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api server exited")
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

	importer := service.NewImporter(txnRepo)
	webhooks := service.NewWebhookProcessor(credRepo, importer, key)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(jobRepo, credRepo, webhooks, key),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server starting")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
		log.Info().Msg("api server stopped")
		return nil

	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
