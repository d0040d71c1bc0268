package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/counselchat/internal/auth"
	"github.com/Tyrowin/counselchat/internal/server"
	"github.com/Tyrowin/counselchat/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	store, err := sqlite.Open(config.SQLitePath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		log.Info("Closing SQLite store...")
		_ = store.Close()
	}()

	revocations, err := auth.OpenRevocationList(config.BadgerPath, log)
	if err != nil {
		return fmt.Errorf("open revocation list: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = revocations.Close()
	}()

	issuer, err := auth.NewIssuer(config.JWTSecret, config.TokenTTL)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	validator := auth.NewValidator(issuer, revocations, store)

	srv, err := server.New(serverConfig(config), server.Dependencies{
		Validator: validator,
		Members:   store,
		Messages:  store,
		Accounts:  store,
		Groups:    store,
		Tokens:    validator,
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Shutdown finished with errors", "error", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}

func serverConfig(config Config) server.Config {
	return server.Config{
		Addr:           config.Host + ":" + strconv.Itoa(config.Port),
		AllowedOrigins: server.ParseOrigins(config.AllowedOrigins),
		MaxMessageSize: config.MaxMessageSize,
		RateLimit: server.RateLimitConfig{
			Burst:          config.RateLimitBurst,
			RefillInterval: config.RateLimitRefillInterval,
		},
		SendBufferSize:  config.SendBufferSize,
		PongWait:        config.PongWait,
		PingPeriod:      config.PingPeriod,
		WriteWait:       config.WriteWait,
		HistoryPageSize: config.HistoryPageSize,
		ShutdownTimeout: config.ShutdownTimeout,
	}
}
