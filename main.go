package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"commerce-api/handlers"
	"commerce-api/internal/auth"
	"commerce-api/internal/config"
	"commerce-api/internal/consul"
	"commerce-api/internal/notify"
	"commerce-api/internal/orders"
	"commerce-api/internal/payments"
	"commerce-api/internal/stores/kafka"
	"commerce-api/internal/stores/postgres"
	"commerce-api/internal/users"
	"commerce-api/pkg/logkey"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, reading configuration from environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("startup failed", slog.Any(logkey.Error, err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		return err
	}

	gateway, err := payments.NewConf(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	if err != nil {
		return err
	}
	eventLog, err := payments.NewEventLog(db)
	if err != nil {
		return err
	}
	orderStore, err := orders.NewConf(db, gateway)
	if err != nil {
		return err
	}
	userStore, err := users.NewConf(db)
	if err != nil {
		return err
	}

	var producer handlers.Producer
	if len(cfg.KafkaBrokers) > 0 {
		kc, err := kafka.NewConf(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer kc.Close()
		producer = kc
	} else {
		slog.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	var notifier handlers.Notifier
	if cfg.SMTPHost != "" {
		nc, err := notify.NewConf(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
		if err != nil {
			return err
		}
		notifier = nc
	} else {
		slog.Warn("SMTP_HOST not set, order mail is disabled")
	}

	publicPEM, err := os.ReadFile(cfg.AuthPublicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read auth public key: %w", err)
	}
	keys, err := auth.NewKeys(publicPEM)
	if err != nil {
		return err
	}

	if cfg.ConsulAddress != "" {
		client, err := consul.NewClient(cfg.ConsulAddress)
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(cfg.Port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		serviceID := fmt.Sprintf("%s-%s-%s", cfg.ServiceName, cfg.ServiceAddress, cfg.Port)
		if err := consul.RegisterService(client, serviceID, cfg.ServiceName, cfg.ServiceAddress, port); err != nil {
			return err
		}
		defer func() {
			if err := consul.DeregisterService(client, serviceID); err != nil {
				slog.Error("consul deregistration failed", slog.Any(logkey.Error, err.Error()))
			}
		}()
	}

	api := handlers.API(keys, orderStore, gateway, eventLog, userStore, producer, notifier)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.String("port", cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}
