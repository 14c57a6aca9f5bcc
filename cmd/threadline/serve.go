package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/notify"
	"github.com/threadline/threadline/internal/ops"
	"github.com/threadline/threadline/internal/pipeline"
	"github.com/threadline/threadline/internal/rabbitmq"
	"github.com/threadline/threadline/internal/reliability"
	"github.com/threadline/threadline/internal/storage"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker bridge and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

// runServe is the composition root: every component is constructed
// explicitly here and torn down in reverse order on shutdown.
func runServe() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Default()
	config.FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	hub := notify.NewHub(cfg.HubBuffer, logger)
	sink := reliability.NewSink(store, logger)
	processor := pipeline.NewProcessor(store, hub, logger)
	consumer := pipeline.NewBridgeConsumer(cfg.QueueName, processor, sink, logger)

	registry := rabbitmq.NewConsumerRegistry(logger)
	if err := registry.Register("threadline-bridge", cfg.QueueName, consumer.Handle); err != nil {
		return err
	}

	manager := rabbitmq.NewConnectionManager(cfg.BrokerURL, cfg.QueueName, registry,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithRetryPolicy(rabbitmq.RetryPolicy{
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			Jitter:       cfg.Reconnect.Jitter,
		}),
	)
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer manager.Close()

	publisher := rabbitmq.NewPublisher(manager, logger)

	opsServer := ops.NewServer(manager, store, publisher, logger)
	httpServer := &http.Server{
		Addr:    cfg.OpsAddr,
		Handler: opsServer.Router(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("operator API listening", "addr", cfg.OpsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
