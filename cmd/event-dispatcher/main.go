package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/config"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/consumer"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/gateway"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/logging"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/queue"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/retry"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/store"
	"github.com/clearbanc-pay/payment-event-dispatcher/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/event-dispatcher")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	// Validate the configuration
	err = cfg.Validate()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	logger := logging.New(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry()

	// Initialize the event log and view stores
	events, views, err := store.NewRepositories(ctx, cfg.Database)
	if err != nil {
		logger.Fatalw("Failed to initialize stores", "error", err)
	}

	// Delayed queues feeding the retry orchestrators
	refundRetryQueue, err := queue.NewDelayedQueue(ctx, &cfg.Queue, cfg.Queue.RefundRetryQueue, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize refund retry queue", "error", err)
	}
	defer refundRetryQueue.Close()

	authRetryQueue, err := queue.NewDelayedQueue(ctx, &cfg.Queue, cfg.Queue.AuthorizationRequestedQueue, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize authorization retry queue", "error", err)
	}
	defer authRetryQueue.Close()

	deadLetter, err := queue.NewDeadLetterSink(ctx, &cfg.Queue, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize dead-letter sink", "error", err)
	}
	defer deadLetter.Close()

	gatewayClient := gateway.NewHTTPClient(cfg.Gateway)

	refundRetries := retry.NewRefundRetryService(events, views, refundRetryQueue, cfg.Retry, logger)
	authRetries := retry.NewAuthorizationStateRetryService(events, views, authRetryQueue, cfg.Retry, logger)

	// Wire each workflow consumer to its queue
	receiver, err := consumer.NewReceiver(&cfg.Queue, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize receiver", "error", err)
	}
	defer receiver.Close()

	receiver.Bind(cfg.Queue.ExpirationQueue, consumer.NewPipeline(
		consumer.NewExpirationConsumer(events, views, gatewayClient, refundRetries, logger),
		deadLetter, logger))
	receiver.Bind(cfg.Queue.RefundQueue, consumer.NewPipeline(
		consumer.NewRefundConsumer(events, views, gatewayClient, refundRetries, logger),
		deadLetter, logger))
	receiver.Bind(cfg.Queue.RefundRetryQueue, consumer.NewPipeline(
		consumer.NewRefundRetryConsumer(events, views, gatewayClient, refundRetries, logger),
		deadLetter, logger))
	receiver.Bind(cfg.Queue.AuthorizationRequestedQueue, consumer.NewPipeline(
		consumer.NewAuthorizationRequestedConsumer(events, views, gatewayClient, authRetries, logger),
		deadLetter, logger))

	logger.Infow("Payment event dispatcher started",
		"database", cfg.Database.Type,
		"queue", cfg.Queue.Type,
	)

	// Blocks until the context is canceled or the connection drops
	if err := receiver.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalw("Receiver stopped", "error", err)
	}
	logger.Info("Payment event dispatcher stopped")
}
