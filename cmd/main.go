package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"resilience-notifier/internal/api"
	"resilience-notifier/internal/config"
	"resilience-notifier/internal/db"
	"resilience-notifier/internal/detector"
	"resilience-notifier/internal/dispatcher"
	"resilience-notifier/internal/kafka"
	"resilience-notifier/internal/logging"
	"resilience-notifier/internal/models"
	"resilience-notifier/internal/providers"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// Connect to database
	dbConn, err := db.New(cfg.DB.DSN)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()

	// Live alert feed
	hub := api.NewAlertHub(logger)

	// Breach detector: enqueues on the durable queue, never calls providers
	det := detector.New(dbConn, logger, cfg.Dispatcher.DefaultMaxRetries)
	det.SetBroadcaster(hub)

	// Dispatcher with per-channel delivery providers
	providerFuncs := map[models.Channel]dispatcher.SendFunc{
		models.ChannelEmail: func(ctx context.Context, e models.QueueEntry) error {
			return providers.SendEmail(ctx, e, cfg)
		},
		models.ChannelSMS: func(ctx context.Context, e models.QueueEntry) error {
			return providers.SendSMS(ctx, e, cfg)
		},
		models.ChannelSlack: func(ctx context.Context, e models.QueueEntry) error {
			return providers.SendSlack(ctx, e, cfg)
		},
		models.ChannelWebhook: providers.SendWebhook,
		models.ChannelTelegram: func(ctx context.Context, e models.QueueEntry) error {
			return providers.SendTelegram(ctx, e, cfg)
		},
	}
	disp := dispatcher.New(dbConn, providerFuncs, logger, cfg)

	var wg sync.WaitGroup
	disp.Start(&wg)

	// Start Kafka consumer for KRI measurement events
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	consumer := kafka.NewConsumer(cfg, det, logger)
	consumer.Start(consumerCtx, &wg)

	// Start API server
	router := api.NewRouter(dbConn, det, disp, hub, logger, cfg)
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := router.Run(cfg.API.Port); err != nil {
			logger.Errorf("API server failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("Shutting down...")
	disp.Stop()
	consumerCancel()
	consumer.Close()
	wg.Wait()
	logger.Info("Service stopped")
}
