package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"
	"voscribe/internal/config"
	"voscribe/internal/notify"
	"voscribe/internal/queue"
	"voscribe/internal/sarvam"
	"voscribe/internal/storage"
	"voscribe/internal/worker"
	"voscribe/pkg/cache"
	"voscribe/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	debug := true
	if err := logger.Init(debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting voscribe worker service")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
		return
	}
	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
		return
	}

	db, err := storage.NewPostgresStorage(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
		return
	}
	defer db.Close()

	logger.Info("Database connection established")

	s3Storage, err := storage.NewS3Storage(storage.S3Options{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		Prefix:    cfg.S3.Prefix,
	})
	if err != nil {
		logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		return
	}

	logger.Info("S3 storage initialized")

	sttClient := sarvam.NewClient(cfg.Sarvam.BaseURL, cfg.Sarvam.APIKey)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := sttClient.Health(probeCtx); err != nil {
		logger.Warn("Sarvam provider unreachable, transcription will retry", zap.Error(err))
	} else {
		logger.Info("Sarvam provider reachable")
	}
	probeCancel()

	redisCache, err := cache.NewRedisCache(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
		return
	}
	defer redisCache.Close()

	logger.Info("Redis cache connection established")

	broker, err := queue.Connect(queue.Options{
		URL:      cfg.RabbitMQ.URL,
		Prefetch: cfg.Worker.Prefetch,
	})
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		return
	}
	defer broker.Close()

	// A nil *TelegramNotifier must not end up inside the interface,
	// the processor only checks the interface against nil.
	var notifier worker.Notifier
	tn, err := notify.NewTelegramNotifier(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram notifier", zap.Error(err))
		return
	}
	if tn != nil {
		notifier = tn
	}

	processor := worker.NewProcessor(db, s3Storage, sttClient, redisCache, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	// QoS applies per consumer, so up to concurrency * prefetch chunks
	// are unacked at a time. A chunk interrupted by shutdown is nacked
	// and picked up on the next start.
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(consumer int) {
			defer wg.Done()
			logger.Info("Starting queue consumer", zap.Int("consumer", consumer))
			if err := broker.Consume(ctx, processor.ProcessChunkTask); err != nil {
				logger.Error("Consumer stopped", zap.Error(err), zap.Int("consumer", consumer))
				stop()
			}
		}(i)
	}

	<-ctx.Done()
	logger.Info("Shutting down, draining consumers")
	wg.Wait()

	logger.Info("Worker service shutdown complete")
}
