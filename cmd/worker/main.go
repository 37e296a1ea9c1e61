// Package main runs the background job worker: recording uploads to S3 and
// notification dispatch to the delivery channels.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/livestream/config"
	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/internal/worker"
	"github.com/aura-webinar/livestream/pkg/database"
	"github.com/aura-webinar/livestream/pkg/queue"
	"github.com/aura-webinar/livestream/pkg/redis"
	"github.com/aura-webinar/livestream/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		logger.Fatal("worker requires STORE_DRIVER=postgres", zap.String("driver", cfg.Store.Driver))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.NewMetrics()
	jobQueue := queue.NewQueue(rdb, logger)
	registry := streams.NewRegistry(streams.NewPostgresStore(pool), m, logger)

	// Notifications: providers are external; every channel is logged until one is wired.
	senders := make(map[models.Channel]worker.Sender, len(models.AllChannels))
	for _, ch := range models.AllChannels {
		senders[ch] = worker.LogSender{Logger: logger.With(zap.String("channel", string(ch)))}
	}
	notificationProcessor := worker.NewNotificationProcessor(senders, m, logger)
	notificationWorker := worker.New(jobQueue, logger.Named("notifications"))
	notificationWorker.Handle(queue.JobTypeNotification, notificationProcessor, notificationProcessor.Queues()...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notificationWorker.Run(gctx) })

	if cfg.AWS.RecordingsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		recordingWorker := worker.New(jobQueue, logger.Named("recordings"))
		recordingWorker.Handle(queue.JobTypeRecordingUpload,
			worker.NewRecordingProcessor(s3Client, registry, m, logger), queue.QueueRecordings)
		g.Go(func() error { return recordingWorker.Run(gctx) })
	} else {
		logger.Warn("AWS_S3_RECORDINGS_BUCKET not set; recording uploads disabled")
	}

	logger.Info("worker started")
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
