// Package main runs the broadcast API server: HTTP, WebSocket fan-out and the
// background loops, with graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/livestream/config"
	"github.com/aura-webinar/livestream/internal/analytics"
	"github.com/aura-webinar/livestream/internal/auth"
	"github.com/aura-webinar/livestream/internal/chat"
	"github.com/aura-webinar/livestream/internal/ingest"
	"github.com/aura-webinar/livestream/internal/metrics"
	"github.com/aura-webinar/livestream/internal/models"
	"github.com/aura-webinar/livestream/internal/notifications"
	"github.com/aura-webinar/livestream/internal/realtime"
	"github.com/aura-webinar/livestream/internal/streams"
	"github.com/aura-webinar/livestream/internal/viewers"
	"github.com/aura-webinar/livestream/pkg/database"
	"github.com/aura-webinar/livestream/pkg/queue"
	"github.com/aura-webinar/livestream/pkg/redis"
	"github.com/aura-webinar/livestream/pkg/storage"
)

// stores bundles one backend's implementation of every domain store.
type stores struct {
	streams       streams.Store
	viewers       viewers.Store
	chat          chat.Store
	analytics     analytics.Store
	notifications notifications.Store
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		streams:       streams.NewPostgresStore(pool),
		viewers:       viewers.NewPostgresStore(pool),
		chat:          chat.NewPostgresStore(pool),
		analytics:     analytics.NewPostgresStore(pool),
		notifications: notifications.NewPostgresStore(pool),
	}
}

func memoryStores() stores {
	streamStore := streams.NewMemoryStore()
	return stores{
		streams:       streamStore,
		viewers:       viewers.NewMemoryStore(),
		chat:          chat.NewMemoryStore(streamStore),
		analytics:     analytics.NewMemoryStore(),
		notifications: notifications.NewMemoryStore(),
	}
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st stores
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory stores; state is lost on restart")
		st = memoryStores()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		st = postgresStores(pool)
	}

	// Redis carries the cross-instance relay and the job queues. Without it
	// the server still runs single-instance with log delivery.
	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	switch {
	case err == nil:
		defer rdb.Close()
	case cfg.Notification.Delivery == config.DeliveryQueue:
		logger.Fatal("redis", zap.Error(err))
	default:
		logger.Warn("redis unavailable; fan-out is local to this instance", zap.Error(err))
	}

	var s3Client *storage.S3
	if cfg.AWS.RecordingsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewMetrics()
	if err := m.Register(promRegistry); err != nil {
		logger.Fatal("register metrics", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Fan-out
	var relay realtime.Relay
	var jobQueue *queue.Queue
	if rdb != nil {
		relay = realtime.NewRedisRelay(rdb, logger)
		jobQueue = queue.NewQueue(rdb, logger)
	}
	hub := realtime.NewHub(relay, m, logger)

	// Registry, viewers and analytics
	registry := streams.NewRegistry(st.streams, m, logger)
	aggregator := analytics.NewAggregator(st.analytics, m, logger)
	tracker := viewers.NewTracker(st.viewers, registry, hub, aggregator, m, logger)
	registry.SetViewerCounter(tracker)
	reaper := viewers.NewReaper(tracker, cfg.Broadcast.IdleTimeout, cfg.Broadcast.ReapInterval, logger)
	sampler := analytics.NewSampler(aggregator, registry, tracker, cfg.Broadcast.SampleInterval, logger)

	// Chat
	chatService := chat.NewService(st.chat, registry, hub, aggregator, tracker, logger)

	// Notifications
	var deliverer notifications.Deliverer = notifications.NewLogDeliverer(logger)
	if cfg.Notification.Delivery == config.DeliveryQueue && jobQueue != nil {
		deliverer = notifications.NewQueueDeliverer(jobQueue)
	}
	scheduler := notifications.NewScheduler(st.notifications, deliverer, registry,
		cfg.Broadcast.ReminderLead, cfg.Notification.MaxAttempts, m, logger)
	sweeper := notifications.NewSweeper(scheduler, cfg.Broadcast.SweepInterval, logger)

	// Ingest
	var recordingQueue ingest.RecordingQueue
	if jobQueue != nil && s3Client != nil {
		recordingQueue = jobQueue
	}
	pipeline := ingest.NewFFmpegPipeline(cfg.Ingest.FFmpegPath, cfg.Ingest.OutputDir, logger)
	gate := ingest.NewGatekeeper(registry, pipeline, recordingQueue, cfg.Ingest.RTMPBaseURL, m, logger)
	pipeline.OnExit(gate.PipelineExited)

	// Lifecycle hooks run in this order on every transition. Sessions are
	// closed before the closing analytics sample is taken.
	registry.OnChange("viewers", tracker.HandleStreamChange)
	registry.OnChange("analytics", func(ctx context.Context, ch streams.Change) error {
		if ch.Stream.Status != models.StreamStatusEnded {
			return nil
		}
		return sampler.Flush(ctx, ch.Stream)
	})
	registry.OnChange("realtime", hub.HandleStreamChange)
	registry.OnChange("notifications", scheduler.HandleStreamChange)

	var presigner streams.RecordingPresigner
	if s3Client != nil {
		presigner = s3Client
	}
	validate := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := newRouter(cfg, logger, jwtService, promRegistry, handlers{
		streams:       streams.NewHandler(registry, presigner, cfg.Ingest.RTMPBaseURL, logger),
		ingest:        ingest.NewHandler(gate, cfg.Ingest.WebhookSecret, logger),
		viewers:       viewers.NewHandler(tracker, registry, logger),
		chat:          chat.NewHandler(chatService, logger),
		analytics:     analytics.NewHandler(aggregator, registry, tracker, logger),
		notifications: notifications.NewHandler(scheduler, registry, logger),
		ws:            realtime.ServeWs(hub, tracker.Presence(), validate, logger),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return sampler.Run(gctx) })
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
