package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/chatnationwork/broadcast-backend/internal/config"
	"github.com/chatnationwork/broadcast-backend/internal/db"
	"github.com/chatnationwork/broadcast-backend/internal/handler"
	"github.com/chatnationwork/broadcast-backend/internal/logging"
	"github.com/chatnationwork/broadcast-backend/internal/planner"
	"github.com/chatnationwork/broadcast-backend/internal/queue"
	"github.com/chatnationwork/broadcast-backend/internal/quota"
	"github.com/chatnationwork/broadcast-backend/internal/repository"
	"github.com/chatnationwork/broadcast-backend/internal/scheduler"
	"github.com/chatnationwork/broadcast-backend/internal/send"
	"github.com/chatnationwork/broadcast-backend/internal/trigger"
	"github.com/chatnationwork/broadcast-backend/internal/worker"
)

func main() {
	logger := logging.FromEnv()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on OS environment variables")
	}
	cfg := config.Load()

	conn, err := db.Connect(cfg.DatabaseURL())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	deliveryRepo := &repository.DeliveryRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}

	tracker := quota.NewTracker(rdb, nil, cfg.DefaultTierLimit, cfg.OverageFraction)

	// In amqp mode the server only produces; cmd/worker drains the queue.
	// In memory mode (single-process dev) it does both.
	var jobQueue queue.Queue
	var consumer queue.Consumer
	switch cfg.QueueDriver {
	case "memory":
		mq := queue.NewMemoryQueue(queue.MemoryConfig{
			Concurrency: cfg.WorkerConcurrency,
			RatePerSec:  cfg.ThroughputPerSec,
		}, logger)
		jobQueue, consumer = mq, mq
	default:
		amqpConn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to AMQP")
		}
		defer amqpConn.Close()
		aq, err := queue.NewAMQPQueue(amqpConn, cfg.QueueName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up AMQP queue")
		}
		jobQueue = aq
	}

	plan := planner.New(campaignRepo, deliveryRepo, contactRepo, tracker, jobQueue, planner.Config{
		ThroughputPerSec: cfg.ThroughputPerSec,
		WindowDuration:   cfg.WindowDuration,
		InsertBatchSize:  cfg.InsertBatchSize,
		Stagger: planner.StaggerConfig{
			ImmediateThreshold: cfg.ImmediateThreshold,
			ChunkedThreshold:   cfg.ChunkedThreshold,
			ChunkedSize:        cfg.ChunkedSize,
			LargeSize:          cfg.LargeSize,
		},
	}, logger)

	triggers := trigger.New(campaignRepo, contactRepo, plan, logger)
	sched := scheduler.New(campaignRepo, plan, cfg.SchedulerInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	if consumer != nil {
		sender := worker.NewSender(
			campaignRepo, deliveryRepo, contactRepo, tracker,
			send.NewSandboxClient(), // real provider client plugs in here
			consumer,
			worker.Config{MaxAttempts: cfg.MaxAttempts, RateLimitCooldown: cfg.RateLimitCooldown},
			logger,
		)
		if err := consumer.Start(ctx, sender.Handle); err != nil {
			logger.Fatal().Err(err).Msg("failed to start worker pool")
		}
	}

	h := &handler.CampaignHandler{
		Campaigns:  campaignRepo,
		Deliveries: deliveryRepo,
		Planner:    plan,
		Triggers:   triggers,
		Quota:      tracker,
		Logger:     logger,
	}

	r := chi.NewRouter()
	h.Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	sched.Stop()
	if consumer != nil {
		consumer.Stop()
	}
}
