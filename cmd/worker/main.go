package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/chatnationwork/broadcast-backend/internal/config"
	"github.com/chatnationwork/broadcast-backend/internal/db"
	"github.com/chatnationwork/broadcast-backend/internal/logging"
	"github.com/chatnationwork/broadcast-backend/internal/queue"
	"github.com/chatnationwork/broadcast-backend/internal/quota"
	"github.com/chatnationwork/broadcast-backend/internal/repository"
	"github.com/chatnationwork/broadcast-backend/internal/send"
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

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to AMQP")
	}
	defer amqpConn.Close()

	jobQueue, err := queue.NewAMQPQueue(amqpConn, cfg.QueueName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up AMQP queue")
	}

	consumer := queue.NewAMQPConsumer(jobQueue, queue.AMQPConsumerConfig{
		Concurrency: cfg.WorkerConcurrency,
		RatePerSec:  cfg.ThroughputPerSec,
	}, logger)

	campaignRepo := &repository.CampaignRepository{DB: conn}
	deliveryRepo := &repository.DeliveryRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	tracker := quota.NewTracker(rdb, nil, cfg.DefaultTierLimit, cfg.OverageFraction)

	sender := worker.NewSender(
		campaignRepo, deliveryRepo, contactRepo, tracker,
		send.NewSandboxClient(), // real provider client plugs in here
		consumer,
		worker.Config{MaxAttempts: cfg.MaxAttempts, RateLimitCooldown: cfg.RateLimitCooldown},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx, sender.Handle); err != nil {
		logger.Fatal().Err(err).Msg("failed to start worker pool")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).
		Int("rate_per_sec", cfg.ThroughputPerSec).
		Msg("worker running, waiting for jobs")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	consumer.Stop()
}
