package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/inventory-saga/internal/ledger"
	"github.com/sakashimaa/inventory-saga/internal/outbox"
	"github.com/sakashimaa/inventory-saga/internal/repository"
	"github.com/sakashimaa/inventory-saga/internal/saga"
	inventoryKafka "github.com/sakashimaa/inventory-saga/internal/transport/kafka"
	"github.com/sakashimaa/inventory-saga/pkg/config"
	"github.com/sakashimaa/inventory-saga/pkg/db"
	pkgKafka "github.com/sakashimaa/inventory-saga/pkg/kafka"
	"github.com/sakashimaa/inventory-saga/pkg/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	tp, err := utils.InitTracer(ctx, "inventory-saga")
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Error creating new postgres DB: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: cfg.Log.Level,
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("inventory saga service started!")

	stockRepository := repository.NewStockRepository(pool, logger)
	reservationRepository := repository.NewReservationRepository(pool, logger)
	inboxRepository := repository.NewInboxRepository(pool, logger)
	outboxRepository := outbox.NewOutboxRepository(pool, logger)

	stockLedger := ledger.NewCachedLedger(
		ledger.NewLedger(stockRepository, logger, cfg.Ledger.MaxCASRetries),
		rdb,
		cfg.Redis.SnapshotTTL,
		logger,
	)

	notifier := outbox.NewPublisher(outboxRepository, cfg.Kafka.PublishTopic)
	engine := saga.NewEngine(stockLedger, reservationRepository, notifier, logger)
	consumer := inventoryKafka.NewConsumer(engine, inboxRepository, logger)

	kafkaProducer, err := pkgKafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	outboxProcessor := outbox.NewProcessor(pool, outboxRepository, kafkaProducer, logger)
	go outboxProcessor.Start(ctx)

	consumerGroup := pkgKafka.NewConsumerGroup(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.ConsumeTopics,
		consumer.Handle,
		logger,
	)
	consumerGroup.Run(ctx)

	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := kafkaProducer.Close(); err != nil {
		log.Printf("Error closing kafka producer: %v", err)
	} else {
		log.Println("Closed kafka producer successfully")
	}

	if err := rdb.Close(); err != nil {
		log.Printf("Error closing redis client: %v", err)
	}

	pool.Close()
	log.Println("Closed db pool successfully")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping telemetry: %v\n", err)
	} else {
		log.Println("Telemetry closed correctly")
	}
}
