package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PartnerGate/config"
	"github.com/BearBump/PartnerGate/internal/broker/kafka"
	"github.com/BearBump/PartnerGate/internal/cache/rediscache"
	"github.com/BearBump/PartnerGate/internal/services/reconcile"
	"github.com/BearBump/PartnerGate/internal/storage/pgpackages"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	topic := cfg.Kafka.ManifestIngestTopicName
	if topic == "" {
		topic = "manifest.ingest"
	}
	updatedTopic := cfg.Kafka.PackageUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "package.updated"
	}
	consumerGroup := cfg.PartnerGate.WorkerKafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "manifest-worker"
	}
	httpAddr := cfg.PartnerGate.WorkerHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}
	cacheTTL := time.Duration(cfg.PartnerGate.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st, err := pgpackages.New(connString)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	svc := reconcile.New(st, rc, cacheTTL, producer, updatedTopic, cfg.PartnerGate.CodePrefix)
	w := newManifestWorker(svc, consumer, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    httpAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			worker:      w,
			cfg:         cfg,
		})
	}()

	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	case err := <-workerErr:
		if err != nil && err != context.Canceled {
			panic(err)
		}
	}
}
