package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PartnerGate/config"
	partnerapi "github.com/BearBump/PartnerGate/internal/api/partner_api"
	"github.com/BearBump/PartnerGate/internal/auth"
	"github.com/BearBump/PartnerGate/internal/broker/kafka"
	"github.com/BearBump/PartnerGate/internal/cache/rediscache"
	"github.com/BearBump/PartnerGate/internal/ratelimit"
	"github.com/BearBump/PartnerGate/internal/services/reconcile"
	"github.com/BearBump/PartnerGate/internal/storage/pgpackages"
)

type partnerAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     partnerAPIOpts
	api      *partnerapi.PartnerAPI
	svc      *reconcile.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapPartnerAPI() *partnerAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.PartnerGate.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PartnerGate.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "partner-api"
	}
	topic := cfg.Kafka.ManifestIngestTopicName
	if topic == "" {
		topic = "manifest.ingest"
	}
	updatedTopic := cfg.Kafka.PackageUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "package.updated"
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
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	svc := reconcile.New(st, rc, cacheTTL, producer, updatedTopic, cfg.PartnerGate.CodePrefix)

	allowList := make(map[string]string, len(cfg.PartnerGate.PartnerKeys))
	for _, k := range cfg.PartnerGate.PartnerKeys {
		allowList[k.Key] = k.Name
	}
	authn := auth.New(allowList, st, auth.NewRedisSessionStore(rc))

	var limiter ratelimit.Limiter
	switch cfg.PartnerGate.RateLimitBackend {
	case "redis":
		limiter = ratelimit.NewRedis(redisAddr)
	default:
		limiter = ratelimit.NewMemory()
	}
	rlCfg := ratelimit.Config{
		Window:      time.Duration(cfg.PartnerGate.RateLimitWindowSeconds) * time.Second,
		MaxRequests: cfg.PartnerGate.RateLimitMaxRequests,
	}
	if rlCfg.Window <= 0 {
		rlCfg.Window = time.Minute
	}
	if rlCfg.MaxRequests <= 0 {
		rlCfg.MaxRequests = 120
	}

	api := partnerapi.New(svc, authn, limiter, rlCfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &partnerAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: partnerAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpackages.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpackages.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *partnerAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *partnerAPIApp) Run() error {
	return runPartnerAPI(a.ctx, a.opts, a.api, a.svc, a.consumer)
}
