package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/config"
	kafkax "github.com/ariefcatur/go-boutique-orders/internal/kafka"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := logx.New(cfg.LogLevel, cfg.LogFormat, service, cfg.Env)
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	if cfg.NotifyWorkers < 1 {
		log.Fatal("NOTIFY_WORKERS must be positive", zap.Int("workers", cfg.NotifyWorkers))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis dedup is optional; without it the sink may see redelivered events.
	var dedup notify.Deduper
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		dedup = redisx.NewEventDedup(rdb, service)
	}

	relay := notify.NewRelay(dedup, notify.LogSink{Log: log}, log)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifyGroup, notify.TopicNotificationLifecycle, cfg.NotifyWorkers, log)

	go func() {
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifyGroup),
			zap.String("topic", notify.TopicNotificationLifecycle),
			zap.Int("workers", cfg.NotifyWorkers))
		if err := cons.Start(ctx, relay.Handle); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
