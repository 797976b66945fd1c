package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/cart"
	"github.com/ariefcatur/go-boutique-orders/internal/config"
	"github.com/ariefcatur/go-boutique-orders/internal/httpx"
	"github.com/ariefcatur/go-boutique-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-boutique-orders/internal/kafka"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"github.com/ariefcatur/go-boutique-orders/internal/memstore"
	"github.com/ariefcatur/go-boutique-orders/internal/metrics"
	"github.com/ariefcatur/go-boutique-orders/internal/notify"
	"github.com/ariefcatur/go-boutique-orders/internal/orders"
	"github.com/ariefcatur/go-boutique-orders/internal/payment"
	"github.com/ariefcatur/go-boutique-orders/internal/postgres"
	"github.com/ariefcatur/go-boutique-orders/internal/redisx"
	"github.com/ariefcatur/go-boutique-orders/internal/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Store
	var st store.Store
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on exit")
		st = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		st = postgres.New(db)
	}

	// Kafka producer for notification events
	var dispatcher notify.Dispatcher = notify.LogDispatcher{Log: log}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotificationLifecycle, 1024, log)
		prod.Start(ctx)
		dispatcher = &notify.KafkaDispatcher{Producer: prod, Service: cfg.ServiceName}
	}

	// Core
	rec := notify.NewRecorder(dispatcher, log, m)
	pool := inventory.NewPool(st, rec, log, m)
	machine := orders.NewStatusMachine(st, pool, rec, cfg.StatusRetries, log, m)

	var provider payment.Provider
	switch cfg.PaymentProvider {
	case config.ProviderStripe:
		provider = payment.NewStripeProvider(cfg.StripeSecretKey, nil)
	default:
		provider = payment.NewSimulator(cfg.PaymentRedirectBase)
	}
	payments := payment.NewAdapter(st, provider, machine, rec, cfg.PaymentCurrency, log, m)

	h := &httpx.Handler{
		Store:               st,
		Cart:                cart.NewManager(st, pool, log, m),
		Orders:              orders.NewAssembler(st, pool, rec, log, m),
		Machine:             machine,
		Pool:                pool,
		Payments:            payments,
		Notifications:       notify.NewService(st, log, m),
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		Log:                 log,
	}

	// Redis
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache := redisx.NewOrderCache(rdb)
		machine.UseCache(cache)
		payments.UseDedup(redisx.NewWebhookDedup(rdb))
		h.Cache = cache
	}

	router := httpx.NewRouter(log)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.Store), zap.String("payment_provider", provider.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()      // stop accepting, flush inbox
		cancel()          // stop producer loop
		prod.WaitClosed() // drain
	}
}
