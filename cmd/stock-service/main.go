package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/broker"
	"github.com/shopngo/fulfillment/internal/config"
	"github.com/shopngo/fulfillment/internal/httpx"
	"github.com/shopngo/fulfillment/internal/logger"
	"github.com/shopngo/fulfillment/internal/messaging"
	"github.com/shopngo/fulfillment/internal/stock"
)

func main() {
	cfgPath := flag.String("config", "configs/stock-service.yaml", "config file path")
	flag.Parse()

	// 1. load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&stock.InventoryItem{}, &stock.StockReservation{},
		&messaging.OutboxRecord{}, &messaging.InboxRecord{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis for the admission guardrail
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		// Reachability at boot is advisory only; the guardrail degrades per
		// its fail-open/fail-closed policy at request time.
		log.Warnw("redis ping failed at startup", "addr", cfg.Redis.Addr, "err", err)
	}

	// 5. broker & outbox dispatcher
	pub := broker.NewPublisher(cfg.Kafka.Brokers)
	defer pub.Close()
	dispatcher := messaging.NewDispatcher(stock.ServiceName, gdb, pub, messaging.DispatcherOptions{
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMs) * time.Millisecond,
		BatchSize:    cfg.Outbox.BatchSize,
	}, log)

	// 6. service wiring
	inbox := messaging.NewInbox(gdb, log)
	guardrail := stock.NewGuardrail(rdb, cfg.Guardrail, log)
	selector := stock.NewModeSelector(gdb, cfg.Concurrency)
	store := stock.NewReservationStore(gdb, log)
	svc := stock.NewService(gdb, guardrail, selector, store, log)

	orderCreatedSub := broker.NewSubscriber(stock.ServiceName, cfg.Kafka.Brokers,
		stock.NewOrderCreatedConsumer(inbox, svc, log), pub, broker.SubscriberOptions{
			Concurrency:  cfg.Consumer.Concurrency,
			MaxRetries:   cfg.Consumer.MaxRetries,
			RetryBackoff: cfg.Consumer.RetryBackoff(),
		}, log)

	router := httpx.NewRouter(cfg, log)
	stock.RegisterHandlers(router, svc)

	// 7. run everything until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return orderCreatedSub.Run(ctx) })
	g.Go(func() error {
		log.Infof("stock-service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("stock-service exited: %v", err)
	}
	log.Info("stock-service stopped")
}
