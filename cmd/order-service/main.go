package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shopngo/fulfillment/internal/broker"
	"github.com/shopngo/fulfillment/internal/config"
	"github.com/shopngo/fulfillment/internal/httpx"
	"github.com/shopngo/fulfillment/internal/logger"
	"github.com/shopngo/fulfillment/internal/messaging"
	"github.com/shopngo/fulfillment/internal/order"
)

func main() {
	cfgPath := flag.String("config", "configs/order-service.yaml", "config file path")
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
		&order.Order{}, &order.Item{},
		&messaging.OutboxRecord{}, &messaging.InboxRecord{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. broker & outbox dispatcher
	pub := broker.NewPublisher(cfg.Kafka.Brokers)
	defer pub.Close()
	dispatcher := messaging.NewDispatcher(order.ServiceName, gdb, pub, messaging.DispatcherOptions{
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMs) * time.Millisecond,
		BatchSize:    cfg.Outbox.BatchSize,
	}, log)

	// 5. service, consumers, router
	inbox := messaging.NewInbox(gdb, log)
	svc := order.NewService(gdb, log)
	subOpts := broker.SubscriberOptions{
		Concurrency:  cfg.Consumer.Concurrency,
		MaxRetries:   cfg.Consumer.MaxRetries,
		RetryBackoff: cfg.Consumer.RetryBackoff(),
	}
	reservedSub := broker.NewSubscriber(order.ServiceName, cfg.Kafka.Brokers,
		order.NewStockReservedConsumer(inbox, svc, log), pub, subOpts, log)
	rejectedSub := broker.NewSubscriber(order.ServiceName, cfg.Kafka.Brokers,
		order.NewStockRejectedConsumer(inbox, svc, log), pub, subOpts, log)

	router := httpx.NewRouter(cfg, log)
	order.RegisterHandlers(router, svc)

	// 6. run everything until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return reservedSub.Run(ctx) })
	g.Go(func() error { return rejectedSub.Run(ctx) })
	g.Go(func() error {
		log.Infof("order-service listening on %s", srv.Addr)
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
		log.Fatalf("order-service exited: %v", err)
	}
	log.Info("order-service stopped")
}
