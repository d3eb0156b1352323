package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-async-orders.git/internal/config"
	kafkax "github.com/ariefcatur/go-async-orders.git/internal/kafka"
	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/postgres"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
	"github.com/ariefcatur/go-async-orders.git/internal/stock"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	streams := &redisx.Streams{RDB: rdb}

	// Kafka lifecycle producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024)
	prod.Start(ctx)

	stockRepo := &orders.StockRepo{DB: db}

	// Rekonsiliasi stok dari payment_confirmed
	w := &stock.Worker{
		Stream:      streams,
		Orders:      &orders.Repo{DB: db},
		Stock:       stockRepo,
		Cache:       rdb,
		Lifecycle:   prod,
		ServiceName: cfg.ServiceName + "-stock",
		Consumer:    cfg.ConsumerName,
		Batch:       cfg.StreamBatch,
		Block:       cfg.StreamBlock,
		PendingIdle: cfg.PendingIdle,
	}

	// Pembatalan dari payment_failed
	cw := &stock.CancelWorker{
		Stream:      streams,
		Stock:       stockRepo,
		Cache:       rdb,
		Lifecycle:   prod,
		ServiceName: cfg.ServiceName + "-stock",
		Consumer:    cfg.ConsumerName,
		Batch:       cfg.StreamBatch,
		Block:       cfg.StreamBlock,
		PendingIdle: cfg.PendingIdle,
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Printf("stock worker exit: %v", err)
			cancel()
		}
	}()
	go func() {
		if err := cw.Run(ctx); err != nil {
			log.Printf("cancel worker exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down stock workers...")
	case <-ctx.Done():
	}
	prod.Close() // tutup inbox -> flush & close writer
	cancel()
	prod.WaitClosed()
}
