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
	"github.com/ariefcatur/go-async-orders.git/internal/payment"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis streams
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka lifecycle producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024)
	prod.Start(ctx)

	w := &payment.Worker{
		Stream:      &redisx.Streams{RDB: rdb},
		Lifecycle:   prod,
		ServiceName: cfg.ServiceName + "-payment",
		Consumer:    cfg.ConsumerName,
		Batch:       cfg.StreamBatch,
		Block:       cfg.StreamBlock,
		PendingIdle: cfg.PendingIdle,
		SuccessRate: cfg.PaymentSuccessRate,
		Delay:       cfg.PaymentDelay,
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Printf("payment worker exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down payment worker...")
	case <-ctx.Done():
	}
	prod.Close() // tutup inbox -> flush & close writer
	cancel()
	prod.WaitClosed()
}
