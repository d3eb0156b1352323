package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-async-orders.git/internal/config"
	"github.com/ariefcatur/go-async-orders.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-async-orders.git/internal/kafka"
	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/postgres"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
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
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis: stream pipeline + status cache
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	streams := &redisx.Streams{RDB: rdb}

	// Kafka lifecycle producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024)
	prod.Start(ctx)

	// Repo & handler
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Store:     &orders.Repo{DB: db},
		Streams:   streams,
		Lifecycle: prod,
		Redis:     rdb,
		Service:   cfg.ServiceName,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
