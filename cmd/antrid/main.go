package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"antrid/internal/config"
	"antrid/internal/httpapi"
	"antrid/internal/hub"
	"antrid/internal/pubsub"
	"antrid/internal/queue"
	"antrid/internal/store/postgres"
	"antrid/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DB_DSN is required")
	}

	ctx := context.Background()

	shutdownTracing := telemetry.Setup("antrid", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	broker, err := pubsub.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QueueChannel)
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	defer broker.Close()

	st := postgres.NewStore(pool)
	svc := queue.NewService(st, broker, cfg.ServiceTime)

	eventHub := hub.New()

	events, closeSub, err := broker.Subscribe(ctx)
	if err != nil {
		log.Fatalf("redis subscribe: %v", err)
	}
	defer closeSub()
	go func() {
		for payload := range events {
			eventHub.Broadcast(payload)
		}
	}()

	handler := httpapi.NewHandler(svc, st, eventHub, cfg.SessionTTL)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	go limiter.Sweep(10 * time.Minute)

	var root http.Handler = handler.Routes()
	root = limiter.Middleware(root)
	root = httpapi.LogRequests(root)
	root = otelhttp.NewHandler(root, "antrid")

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     root,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("antrid listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
