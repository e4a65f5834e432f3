package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reviewhub.org/internal/auth"
	"reviewhub.org/internal/httpapi"
	"reviewhub.org/internal/index"
	"reviewhub.org/internal/obs"
	"reviewhub.org/internal/query"
	"reviewhub.org/internal/review"
	"reviewhub.org/internal/store/pg"
	"reviewhub.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("REVIEWHUB_PG_DSN")
	if dsn == "" {
		log.Fatal("REVIEWHUB_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	oracle, err := auth.NewOracle(store)
	if err != nil {
		log.Fatalf("oracle: %v", err)
	}

	refreshRate := envFloat("REVIEWHUB_INDEX_REFRESH_PER_SECOND", 0)
	idx, err := index.New(oracle, refreshRate)
	if err != nil {
		log.Fatalf("index: %v", err)
	}

	hub := stream.NewHub()

	service, err := review.NewService(store, oracle, store, idx, hub, review.SystemClock{})
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	facade, err := query.NewFacade(store, idx, oracle, pg.NewPeriods(store.DB()), review.SystemClock{})
	if err != nil {
		log.Fatalf("facade: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go idx.Run(ctx)

	api := httpapi.New(httpapi.Config{
		ReadyProbe:    httpapi.ReadyProbe{DB: store.DB()},
		Version:       version,
		Service:       service,
		Facade:        facade,
		Hub:           hub,
		Credentials:   store,
		RateBurst:     envInt("REVIEWHUB_RATE_BURST", 0),
		RatePerSecond: envInt("REVIEWHUB_RATE_PER_SECOND", 0),
	})

	addr := os.Getenv("REVIEWHUB_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/stream responses are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting reviewhub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	cancel()
	log.Println("Stopped")
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s must be an integer: %v", name, err)
	}
	return v
}

func envFloat(name string, def float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Fatalf("%s must be a number: %v", name, err)
	}
	return v
}
