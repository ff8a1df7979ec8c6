package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamframe/streamframe/internal/api"
	"github.com/streamframe/streamframe/internal/automigrate"
	"github.com/streamframe/streamframe/internal/config"
	"github.com/streamframe/streamframe/internal/slack"
	"github.com/streamframe/streamframe/internal/store"
	"github.com/streamframe/streamframe/internal/stream"
	"github.com/streamframe/streamframe/internal/throttle"
	"github.com/streamframe/streamframe/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	client, err := slack.NewClient(cfg.Slack.BaseURL, cfg.Slack.Token)
	if err != nil {
		log.Fatalf("slack client: %v", err)
	}

	hub := ws.NewHub()
	go hub.Run()

	recorders := throttle.MultiRecorder{ws.NewEventRecorder(hub)}

	var deliveries *store.DeliveryLogStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("database ping: %v", err)
		}
		if err := automigrate.Run(db, "migrations"); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		deliveries = store.NewDeliveryLogStore(db)
		recorders = append(recorders, store.NewDeliveryRecorder(deliveries))
		log.Printf("delivery log enabled")
	} else {
		log.Printf("DATABASE_URL not set, delivery log disabled")
	}

	sched := throttle.New(client, throttle.Config{
		MinDelay:     cfg.Engine.MinDelay,
		MinBackoff:   cfg.Engine.MinBackoff,
		MaxBackoff:   cfg.Engine.MaxBackoff,
		BackoffReset: cfg.Engine.BackoffReset,
		CallTimeout:  cfg.Engine.APITimeout,
		MaxAttempts:  cfg.Engine.MaxAttempts,
	},
		throttle.WithLogf(log.Printf),
		throttle.WithRecorder(recorders),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sched.Run(ctx)

	router := api.NewRouter(api.RouterConfig{
		Scheduler:  sched,
		Hub:        hub,
		Deliveries: deliveries,
		StreamOpts: []api.StreamOption{
			stream.WithThrottleTime(cfg.Engine.ThrottleTime),
			stream.WithMaxMessageLength(cfg.Engine.MaxMessageLength),
			stream.WithMaxBlocksPerMessage(cfg.Engine.MaxBlocksPerMessage),
		},
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("StreamFrame starting on port %s (%s)", cfg.Port, cfg.Environment)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("StreamFrame stopped")
}
