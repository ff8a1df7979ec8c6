package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamframe/streamframe/internal/store"
	"github.com/streamframe/streamframe/internal/throttle"
	"github.com/streamframe/streamframe/internal/ws"
)

var startTime = time.Now()

type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// RouterConfig carries the dependencies the HTTP surface needs.
type RouterConfig struct {
	Scheduler  *throttle.Scheduler
	Hub        *ws.Hub
	Deliveries *store.DeliveryLogStore
	StreamOpts []StreamOption
}

// NewRouter wires the API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth)
	r.Get("/", handleRoot)
	r.Handle("/metrics", promhttp.Handler())

	streams := NewStreamHandler(cfg.Scheduler, cfg.StreamOpts...)
	r.Post("/api/streams", streams.Create)
	r.Post("/api/streams/{id}/blocks", streams.PushBlocks)
	r.Post("/api/streams/{id}/finish", streams.Finish)
	r.Delete("/api/streams/{id}", streams.Abandon)
	r.Get("/api/streams/{id}/ws", streams.ServeProducer)

	if cfg.Hub != nil {
		events := ws.NewHandler(cfg.Hub)
		r.Get("/api/events/ws", events.ServeEvents)
	}

	if cfg.Deliveries != nil {
		deliveries := &DeliveryHandler{Store: cfg.Deliveries}
		r.Get("/api/deliveries", deliveries.List)
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   getVersion(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	sendJSON(w, http.StatusOK, map[string]string{
		"name":   "StreamFrame",
		"health": "/health",
	})
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
