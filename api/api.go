// Package api exposes the read-only collaborator surface: health, metrics
// and a JSON stats snapshot. It carries no write routes; ingestion and
// scanning are driven by the engine packages, not over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tripwire/match"
	"tripwire/stats"
	"tripwire/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// API serves the HTTP surface.
type API struct {
	store    *storage.Store
	engine   *match.Engine
	registry *stats.Registry
	logger   *zap.SugaredLogger
	server   *http.Server
}

// New creates the API server bound to addr.
func New(addr string, store *storage.Store, engine *match.Engine, registry *stats.Registry, logger *zap.SugaredLogger) *API {
	a := &API{
		store:    store,
		engine:   engine,
		registry: registry,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.health).Methods("GET")
	router.HandleFunc("/api/stats", a.getStats).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	a.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return a
}

// Start serves until Shutdown. Blocks; run in a goroutine.
func (a *API) Start() error {
	a.logger.Infof("API server listening on %s", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "cache": err.Error(),
		})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"store":    a.store.Stats(),
		"engine":   a.engine.Stats(),
		"counters": a.registry.Snapshot(),
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Errorf("Failed to encode response: %v", err)
	}
}
