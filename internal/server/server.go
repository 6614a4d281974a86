// Package server provides the HTTP API of the responder: rule administration,
// alert intake, workload label management and the live event streams.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/config"
	"github.com/invisible-tech/ips-responder/internal/dispatcher"
	"github.com/invisible-tech/ips-responder/internal/eventbus"
	"github.com/invisible-tech/ips-responder/internal/inventory"
	"github.com/invisible-tech/ips-responder/internal/rules"
	"github.com/invisible-tech/ips-responder/internal/version"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP server for the responder API.
type Server struct {
	cfg        config.ResponderConfig
	rules      *rules.Store
	dispatcher *dispatcher.Dispatcher
	inventory  inventory.ClusterInventory
	bus        *eventbus.Bus
	log        *logrus.Logger
	httpServer *http.Server

	keepAlive time.Duration
}

// New creates the HTTP server. The dispatcher's label key is the one managed
// by the label routes.
func New(cfg config.ResponderConfig, store *rules.Store, d *dispatcher.Dispatcher, inv inventory.ClusterInventory, bus *eventbus.Bus, log *logrus.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		rules:      store,
		dispatcher: d,
		inventory:  inv,
		bus:        bus,
		log:        log,
		keepAlive:  15 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /rules", s.handleListRules)
	mux.HandleFunc("POST /rules", s.handleUpsertRule)
	mux.HandleFunc("PUT /rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("POST /alert", s.handleAlert)

	mux.HandleFunc("GET /namespaces", s.handleNamespaces)
	mux.HandleFunc("GET /pods/{namespace}", s.handlePods)
	mux.HandleFunc("GET /pod-details", s.handlePodDetails)
	mux.HandleFunc("GET /labeled-pods", s.handleLabeledPods)
	mux.HandleFunc("POST /unlabel/{namespace}/{pod}", s.handleUnlabel)
	mux.HandleFunc("POST /modify-label/{namespace}/{pod}", s.handleModifyLabel)
	mux.HandleFunc("GET /policies", s.handlePolicies)

	mux.HandleFunc("GET /log-stream", s.handleLogStream)
	mux.HandleFunc("GET /ws/events", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.cfg.HTTPAddr).Info("Responder listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     version.Version,
		"rules":       s.rules.Len(),
		"subscribers": s.bus.Subscribers(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeClusterError maps inventory failures: a missing workload is 404, any
// control plane failure is 502.
func writeClusterError(w http.ResponseWriter, err error) {
	if errors.Is(err, inventory.ErrWorkloadNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}
