// Package ops exposes the operational HTTP surface: liveness and per-chain
// ingestion status.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/ingest"
	"github.com/force23airr/stableguard/pkg/utils"
)

// Server serves the ops endpoints.
type Server struct {
	logger *zap.Logger
	health *ingest.HealthTracker
	srv    *http.Server
}

func NewServer(logger *zap.Logger, health *ingest.HealthTracker) *Server {
	s := &Server{
		logger: logger.Named("ops"),
		health: health,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/{chain_id}", s.handleChainStatus).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         utils.Env("OPS_ADDR", ":8090"),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info("Ops server listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.health.Snapshot())
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(mux.Vars(r)["chain_id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}
	for _, ch := range s.health.Snapshot() {
		if ch.ChainID == chainID {
			s.writeJSON(w, ch)
			return
		}
	}
	http.Error(w, "unknown chain", http.StatusNotFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Status encode failed", zap.Error(err))
	}
}
