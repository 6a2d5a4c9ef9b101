// Package http exposes the geocoding API plus health, readiness, and
// metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/address-geocoding/internal/domain"
	"github.com/couchcryptid/address-geocoding/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBatchSize caps one batch request. Larger jobs belong on the Kafka
// stream or the geobatch CLI.
const maxBatchSize = 1000

// GeocodeService is the resolver surface the API serves.
type GeocodeService interface {
	Resolve(ctx context.Context, req domain.AddressRequest) (domain.GeocodeResult, error)
	ResolveBatch(ctx context.Context, reqs []domain.AddressRequest, opts pipeline.BatchOptions) []pipeline.Slot
	Providers() []pipeline.ProviderStatus
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes the geocoding HTTP API.
type Server struct {
	httpServer *http.Server
	service    GeocodeService
	batchOpts  pipeline.BatchOptions
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the geocoding routes plus /healthz,
// /readyz, and /metrics.
func NewServer(addr string, service GeocodeService, ready ReadinessChecker, batchOpts pipeline.BatchOptions, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		service:   service,
		batchOpts: batchOpts,
		logger:    logger,
	}

	mux.HandleFunc("POST /v1/geocode", s.handleGeocode)
	mux.HandleFunc("POST /v1/geocode/batch", s.handleGeocodeBatch)
	mux.HandleFunc("GET /v1/providers", s.handleProviders)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	var req domain.AddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.service.Resolve(r.Context(), req)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Addresses []domain.AddressRequest `json:"addresses"`
}

type batchSlot struct {
	Index   int                   `json:"index"`
	Request domain.AddressRequest `json:"request"`
	Result  *domain.GeocodeResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchSlot `json:"results"`
}

func (s *Server) handleGeocodeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, "addresses must not be empty")
		return
	}
	if len(req.Addresses) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many addresses in one batch")
		return
	}

	slots := s.service.ResolveBatch(r.Context(), req.Addresses, s.batchOpts)

	resp := batchResponse{Results: make([]batchSlot, len(slots))}
	for i, slot := range slots {
		resp.Results[i] = batchSlot{
			Index:   slot.Index,
			Request: slot.Request,
			Result:  slot.Result,
		}
		if slot.Err != nil {
			resp.Results[i].Error = slot.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.service.Providers(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// writeResolveError maps resolver failures onto HTTP statuses.
func (s *Server) writeResolveError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrExhausted):
		writeError(w, http.StatusNotFound, "address could not be resolved by any provider")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "geocoding timed out")
	default:
		s.logger.Error("geocode request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
