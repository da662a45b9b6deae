// Package api exposes the management HTTP surface: health, device control,
// latest data and a credential-free view of the configuration.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ibs-source/counterlog/internal/cache"
	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/health"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/reading"
	"github.com/ibs-source/counterlog/internal/service"
)

// Backend is the service surface the HTTP handlers talk to
type Backend interface {
	Status() service.ServiceStatus
	DeviceHealth(deviceID string) (health.DeviceHealth, bool)
	AllDeviceHealth() map[string]health.DeviceHealth
	RestartDevice(deviceID string) error
	LatestAll() []reading.DeviceReading
	LatestDevice(deviceID string) ([]reading.DeviceReading, bool)
	CacheStats() cache.Stats
	FlushCache()
	SafeConfig() map[string]any
	StorageHealthy(ctx context.Context) error
	MQTTConnected() bool
}

// Server is the management HTTP server
type Server struct {
	cfg     *config.HTTPConfig
	backend Backend
	log     *log.Logger
	httpSrv *http.Server
}

// NewServer builds the server with its routes and auth middleware
func NewServer(cfg *config.HTTPConfig, backend Backend, logger *log.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		log:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /devices/{id}", s.handleDevice)
	mux.HandleFunc("POST /devices/{id}/restart", s.handleDeviceRestart)
	mux.HandleFunc("GET /data/latest", s.handleDataLatest)
	mux.HandleFunc("GET /data/latest/{id}", s.handleDataLatestDevice)
	mux.HandleFunc("GET /data/stats", s.handleDataStats)
	mux.HandleFunc("DELETE /data/cache", s.handleCacheFlush)
	mux.HandleFunc("GET /config", s.handleConfig)

	s.httpSrv = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.authMiddleware(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins serving in the background. Listen errors after startup are
// reported on errCh.
func (s *Server) Start(errCh chan<- error) {
	s.log.Info("Management HTTP server listening on %s (auth: %s)", s.cfg.Address, s.cfg.AuthMode)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to encode HTTP response: %v", err)
	}
}

// writeError writes a JSON error body
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// healthProbeTimeout bounds the storage probe of the detailed health check
const healthProbeTimeout = 5 * time.Second
