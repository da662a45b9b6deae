package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ibs-source/counterlog/internal/service"
)

// handleHealth is the liveness probe: running flag, uptime and the health
// of every device, without touching storage.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.backend.Status()
	body := map[string]any{
		"status":            "ok",
		"uptime_seconds":    status.UptimeSeconds,
		"connected_devices": status.ConnectedDevices,
		"total_devices":     status.TotalDevices,
		"devices":           status.Devices,
	}
	if !status.Running {
		body["status"] = "starting"
	}
	s.writeJSON(w, http.StatusOK, body)
}

// handleHealthDetailed reports per-component readiness. Any failing
// component degrades the overall status and the HTTP code.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	status := s.backend.Status()

	components := make(map[string]any)
	healthy := true

	probeCtx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()
	if err := s.backend.StorageHealthy(probeCtx); err != nil {
		components["storage"] = map[string]string{"status": "error", "error": err.Error()}
		healthy = false
	} else {
		components["storage"] = map[string]string{"status": "ok"}
	}

	if s.backend.MQTTConnected() {
		components["mqtt"] = map[string]any{"status": "ok", "stats": status.MQTT}
	} else {
		components["mqtt"] = map[string]any{"status": "disconnected", "stats": status.MQTT}
		healthy = false
	}

	deviceStatus := "ok"
	if status.ConnectedDevices < status.TotalDevices {
		deviceStatus = "degraded"
	}
	components["devices"] = map[string]any{
		"status":    deviceStatus,
		"connected": status.ConnectedDevices,
		"total":     status.TotalDevices,
	}

	components["writer"] = status.Writer
	components["dlq"] = map[string]int{"pending": status.DLQPending}

	overall := "ok"
	code := http.StatusOK
	if !healthy {
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"status":         overall,
		"uptime_seconds": status.UptimeSeconds,
		"components":     components,
	})
}

// handleDevices lists the health of every known device
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.AllDeviceHealth())
}

// handleDevice returns the health of one device
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	h, ok := s.backend.DeviceHealth(deviceID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown device: "+deviceID)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

// handleDeviceRestart tears down and restarts one device session
func (s *Server) handleDeviceRestart(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if err := s.backend.RestartDevice(deviceID); err != nil {
		if errors.Is(err, service.ErrUnknownDevice) {
			s.writeError(w, http.StatusNotFound, "unknown device: "+deviceID)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("Device %s restarted via HTTP", deviceID)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "restarted", "device_id": deviceID})
}

// handleDataLatest returns the latest reading of every channel
func (s *Server) handleDataLatest(w http.ResponseWriter, _ *http.Request) {
	readings := s.backend.LatestAll()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(readings),
		"readings": readings,
	})
}

// handleDataLatestDevice returns the latest readings of one device
func (s *Server) handleDataLatestDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	readings, ok := s.backend.LatestDevice(deviceID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown device: "+deviceID)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"count":     len(readings),
		"readings":  readings,
	})
}

// handleDataStats aggregates the latest-reading cache
func (s *Server) handleDataStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.CacheStats())
}

// handleCacheFlush empties the latest-reading cache
func (s *Server) handleCacheFlush(w http.ResponseWriter, _ *http.Request) {
	s.backend.FlushCache()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// handleConfig returns the effective configuration without credentials
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.SafeConfig())
}
