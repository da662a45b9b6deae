// Package health tracks per-device read statistics and connectivity.
package health

import (
	"sync"
	"time"

	"github.com/ibs-source/counterlog/internal/log"
)

// MaxConsecutiveFailures is the offline threshold: a device with this many
// consecutive failed reads is reported as disconnected.
const MaxConsecutiveFailures = 5

// latencyWindow bounds the rolling response-time sample
const latencyWindow = 100

// DeviceHealth is a point-in-time snapshot of one device
type DeviceHealth struct {
	DeviceID            string        `json:"device_id"`
	IsConnected         bool          `json:"is_connected"`
	LastSuccessfulRead  time.Time     `json:"last_successful_read"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalReads          int64         `json:"total_reads"`
	SuccessfulReads     int64         `json:"successful_reads"`
	LastError           string        `json:"last_error,omitempty"`
	SuccessRate         float64       `json:"success_rate"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
}

type deviceState struct {
	lastSuccessfulRead  time.Time
	consecutiveFailures int
	totalReads          int64
	successfulReads     int64
	lastError           string
	latencies           []time.Duration
	latencyPos          int
	latencyFull         bool
}

// Tracker keeps health state per device id. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
	log     *log.Logger
}

// NewTracker creates an empty tracker
func NewTracker(logger *log.Logger) *Tracker {
	return &Tracker{
		devices: make(map[string]*deviceState),
		log:     logger,
	}
}

func (t *Tracker) state(deviceID string) *deviceState {
	s, ok := t.devices[deviceID]
	if !ok {
		s = &deviceState{latencies: make([]time.Duration, latencyWindow)}
		t.devices[deviceID] = s
	}
	return s
}

// ReportSuccess records a successful read with its duration
func (t *Tracker) ReportSuccess(deviceID string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(deviceID)
	s.totalReads++
	s.successfulReads++
	s.consecutiveFailures = 0
	s.lastSuccessfulRead = time.Now()
	s.lastError = ""

	s.latencies[s.latencyPos] = duration
	s.latencyPos++
	if s.latencyPos == latencyWindow {
		s.latencyPos = 0
		s.latencyFull = true
	}
}

// ReportFailure records a failed read. The warning on crossing the offline
// threshold is emitted exactly once per transition.
func (t *Tracker) ReportFailure(deviceID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state(deviceID)
	s.totalReads++
	s.consecutiveFailures++
	if err != nil {
		s.lastError = err.Error()
	}

	if s.consecutiveFailures == MaxConsecutiveFailures {
		t.log.Warn("Device %s is offline after %d consecutive failures: %s",
			deviceID, s.consecutiveFailures, s.lastError)
	}
}

// Get returns the snapshot of one device
func (t *Tracker) Get(deviceID string) (DeviceHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.devices[deviceID]
	if !ok {
		return DeviceHealth{}, false
	}
	return snapshot(deviceID, s), true
}

// GetAll returns a point-in-time snapshot of every known device
func (t *Tracker) GetAll() map[string]DeviceHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make(map[string]DeviceHealth, len(t.devices))
	for id, s := range t.devices {
		all[id] = snapshot(id, s)
	}
	return all
}

// Reset removes the entry of a device
func (t *Tracker) Reset(deviceID string) {
	t.mu.Lock()
	delete(t.devices, deviceID)
	t.mu.Unlock()
}

func snapshot(deviceID string, s *deviceState) DeviceHealth {
	h := DeviceHealth{
		DeviceID:            deviceID,
		IsConnected:         s.consecutiveFailures < MaxConsecutiveFailures,
		LastSuccessfulRead:  s.lastSuccessfulRead,
		ConsecutiveFailures: s.consecutiveFailures,
		TotalReads:          s.totalReads,
		SuccessfulReads:     s.successfulReads,
		LastError:           s.lastError,
	}
	if s.totalReads > 0 {
		h.SuccessRate = float64(s.successfulReads) / float64(s.totalReads) * 100
	}

	n := s.latencyPos
	if s.latencyFull {
		n = latencyWindow
	}
	if n > 0 {
		var total time.Duration
		for i := 0; i < n; i++ {
			total += s.latencies[i]
		}
		h.AvgResponseTime = total / time.Duration(n)
	}
	return h
}
