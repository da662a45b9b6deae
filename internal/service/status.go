package service

import (
	"context"
	"errors"
	"time"

	"github.com/ibs-source/counterlog/internal/cache"
	"github.com/ibs-source/counterlog/internal/health"
	"github.com/ibs-source/counterlog/internal/modbus"
	"github.com/ibs-source/counterlog/internal/reading"
	"github.com/ibs-source/counterlog/internal/storage"
)

// ErrUnknownDevice is returned for operations on device ids the service
// does not manage
var ErrUnknownDevice = errors.New("unknown device")

// MQTTStats holds the message plane counters
type MQTTStats struct {
	Connected bool   `json:"connected"`
	Received  uint64 `json:"received"`
	Decoded   uint64 `json:"decoded"`
	Failed    uint64 `json:"failed"`
}

// ServiceStatus is a point-in-time snapshot of the whole service
type ServiceStatus struct {
	Running          bool                           `json:"running"`
	StartTime        time.Time                      `json:"start_time"`
	UptimeSeconds    int64                          `json:"uptime_seconds"`
	TotalDevices     int                            `json:"total_devices"`
	ConnectedDevices int                            `json:"connected_devices"`
	Devices          map[string]health.DeviceHealth `json:"devices"`
	Writer           storage.WriterStats            `json:"writer"`
	DLQPending       int                            `json:"dlq_pending"`
	MQTT             MQTTStats                      `json:"mqtt"`
}

// Status assembles the service snapshot
func (s *Service) Status() ServiceStatus {
	status := ServiceStatus{
		Running:   s.running.Load(),
		StartTime: s.startTime,
		Devices:   s.tracker.GetAll(),
	}
	if status.Running {
		status.UptimeSeconds = int64(time.Since(s.startTime).Seconds())
	}

	status.TotalDevices = len(s.enabledModbusDevices()) + len(s.cfg.Devices.MQTT)
	for _, h := range status.Devices {
		if h.IsConnected {
			status.ConnectedDevices++
		}
	}

	if s.writer != nil {
		status.Writer = s.writer.Stats()
	}
	if s.dlq != nil {
		status.DLQPending = s.dlq.PendingCount()
	}
	if s.mqttClient != nil {
		status.MQTT.Connected = s.mqttClient.IsConnected()
	}
	if s.processor != nil {
		status.MQTT.Received, status.MQTT.Decoded, status.MQTT.Failed = s.processor.Stats()
	}
	return status
}

// DeviceHealth returns the health snapshot of one device
func (s *Service) DeviceHealth(deviceID string) (health.DeviceHealth, bool) {
	return s.tracker.Get(deviceID)
}

// AllDeviceHealth returns the health snapshots of every known device
func (s *Service) AllDeviceHealth() map[string]health.DeviceHealth {
	return s.tracker.GetAll()
}

// RestartDevice restarts the Modbus session of one device. MQTT devices
// have no session of their own and cannot be restarted.
func (s *Service) RestartDevice(deviceID string) error {
	if s.pool == nil || !s.pool.Has(deviceID) {
		return ErrUnknownDevice
	}
	if err := s.pool.RestartDevice(deviceID); err != nil {
		if errors.Is(err, modbus.ErrDeviceNotFound) {
			return ErrUnknownDevice
		}
		return err
	}
	return nil
}

// KnowsDevice reports whether the device id belongs to the configured fleet
func (s *Service) KnowsDevice(deviceID string) bool {
	if s.pool != nil && s.pool.Has(deviceID) {
		return true
	}
	for i := range s.cfg.Devices.MQTT {
		if s.cfg.Devices.MQTT[i].DeviceID == deviceID {
			return true
		}
	}
	return false
}

// LatestAll returns every cached reading
func (s *Service) LatestAll() []reading.DeviceReading {
	return s.cache.Snapshot()
}

// LatestDevice returns the cached readings of one device
func (s *Service) LatestDevice(deviceID string) ([]reading.DeviceReading, bool) {
	if !s.KnowsDevice(deviceID) {
		return nil, false
	}
	return s.cache.Device(deviceID), true
}

// CacheStats aggregates the latest-reading cache
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// FlushCache empties the latest-reading cache
func (s *Service) FlushCache() {
	s.cache.Flush()
	s.log.Info("Latest-reading cache flushed")
}

// StorageHealthy probes the storage sink
func (s *Service) StorageHealthy(ctx context.Context) error {
	if s.sink == nil {
		return errors.New("storage sink not started")
	}
	return s.sink.TestConnection(ctx)
}

// MQTTConnected reports whether the broker session is up. A deployment
// without MQTT devices counts as healthy.
func (s *Service) MQTTConnected() bool {
	if len(s.cfg.Devices.MQTT) == 0 {
		return true
	}
	return s.mqttClient != nil && s.mqttClient.IsConnected()
}

// SafeConfig returns the effective configuration with credentials removed
func (s *Service) SafeConfig() map[string]any {
	cfg := s.cfg

	modbusDevices := make([]map[string]any, 0, len(cfg.Devices.Modbus))
	for i := range cfg.Devices.Modbus {
		d := &cfg.Devices.Modbus[i]
		modbusDevices = append(modbusDevices, map[string]any{
			"device_id":     d.DeviceID,
			"address":       d.Address(),
			"unit_id":       d.UnitID,
			"enabled":       d.Enabled,
			"poll_interval": d.PollInterval.String(),
			"channels":      len(d.Channels),
		})
	}

	mqttDevices := make([]map[string]any, 0, len(cfg.Devices.MQTT))
	for i := range cfg.Devices.MQTT {
		d := &cfg.Devices.MQTT[i]
		mqttDevices = append(mqttDevices, map[string]any{
			"device_id": d.DeviceID,
			"topics":    d.Topics,
			"format":    d.Format,
			"data_type": d.DataType,
		})
	}

	return map[string]any{
		"devices_file": cfg.DevicesFile,
		"mqtt": map[string]any{
			"host":        cfg.MQTT.Host,
			"port":        cfg.MQTT.Port,
			"client_id":   cfg.MQTT.ClientID,
			"tls_enabled": cfg.MQTT.TLSEnabled,
			"qos":         cfg.MQTT.QoS,
		},
		"timescale": map[string]any{
			"host":          cfg.Timescale.Host,
			"port":          cfg.Timescale.Port,
			"database":      cfg.Timescale.Database,
			"table":         cfg.Timescale.Table,
			"ssl_enabled":   cfg.Timescale.SSLEnabled,
			"batch_size":    cfg.Timescale.BatchSize,
			"batch_timeout": cfg.Timescale.BatchTimeout.String(),
			"dlq_enabled":   cfg.Timescale.DLQEnabled,
			"dlq_path":      cfg.Timescale.DLQPath,
		},
		"pipeline": map[string]any{
			"queue_capacity":   cfg.Pipeline.QueueCapacity,
			"shutdown_timeout": cfg.Pipeline.ShutdownTimeout.String(),
			"status_interval":  cfg.Pipeline.StatusInterval.String(),
		},
		"http": map[string]any{
			"enabled":   cfg.HTTP.Enabled,
			"address":   cfg.HTTP.Address,
			"auth_mode": cfg.HTTP.AuthMode,
		},
		"modbus_devices": modbusDevices,
		"mqtt_devices":   mqttDevices,
	}
}
