// Package service wires the collection planes to the write pipeline and
// owns the component lifecycle.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ibs-source/counterlog/internal/cache"
	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/health"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/modbus"
	"github.com/ibs-source/counterlog/internal/mqtt"
	"github.com/ibs-source/counterlog/internal/reading"
	"github.com/ibs-source/counterlog/internal/storage"
)

// SinkFactory builds the storage sink; tests substitute an in-memory one
type SinkFactory func(ctx context.Context, cfg *config.TimescaleConfig, logger *log.Logger) (storage.Sink, error)

// Option customizes service construction
type Option func(*Service)

// WithSinkFactory overrides the default TimescaleDB sink
func WithSinkFactory(f SinkFactory) Option {
	return func(s *Service) { s.sinkFactory = f }
}

// WithMQTTClientFactory overrides the default paho client
func WithMQTTClientFactory(f func(*config.MQTTConfig, []mqtt.Subscription, mqtt.MessageHandler, *log.Logger) (mqtt.Client, error)) Option {
	return func(s *Service) { s.mqttFactory = f }
}

// Service owns the logger pipeline: Modbus pool and MQTT plane feeding the
// batch writer, with health tracking and the latest-reading cache on the side.
type Service struct {
	cfg *config.Config
	log *log.Logger

	validator *reading.Validator
	tracker   *health.Tracker
	cache     *cache.LatestCache

	pool       *modbus.Pool
	mqttClient mqtt.Client
	processor  *mqtt.Processor

	sink   storage.Sink
	writer *storage.Writer
	dlq    *storage.DLQ

	sinkFactory SinkFactory
	mqttFactory func(*config.MQTTConfig, []mqtt.Subscription, mqtt.MessageHandler, *log.Logger) (mqtt.Client, error)

	writeCtx    context.Context
	writeCancel context.CancelFunc

	running   atomic.Bool
	startTime time.Time
}

// New validates the configuration tree and prepares the service. The
// components that need I/O are constructed in Start.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	warnPortMismatch(cfg, logger)

	s := &Service{
		cfg:       cfg,
		log:       logger,
		validator: reading.NewValidator(),
		tracker:   health.NewTracker(logger),
		cache:     cache.New(),
		sinkFactory: func(ctx context.Context, tcfg *config.TimescaleConfig, l *log.Logger) (storage.Sink, error) {
			return storage.NewTimescaleSink(ctx, tcfg, l)
		},
		mqttFactory: func(mcfg *config.MQTTConfig, subs []mqtt.Subscription, handler mqtt.MessageHandler, l *log.Logger) (mqtt.Client, error) {
			return mqtt.NewPahoClient(mcfg, subs, handler, l)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// warnPortMismatch flags a TLS flag that disagrees with the standard ports
func warnPortMismatch(cfg *config.Config, logger *log.Logger) {
	if cfg.MQTT.TLSEnabled && cfg.MQTT.Port == 1883 {
		logger.Warn("MQTT TLS is enabled but port is 1883 (plain default)")
	}
	if !cfg.MQTT.TLSEnabled && cfg.MQTT.Port == 8883 {
		logger.Warn("MQTT TLS is disabled but port is 8883 (TLS default)")
	}
}

// Start constructs and starts every component: storage first so the write
// path exists before any producer, then the collection planes. It must
// return before Run or any HTTP handler touches the service; the component
// fields are written here and only read afterwards.
func (s *Service) Start(ctx context.Context) error {
	if err := s.startStorage(ctx); err != nil {
		return err
	}

	s.writeCtx, s.writeCancel = context.WithCancel(context.Background())

	s.startModbus()
	if err := s.startMQTT(); err != nil {
		s.shutdown()
		return err
	}

	s.startTime = time.Now()
	s.running.Store(true)
	s.log.Info("Counter logger service started (%d modbus devices, %d mqtt devices)",
		len(s.enabledModbusDevices()), len(s.cfg.Devices.MQTT))
	return nil
}

// Run blocks until ctx is canceled, then shuts down in order: collection
// planes first, writer drain, DLQ and sink last. Start must have succeeded.
func (s *Service) Run(ctx context.Context) error {
	s.statusLoop(ctx)

	s.log.Info("Shutting down counter logger service")
	s.running.Store(false)
	s.shutdown()
	return nil
}

func (s *Service) startStorage(ctx context.Context) error {
	sink, err := s.sinkFactory(ctx, &s.cfg.Timescale, s.log)
	if err != nil {
		return fmt.Errorf("failed to start storage sink: %w", err)
	}
	s.sink = sink

	if s.cfg.Timescale.DLQEnabled {
		dlq, err := storage.NewDLQ(
			s.cfg.Timescale.DLQPath, sink,
			s.cfg.Timescale.DLQReplayInterval, s.cfg.Timescale.DLQMaxFilesPerScan, s.log)
		if err != nil {
			sink.Close()
			return err
		}
		dlq.Start()
		s.dlq = dlq
	}

	s.writer = storage.NewWriter(storage.WriterConfig{
		QueueCapacity:  s.cfg.Pipeline.QueueCapacity,
		BatchSize:      s.cfg.Timescale.BatchSize,
		BatchTimeout:   s.cfg.Timescale.BatchTimeout,
		WriteTimeout:   s.cfg.Timescale.WriteTimeout,
		RetryAttempts:  s.cfg.Timescale.RetryAttempts,
		RetryBaseDelay: s.cfg.Timescale.RetryBaseDelay,
		RetryMaxDelay:  s.cfg.Timescale.RetryMaxDelay,
	}, sink, s.dlq, s.log)
	return nil
}

func (s *Service) startModbus() {
	s.pool = modbus.NewPool(s.validator, s.tracker, s.handleReading, s.log)
	for _, device := range s.enabledModbusDevices() {
		if !s.pool.AddDevice(device) {
			s.log.Warn("Modbus device %s already registered, skipping", device.DeviceID)
		}
	}
}

func (s *Service) startMQTT() error {
	if len(s.cfg.Devices.MQTT) == 0 {
		return nil
	}

	router, err := mqtt.NewRouter(s.cfg.Devices.MQTT, s.cfg.MQTT.QoS, s.log)
	if err != nil {
		return fmt.Errorf("failed to build topic router: %w", err)
	}
	s.processor = mqtt.NewProcessor(s.cfg.Devices.MQTT, router, s.validator, s.handleReading, s.log)

	client, err := s.mqttFactory(&s.cfg.MQTT, router.Subscriptions(), s.processor.HandleMessage, s.log)
	if err != nil {
		return fmt.Errorf("failed to create MQTT client: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect MQTT client: %w", err)
	}
	s.mqttClient = client
	return nil
}

// handleReading is the shared reading funnel: cache, then the write queue
func (s *Service) handleReading(r reading.DeviceReading) {
	s.cache.Set(r)
	if err := s.writer.Write(s.writeCtx, r); err != nil {
		s.log.Error("Failed to enqueue reading from %s/%d: %v", r.DeviceID, r.Channel, err)
	}
}

// statusLoop periodically logs a one-line status summary until shutdown
func (s *Service) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Pipeline.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := s.Status()
			s.log.Info("Status: %d/%d devices connected, %d written, %d queued, %d in DLQ",
				status.ConnectedDevices, status.TotalDevices,
				status.Writer.Written, status.Writer.Queued, status.DLQPending)
		}
	}
}

func (s *Service) shutdown() {
	// Stop producers before the writer so the drain sees the full tail.
	if s.pool != nil {
		s.pool.StopAll()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.writeCancel != nil {
		s.writeCancel()
	}

	if s.writer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Pipeline.ShutdownTimeout)
		if err := s.writer.Close(shutdownCtx); err != nil {
			s.log.Error("Batch writer did not drain in time: %v", err)
		}
		cancel()
	}
	if s.dlq != nil {
		s.dlq.Close()
	}
	if s.sink != nil {
		s.sink.Close()
	}
}

func (s *Service) enabledModbusDevices() []config.ModbusDeviceConfig {
	var enabled []config.ModbusDeviceConfig
	for _, device := range s.cfg.Devices.Modbus {
		if device.Enabled {
			enabled = append(enabled, device)
		}
	}
	return enabled
}
