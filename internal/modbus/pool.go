package modbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/health"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/reading"
)

// stopGrace is how long StopAll waits for poll loops to quiesce
const stopGrace = 500 * time.Millisecond

// pollErrorPause is the pause after an unexpected poll loop failure
const pollErrorPause = 1 * time.Second

// ErrDeviceNotFound is returned for operations on unknown device ids
var ErrDeviceNotFound = errors.New("device not found")

// OnReading receives every reading produced by the pool
type OnReading func(reading.DeviceReading)

type deviceContext struct {
	cfg    config.ModbusDeviceConfig
	conn   *Connection
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool owns the Modbus device set. Each device gets a dedicated poll
// goroutine; a stuck device never stalls another.
type Pool struct {
	validator *reading.Validator
	tracker   *health.Tracker
	onReading OnReading
	log       *log.Logger

	mu      sync.RWMutex
	devices map[string]*deviceContext
}

// NewPool creates an empty device pool
func NewPool(validator *reading.Validator, tracker *health.Tracker, onReading OnReading, logger *log.Logger) *Pool {
	return &Pool{
		validator: validator,
		tracker:   tracker,
		onReading: onReading,
		log:       logger,
		devices:   make(map[string]*deviceContext),
	}
}

// AddDevice registers a device and starts its poll loop. It returns false
// when the device id is already registered.
func (p *Pool) AddDevice(cfg config.ModbusDeviceConfig) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.devices[cfg.DeviceID]; exists {
		return false
	}

	dctx := &deviceContext{
		cfg:  cfg,
		conn: NewConnection(&cfg, p.log),
	}
	p.devices[cfg.DeviceID] = dctx
	p.startPolling(dctx)

	p.log.Info("Added modbus device %s (%s, %d channels)", cfg.DeviceID, cfg.Address(), len(cfg.Channels))
	return true
}

// startPolling spawns a fresh poll goroutine for the device. Caller holds p.mu.
func (p *Pool) startPolling(dctx *deviceContext) {
	ctx, cancel := context.WithCancel(context.Background())
	dctx.cancel = cancel
	dctx.done = make(chan struct{})
	go p.pollLoop(ctx, dctx)
}

// RemoveDevice stops the poll loop, disconnects and forgets the device
func (p *Pool) RemoveDevice(deviceID string) error {
	p.mu.Lock()
	dctx, ok := p.devices[deviceID]
	if ok {
		delete(p.devices, deviceID)
	}
	p.mu.Unlock()

	if !ok {
		return ErrDeviceNotFound
	}

	dctx.cancel()
	<-dctx.done
	dctx.conn.Disconnect()
	p.tracker.Reset(deviceID)
	p.validator.ResetDevice(deviceID)

	p.log.Info("Removed modbus device %s", deviceID)
	return nil
}

// RestartDevice tears down the current poll loop and session, then spawns a
// fresh poll loop with a new cancellation handle.
func (p *Pool) RestartDevice(deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dctx, ok := p.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}

	dctx.cancel()
	<-dctx.done
	dctx.conn.Disconnect()

	dctx.conn = NewConnection(&dctx.cfg, p.log)
	p.startPolling(dctx)

	p.log.Info("Restarted modbus device %s", deviceID)
	return nil
}

// StopAll cancels every poll loop, waits for them to quiesce and disconnects
func (p *Pool) StopAll() {
	p.mu.Lock()
	contexts := make([]*deviceContext, 0, len(p.devices))
	for _, dctx := range p.devices {
		contexts = append(contexts, dctx)
	}
	p.mu.Unlock()

	for _, dctx := range contexts {
		dctx.cancel()
	}

	deadline := time.After(stopGrace)
	for _, dctx := range contexts {
		select {
		case <-dctx.done:
		case <-deadline:
		}
	}

	for _, dctx := range contexts {
		dctx.conn.Disconnect()
	}
	p.log.Info("Stopped %d modbus poll loops", len(contexts))
}

// Devices returns the registered device ids
func (p *Pool) Devices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.devices))
	for id := range p.devices {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether a device id is registered
func (p *Pool) Has(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.devices[deviceID]
	return ok
}

// pollLoop drives one device until its context is canceled
func (p *Pool) pollLoop(ctx context.Context, dctx *deviceContext) {
	defer close(dctx.done)

	for {
		p.pollCycle(ctx, dctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(dctx.cfg.PollInterval):
		}
	}
}

// pollCycle reads every enabled channel once, in declaration order. A panic
// inside a cycle pauses the loop briefly instead of killing it.
func (p *Pool) pollCycle(ctx context.Context, dctx *deviceContext) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Poll cycle for %s panicked: %v", dctx.cfg.DeviceID, r)
			select {
			case <-ctx.Done():
			case <-time.After(pollErrorPause):
			}
		}
	}()

	for i := range dctx.cfg.Channels {
		ch := &dctx.cfg.Channels[i]
		if !ch.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		p.pollChannel(ctx, dctx, ch)
	}
}

func (p *Pool) pollChannel(ctx context.Context, dctx *deviceContext, ch *config.ChannelConfig) {
	words, elapsed, err := dctx.conn.ReadRegisters(ctx, ch.StartRegister, uint16(ch.RegisterCount)) // #nosec G115 - count is 1, 2 or 4
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.tracker.ReportFailure(dctx.cfg.DeviceID, err)
		p.log.Debug("Read %s channel %d failed: %v", dctx.cfg.DeviceID, ch.Number, err)
		// A failed read is still a record: downstream sees the gap as an
		// unavailable sample instead of silence.
		if p.onReading != nil {
			p.onReading(reading.Unavailable(dctx.cfg.DeviceID, ch.Number, time.Now()))
		}
		return
	}

	p.tracker.ReportSuccess(dctx.cfg.DeviceID, elapsed)

	r := p.validator.Evaluate(reading.Input{
		DeviceID:      dctx.cfg.DeviceID,
		Channel:       ch.Number,
		Timestamp:     time.Now(),
		Raw:           reading.AssembleCounter(words),
		Scale:         ch.ScaleFactor,
		Offset:        ch.Offset,
		Min:           ch.Min,
		Max:           ch.Max,
		MaxChangeRate: ch.MaxChangeRate,
		Unit:          ch.Unit,
		RateWindow:    ch.RateWindow,
	})

	if p.onReading != nil {
		p.onReading(r)
	}
}
