// Package modbus implements the Modbus/TCP connection and the per-device
// polling pool for counter modules.
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
)

const (
	// ConnectionRetryCooldown throttles reconnection storms: a Connect call
	// within this window of the previous attempt is refused.
	ConnectionRetryCooldown = 5 * time.Second

	// maxBackoffDelay caps the exponential retry backoff
	maxBackoffDelay = 30 * time.Second

	// disconnectSettle gives the OS time to reap the socket after close
	disconnectSettle = 100 * time.Millisecond

	// idleTimeout closes idle sessions when keep-alive is off
	idleTimeout = 60 * time.Second
)

// ErrConnectThrottled is returned when Connect is called again inside the
// retry cooldown window while the session is down.
var ErrConnectThrottled = errors.New("modbus connect throttled, retry later")

// Connection owns one Modbus/TCP session to a counter module
type Connection struct {
	cfg *config.ModbusDeviceConfig
	log *log.Logger

	mu          sync.Mutex
	handler     *gomodbus.TCPClientHandler
	client      gomodbus.Client
	connected   bool
	lastAttempt time.Time
}

// NewConnection creates an unconnected session holder for one device
func NewConnection(cfg *config.ModbusDeviceConfig, logger *log.Logger) *Connection {
	return &Connection{cfg: cfg, log: logger}
}

// Connect opens the TCP session. A call while connected is a no-op; a call
// within ConnectionRetryCooldown of a failed attempt is refused.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Connection) connectLocked() error {
	if c.connected {
		return nil
	}
	if time.Since(c.lastAttempt) < ConnectionRetryCooldown {
		return ErrConnectThrottled
	}
	c.lastAttempt = time.Now()

	// Tear down any stale session before dialing again
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}

	handler := gomodbus.NewTCPClientHandler(c.cfg.Address())
	handler.Timeout = c.cfg.Timeout
	handler.SlaveId = byte(c.cfg.UnitID) // #nosec G115 - validated range 1-255
	if c.cfg.KeepAlive {
		// Keep the session open between polls; the handler manages TCP
		// keep-alive on the dialed socket.
		handler.IdleTimeout = 0
	} else {
		handler.IdleTimeout = idleTimeout
	}

	if err := handler.Connect(); err != nil {
		return fmt.Errorf("connect to %s failed: %w", c.cfg.Address(), err)
	}

	c.handler = handler
	c.client = gomodbus.NewClient(handler)
	c.connected = true
	c.log.Debug("Connected to modbus device %s at %s", c.cfg.DeviceID, c.cfg.Address())
	return nil
}

// IsConnected reports whether the session is currently up
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReadRegisters reads count holding registers starting at start (function 3)
// against the configured unit id. Transient failures are retried up to
// MaxRetries times with capped exponential backoff. It returns the raw
// register words and the total elapsed time.
func (c *Connection) ReadRegisters(ctx context.Context, start uint16, count uint16) ([]uint16, time.Duration, error) {
	started := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		data, err := c.readOnce(start, count)
		if err == nil {
			return bytesToWords(data), time.Since(started), nil
		}
		lastErr = err

		if isTransient(err) {
			c.markDisconnected()
		}

		if attempt < c.cfg.MaxRetries {
			delay := backoffDelay(c.cfg.RetryBaseDelay, attempt)
			c.log.Debug("Read from %s failed (attempt %d/%d), backing off %s: %v",
				c.cfg.DeviceID, attempt, c.cfg.MaxRetries, delay, err)
			select {
			case <-ctx.Done():
				return nil, time.Since(started), ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	c.markDisconnected()
	return nil, time.Since(started), fmt.Errorf("read registers %d+%d from %s failed after %d attempts: %w",
		start, count, c.cfg.DeviceID, c.cfg.MaxRetries, lastErr)
}

func (c *Connection) readOnce(start uint16, count uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}
	return c.client.ReadHoldingRegisters(start, count)
}

// TestConnection performs a one-register liveness probe
func (c *Connection) TestConnection(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.readOnce(0, 1)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the session and releases the socket
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	time.Sleep(disconnectSettle)
}

func (c *Connection) markDisconnected() {
	c.mu.Lock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler = nil
	}
	c.client = nil
	c.connected = false
	c.mu.Unlock()
}

// backoffDelay computes min(base × 2^(attempt-1), maxBackoffDelay)
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoffDelay {
			return maxBackoffDelay
		}
	}
	if delay > maxBackoffDelay {
		return maxBackoffDelay
	}
	return delay
}

// isTransient classifies socket-level failures that a reconnect can fix
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "reset") ||
		strings.Contains(s, "closed") ||
		strings.Contains(s, "refused") ||
		strings.Contains(s, "i/o timeout") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "eof")
}

// bytesToWords converts the big-endian register payload into 16-bit words
func bytesToWords(data []byte) []uint16 {
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return words
}
