package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
)

// testModbusServer is a minimal Modbus/TCP endpoint answering function 3
// (read holding registers) from a fixed register table.
type testModbusServer struct {
	listener  net.Listener
	registers map[uint16]uint16
}

func newTestModbusServer(t *testing.T) *testModbusServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testModbusServer{
		listener:  listener,
		registers: make(map[uint16]uint16),
	}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *testModbusServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *testModbusServer) handle(conn net.Conn) {
	defer conn.Close()

	for {
		// MBAP header (7 bytes) plus function code, address and quantity.
		request := make([]byte, 12)
		if _, err := io.ReadFull(conn, request); err != nil {
			return
		}

		txID := binary.BigEndian.Uint16(request[0:2])
		unitID := request[6]
		function := request[7]
		address := binary.BigEndian.Uint16(request[8:10])
		quantity := binary.BigEndian.Uint16(request[10:12])

		if function != 3 {
			continue
		}

		payload := make([]byte, quantity*2)
		for i := uint16(0); i < quantity; i++ {
			binary.BigEndian.PutUint16(payload[i*2:], s.registers[address+i])
		}

		response := make([]byte, 9+len(payload))
		binary.BigEndian.PutUint16(response[0:2], txID)
		binary.BigEndian.PutUint16(response[4:6], uint16(3+len(payload))) // #nosec G115 - small frame
		response[6] = unitID
		response[7] = 3
		response[8] = byte(len(payload)) // #nosec G115 - at most 8 bytes
		copy(response[9:], payload)

		if _, err := conn.Write(response); err != nil {
			return
		}
	}
}

func (s *testModbusServer) deviceConfig(id string) config.ModbusDeviceConfig {
	host, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return config.ModbusDeviceConfig{
		DeviceID:       id,
		IPAddress:      host,
		Port:           port,
		UnitID:         1,
		Enabled:        true,
		PollInterval:   20 * time.Millisecond,
		Timeout:        1 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 1 * time.Millisecond,
		KeepAlive:      true,
	}
}

func TestReadRegisters(t *testing.T) {
	server := newTestModbusServer(t)
	server.registers[100] = 0x5678 // low word
	server.registers[101] = 0x1234 // high word

	cfg := server.deviceConfig("dev1")
	conn := NewConnection(&cfg, log.New())
	defer conn.Disconnect()

	words, elapsed, err := conn.ReadRegisters(context.Background(), 100, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x5678, 0x1234}, words)
	assert.Greater(t, elapsed, time.Duration(0))
	assert.True(t, conn.IsConnected())
}

func TestReadRegistersUnreachable(t *testing.T) {
	cfg := config.ModbusDeviceConfig{
		DeviceID:       "dev1",
		IPAddress:      "127.0.0.1",
		Port:           1, // nothing listens here
		UnitID:         1,
		Timeout:        200 * time.Millisecond,
		MaxRetries:     2,
		RetryBaseDelay: 1 * time.Millisecond,
	}
	conn := NewConnection(&cfg, log.New())

	_, _, err := conn.ReadRegisters(context.Background(), 0, 1)
	require.Error(t, err)
	assert.False(t, conn.IsConnected())
}

func TestConnectThrottle(t *testing.T) {
	cfg := config.ModbusDeviceConfig{
		DeviceID:  "dev1",
		IPAddress: "127.0.0.1",
		Port:      1,
		UnitID:    1,
		Timeout:   200 * time.Millisecond,
	}
	conn := NewConnection(&cfg, log.New())

	require.Error(t, conn.Connect())

	err := conn.Connect()
	assert.True(t, errors.Is(err, ErrConnectThrottled), "second attempt inside the cooldown is refused")
}

func TestReadRegistersContextCanceled(t *testing.T) {
	cfg := config.ModbusDeviceConfig{
		DeviceID:       "dev1",
		IPAddress:      "127.0.0.1",
		Port:           1,
		UnitID:         1,
		Timeout:        200 * time.Millisecond,
		MaxRetries:     5,
		RetryBaseDelay: 1 * time.Second,
	}
	conn := NewConnection(&cfg, log.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := conn.ReadRegisters(ctx, 0, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBackoffDelay(t *testing.T) {
	base := 500 * time.Millisecond

	assert.Equal(t, 500*time.Millisecond, backoffDelay(base, 1))
	assert.Equal(t, 1*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 2*time.Second, backoffDelay(base, 3))
	assert.Equal(t, 16*time.Second, backoffDelay(base, 6))
	assert.Equal(t, maxBackoffDelay, backoffDelay(base, 7), "cap applies")
	assert.Equal(t, maxBackoffDelay, backoffDelay(base, 20))
}

func TestIsTransient(t *testing.T) {
	transient := []string{
		"dial tcp: connection refused",
		"write: broken pipe",
		"read: connection reset by peer",
		"use of closed network connection",
		"read tcp: i/o timeout",
		"EOF",
	}
	for _, msg := range transient {
		assert.True(t, isTransient(errors.New(msg)), msg)
	}

	assert.False(t, isTransient(errors.New("modbus: exception '2' (illegal data address)")))
	assert.False(t, isTransient(nil))
}

func TestBytesToWords(t *testing.T) {
	words := bytesToWords([]byte{0x12, 0x34, 0x56, 0x78})
	assert.Equal(t, []uint16{0x1234, 0x5678}, words)
	assert.Empty(t, bytesToWords(nil))
}
