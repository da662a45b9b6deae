package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
	"github.com/ibs-source/counterlog/internal/mqtt"
	"github.com/ibs-source/counterlog/internal/reading"
	"github.com/ibs-source/counterlog/internal/storage"
)

// memorySink collects written batches in memory
type memorySink struct {
	mu   sync.Mutex
	rows []reading.DeviceReading
}

func (s *memorySink) WriteBatch(_ context.Context, batch []reading.DeviceReading) error {
	s.mu.Lock()
	s.rows = append(s.rows, batch...)
	s.mu.Unlock()
	return nil
}

func (s *memorySink) TestConnection(context.Context) error { return nil }
func (s *memorySink) Close()                               {}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// stubMQTTClient pretends to hold a broker session
type stubMQTTClient struct{ connected bool }

func (c *stubMQTTClient) Connect() error    { c.connected = true; return nil }
func (c *stubMQTTClient) Disconnect()       { c.connected = false }
func (c *stubMQTTClient) IsConnected() bool { return c.connected }

func testServiceConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MQTT: config.MQTTConfig{
			Host:           "localhost",
			Port:           1883,
			ClientID:       "test",
			QoS:            1,
			ReconnectDelay: time.Second,
			ConnectTimeout: time.Second,
		},
		Timescale: config.TimescaleConfig{
			Host:               "localhost",
			Port:               5432,
			Database:           "counters",
			User:               "counterlog",
			Table:              "counter_data",
			BatchSize:          2,
			BatchTimeout:       20 * time.Millisecond,
			RetryAttempts:      1,
			RetryBaseDelay:     time.Millisecond,
			RetryMaxDelay:      100 * time.Millisecond,
			DLQEnabled:         true,
			DLQPath:            t.TempDir(),
			DLQReplayInterval:  time.Hour,
			DLQMaxFilesPerScan: 10,
			PoolMinConns:       1,
			PoolMaxConns:       2,
			InitTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
		},
		Pipeline: config.PipelineConfig{
			QueueCapacity:   100,
			ShutdownTimeout: 2 * time.Second,
			StatusInterval:  time.Hour,
		},
		HTTP: config.HTTPConfig{Address: ":0", AuthMode: config.AuthModeNone},
		Devices: config.DevicesConfig{
			MQTT: []config.MQTTDeviceConfig{{
				DeviceID:    "energy1",
				Topics:      []string{"plant/energy"},
				Format:      config.FormatJSON,
				DataType:    config.DataTypeUInt32,
				ChannelPath: "$.channel",
				ValuePath:   "$.value",
				ScaleFactor: 1.0,
			}},
		},
		DevicesFile: "devices.yaml",
	}
}

type serviceHarness struct {
	svc     *Service
	sink    *memorySink
	client  *stubMQTTClient
	handler mqtt.MessageHandler
	done    chan error
	cancel  context.CancelFunc

	stopOnce sync.Once
	runErr   error
	stopped  bool
}

// stop shuts the service down once and records the Run result
func (h *serviceHarness) stop(t *testing.T) {
	t.Helper()
	h.stopOnce.Do(func() {
		h.cancel()
		select {
		case h.runErr = <-h.done:
			h.stopped = true
		case <-time.After(5 * time.Second):
			t.Error("service did not shut down")
		}
	})
}

func newTestHarness(t *testing.T) *serviceHarness {
	t.Helper()

	h := &serviceHarness{
		sink:   &memorySink{},
		client: &stubMQTTClient{},
		done:   make(chan error, 1),
	}

	svc, err := New(testServiceConfig(t), log.New(),
		WithSinkFactory(func(context.Context, *config.TimescaleConfig, *log.Logger) (storage.Sink, error) {
			return h.sink, nil
		}),
		WithMQTTClientFactory(func(_ *config.MQTTConfig, _ []mqtt.Subscription, handler mqtt.MessageHandler, _ *log.Logger) (mqtt.Client, error) {
			h.handler = handler
			return h.client, nil
		}),
	)
	require.NoError(t, err)
	h.svc = svc
	return h
}

// start brings the service up synchronously, then runs it in the background
func (h *serviceHarness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	require.NoError(t, h.svc.Start(ctx))
	go func() { h.done <- h.svc.Run(ctx) }()

	t.Cleanup(func() { h.stop(t) })
}

func startTestService(t *testing.T) *serviceHarness {
	t.Helper()

	h := newTestHarness(t)
	h.start(t)
	return h
}

func TestServiceComponentsReadyAfterStart(t *testing.T) {
	h := newTestHarness(t)

	status := h.svc.Status()
	assert.False(t, status.Running, "nothing runs before Start")
	assert.Error(t, h.svc.StorageHealthy(context.Background()))

	h.start(t)

	// Everything an HTTP handler can reach must exist once Start returns,
	// without waiting for the Run goroutine to be scheduled.
	status = h.svc.Status()
	assert.True(t, status.Running)
	assert.True(t, status.MQTT.Connected)
	assert.NotNil(t, h.handler, "MQTT handler is wired before Start returns")
	assert.NoError(t, h.svc.StorageHealthy(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.MQTT.Host = ""

	_, err := New(cfg, log.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestServiceIngestsAndPersists(t *testing.T) {
	h := startTestService(t)

	require.NotNil(t, h.handler, "MQTT handler must be wired at startup")
	h.handler("plant/energy", []byte(`{"channel": 0, "value": 1000}`))
	h.handler("plant/energy", []byte(`{"channel": 1, "value": 2000}`))

	deadline := time.Now().Add(2 * time.Second)
	for h.sink.count() < 2 {
		require.True(t, time.Now().Before(deadline), "readings never reached the sink")
		time.Sleep(5 * time.Millisecond)
	}

	latest := h.svc.LatestAll()
	require.Len(t, latest, 2)
	assert.Equal(t, "energy1", latest[0].DeviceID)

	perDevice, ok := h.svc.LatestDevice("energy1")
	require.True(t, ok)
	assert.Len(t, perDevice, 2)

	stats := h.svc.CacheStats()
	assert.Equal(t, 2, stats.Readings)

	status := h.svc.Status()
	assert.True(t, status.Running)
	assert.True(t, status.MQTT.Connected)
	assert.Equal(t, uint64(2), status.MQTT.Received)
	assert.Equal(t, uint64(2), status.MQTT.Decoded)
	assert.GreaterOrEqual(t, status.Writer.Received, uint64(2))
}

func TestServiceDeviceLookups(t *testing.T) {
	h := startTestService(t)

	assert.True(t, h.svc.KnowsDevice("energy1"))
	assert.False(t, h.svc.KnowsDevice("ghost"))

	_, ok := h.svc.LatestDevice("ghost")
	assert.False(t, ok)

	err := h.svc.RestartDevice("energy1")
	assert.True(t, errors.Is(err, ErrUnknownDevice), "MQTT devices have no restartable session")

	assert.True(t, h.svc.MQTTConnected())
	assert.NoError(t, h.svc.StorageHealthy(context.Background()))
}

func TestServiceFlushCache(t *testing.T) {
	h := startTestService(t)

	h.handler("plant/energy", []byte(`{"channel": 0, "value": 1000}`))
	deadline := time.Now().Add(2 * time.Second)
	for h.svc.CacheStats().Readings == 0 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(5 * time.Millisecond)
	}

	h.svc.FlushCache()
	assert.Equal(t, 0, h.svc.CacheStats().Readings)
}

func TestServiceGracefulShutdown(t *testing.T) {
	h := startTestService(t)

	// A reading accepted before shutdown must still be persisted.
	h.handler("plant/energy", []byte(`{"channel": 0, "value": 1000}`))

	h.stop(t)
	require.True(t, h.stopped)
	require.NoError(t, h.runErr)

	assert.Equal(t, 1, h.sink.count(), "the writer drains its queue on shutdown")
	assert.False(t, h.client.connected, "broker session is closed on shutdown")
}

func TestServiceSafeConfigHidesCredentials(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.MQTT.Username = "user"
	cfg.MQTT.Password = "mqtt-secret"
	cfg.Timescale.Password = "db-secret"

	svc, err := New(cfg, log.New())
	require.NoError(t, err)

	data, err := json.Marshal(svc.SafeConfig())
	require.NoError(t, err)
	flat := string(data)
	assert.NotContains(t, flat, "mqtt-secret")
	assert.NotContains(t, flat, "db-secret")
	assert.Contains(t, flat, "counter_data")
}
