package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ibs-source/counterlog/internal/config"
	"github.com/ibs-source/counterlog/internal/log"
)

// MessageHandler receives every message from subscribed topics
type MessageHandler func(topic string, payload []byte)

// Client is the broker connection. It is an interface so tests can
// substitute an in-memory broker.
type Client interface {
	Connect() error
	Disconnect()
	IsConnected() bool
}

// PahoClient maintains one managed broker connection with automatic
// reconnection and resubscription on connect.
type PahoClient struct {
	cfg        *config.MQTTConfig
	subs       []Subscription
	handler    MessageHandler
	client     paho.Client
	reconnects atomic.Int32
	log        *log.Logger
}

// NewPahoClient builds the managed client. Connect must be called to start.
func NewPahoClient(cfg *config.MQTTConfig, subs []Subscription, handler MessageHandler, logger *log.Logger) (*PahoClient, error) {
	c := &PahoClient{
		cfg:     cfg,
		subs:    subs,
		handler: handler,
		log:     logger,
	}

	scheme := "tcp"
	if cfg.TLSEnabled {
		scheme = "ssl"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectDelay)
	opts.SetResumeSubs(true)
	opts.SetOrderMatters(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLSEnabled {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if err != nil {
			logger.Error("MQTT connection lost: %v", err)
		}
	})

	opts.SetReconnectingHandler(func(client paho.Client, _ *paho.ClientOptions) {
		n := c.reconnects.Add(1)
		if cfg.MaxReconnectAttempts > 0 && int(n) > cfg.MaxReconnectAttempts {
			logger.Error("MQTT reconnect attempts exhausted (%d), giving up", cfg.MaxReconnectAttempts)
			client.Disconnect(0)
			return
		}
		logger.Info("MQTT reconnecting (attempt %d)...", n)
	})

	opts.SetOnConnectHandler(func(client paho.Client) {
		c.reconnects.Store(0)
		logger.Info("MQTT connected, subscribing to %d filters", len(c.subs))
		c.subscribeAll(client)
	})

	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect dials the broker and blocks until connected or timed out
func (c *PahoClient) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// subscribeAll subscribes the effective filter set; called on every connect
func (c *PahoClient) subscribeAll(client paho.Client) {
	if len(c.subs) == 0 {
		return
	}

	filters := make(map[string]byte, len(c.subs))
	for _, sub := range c.subs {
		filters[sub.Filter] = sub.QoS
	}

	token := client.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		c.handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.SubscribeTimeout) {
		c.log.Error("MQTT subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		c.log.Error("MQTT subscribe failed: %v", err)
	}
}

// IsConnected reports the broker connection state
func (c *PahoClient) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Disconnect closes the broker connection gracefully
func (c *PahoClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(c.cfg.DisconnectTimeout)
	}
}

// newTLSConfig creates a TLS configuration from MQTT config
func newTLSConfig(cfg *config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkip, // #nosec G402 - configurable for testing environments
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

var _ Client = (*PahoClient)(nil)
