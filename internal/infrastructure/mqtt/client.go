package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client wraps paho.mqtt.golang with AgriSense-specific functionality.
//
// Each Client represents one session against one broker endpoint. The
// broker manager holds one Client per registered broker; there is no
// process-wide singleton.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	opts    Options

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events, fixed at dial time from Options.
	onConnect    func()
	onDisconnect func(err error)

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a session against the broker endpoint described
// by opts.
//
// It performs the following setup:
//  1. Builds connection options (broker URL, auth, TLS)
//  2. Configures Last Will and Testament if a status topic is set
//  3. Sets up auto-reconnect with exponential backoff
//  4. Starts the initial connection attempt
//  5. Publishes retained online status once connected (if a status topic is set)
//
// An endpoint that is down right now is not an error: the session is
// returned disconnected and the connect retry loop keeps dialling in
// the background. Subscriptions made in the meantime are registered on
// the broker when the connection comes up. Only a terminal failure
// (rejected CONNECT, invalid options) is returned.
//
// Parameters:
//   - opts: Endpoint description (host, port, credentials, QoS, backoff)
//
// Returns:
//   - *Client: Session, connected or still dialling in the background
//   - error: If the connection attempt failed terminally
func Connect(opts Options) (*Client, error) {
	pahoOpts := buildClientOptions(opts)
	configureLWT(pahoOpts, opts)

	c := &Client{
		opts:          opts,
		options:       pahoOpts,
		onConnect:     opts.OnConnect,
		onDisconnect:  opts.OnDisconnect,
		subscriptions: make(map[string]subscription),
	}

	pahoOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	token := c.client.Connect()
	if token.WaitTimeout(defaultConnectTimeout) {
		if err := token.Error(); err != nil {
			// Terminal failure. Stop the retry loop before reporting it
			// so no dialler goroutine outlives the failed session.
			c.client.Disconnect(0)
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}

		// Set connected state immediately after successful connection.
		// The OnConnectHandler callback runs asynchronously and may not
		// have executed yet, so we set it here to ensure IsConnected()
		// returns true. The callback will handle subscription
		// restoration and status publishing.
		c.connMu.Lock()
		c.connected = true
		c.connMu.Unlock()
	}

	return c, nil
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	if c.onConnect != nil {
		c.onConnect()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Re-subscribe (ignore errors during reconnection)
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishOnlineStatus publishes a retained online status if a status
// topic is configured.
func (c *Client) publishOnlineStatus() {
	if c.opts.StatusTopic == "" {
		return
	}
	payload := buildOnlinePayload(c.opts.ClientID)
	c.client.Publish(c.opts.StatusTopic, c.opts.QoS, true, payload)
}

// Close gracefully disconnects from the MQTT broker.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Waits for pending publish operations
//  3. Disconnects from broker
//
// Returns:
//   - error: If disconnect fails (connection already closed is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() && c.opts.StatusTopic != "" {
		payload := buildOfflinePayload(c.opts.ClientID)
		token := c.client.Publish(c.opts.StatusTopic, c.opts.QoS, true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	// Disconnect with quiesce period for pending operations
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which can perform an active test.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
