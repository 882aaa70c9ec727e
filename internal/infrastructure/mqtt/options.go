package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes a single broker endpoint. The broker manager builds
// one Options value per registered broker; the default values in each
// field are deliberately zero so callers must be explicit.
type Options struct {
	// Host is the broker hostname or IP address.
	Host string

	// Port is the broker TCP port (typically 1883, or 8883 for TLS).
	Port int

	// TLS enables an encrypted connection (ssl:// scheme).
	TLS bool

	// ClientID identifies this session to the broker. Must be unique per
	// session or the broker will drop the older connection.
	ClientID string

	// Username and Password are optional broker credentials.
	Username string
	Password string

	// QoS is the default Quality of Service for status publishes.
	QoS byte

	// InitialDelay and MaxDelay bound the reconnect backoff, in seconds.
	InitialDelay int
	MaxDelay     int

	// StatusTopic, when set, receives retained online/offline status
	// messages and is registered as the Last Will topic. Empty disables
	// status publishing entirely.
	StatusTopic string

	// OnConnect, when set, is invoked after every successful connection,
	// including reconnects, once subscriptions have been restored. It is
	// registered before the dial so the first connection is never missed.
	OnConnect func()

	// OnDisconnect, when set, is invoked whenever an established
	// connection is lost. The error describes why.
	OnDisconnect func(err error)
}

// BrokerURL returns the paho broker URL for these options.
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// buildClientOptions creates paho MQTT options from endpoint options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(o.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(o.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The LWT message is published by the broker if the client disconnects
// unexpectedly (crash, network failure, etc.). This allows dashboards
// and other services to detect when the ingestion core goes offline.
//
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, o Options) {
	if o.StatusTopic == "" {
		return
	}
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		o.ClientID,
		time.Now().UTC().Format(time.RFC3339),
	)

	opts.SetWill(o.StatusTopic, willPayload, 1, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
