package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agrisense/agrisense-core/internal/infrastructure/config"
	"github.com/agrisense/agrisense-core/internal/infrastructure/mqtt"
)

// MessageHandler processes one inbound MQTT message. It is invoked by
// the connection's single consumer goroutine, so calls for one broker
// arrive in subscription order; different brokers run concurrently.
type MessageHandler func(ctx context.Context, brokerID, topic string, payload []byte)

// StatusSink receives broker connection state changes, forwarded to
// live clients as brokerStatus events.
type StatusSink interface {
	EmitBrokerStatus(s Status)
}

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// session is the subset of the MQTT client the manager uses.
// Abstracted so tests can substitute a fake endpoint. Connection state
// callbacks are registered at dial time through mqtt.Options.
type session interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	SetLogger(logger mqtt.Logger)
	Close() error
}

// dialFunc opens a session against one broker endpoint.
type dialFunc func(opts mqtt.Options) (session, error)

// inboundMessage is one message queued for the consumer goroutine.
type inboundMessage struct {
	topic   string
	payload []byte
}

// conn is one live broker connection: a session, its bounded inbound
// queue, and the single consumer goroutine draining it. The handler
// context is captured at creation so the consumer never reads shared
// manager state.
type conn struct {
	broker  Broker
	ctx     context.Context
	sess    session
	inbound chan inboundMessage
	done    chan struct{}
	closing sync.Once
}

// Manager owns every broker connection. The connection map is guarded
// by a mutex and never leaves this type; all lifecycle transitions go
// through Connect/Disconnect/Close.
type Manager struct {
	cfg       config.MQTTConfig
	queueSize int
	repo      Repository
	handler   MessageHandler
	status    StatusSink
	logger    Logger
	dial      dialFunc

	mu        sync.Mutex
	conns     map[string]*conn
	defaultID string
	closed    bool

	// runCtx is set by Start and captured into each conn at Connect
	// time, so consumer goroutines never read it through the manager.
	runCtx context.Context
}

// NewManager creates a connection manager.
//
// Parameters:
//   - cfg: MQTT configuration (default endpoint, QoS, base topic)
//   - queueSize: Per-connection inbound queue capacity
//   - repo: Broker registry persistence
//   - handler: Invoked for every inbound message
func NewManager(cfg config.MQTTConfig, queueSize int, repo Repository, handler MessageHandler) *Manager {
	return &Manager{
		cfg:       cfg,
		queueSize: queueSize,
		repo:      repo,
		handler:   handler,
		logger:    noopLogger{},
		runCtx:    context.Background(),
		conns:     make(map[string]*conn),
		dial: func(opts mqtt.Options) (session, error) {
			return mqtt.Connect(opts)
		},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetStatusSink sets the sink for brokerStatus events.
// Must be called before Start.
func (m *Manager) SetStatusSink(sink StatusSink) {
	m.status = sink
}

// Start seeds the built-in default broker from config, connects it, and
// then connects every other active broker in the registry.
//
// Transport faults are never fatal: an unreachable endpoint keeps
// dialling in the background, and a broker whose session cannot even be
// created is logged and skipped. Start only fails when the registry
// itself cannot be read or seeded.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	builtIn := &Broker{
		Name:     "default",
		Host:     m.cfg.Broker.Host,
		Port:     m.cfg.Broker.Port,
		TLS:      m.cfg.Broker.TLS,
		Username: m.cfg.Auth.Username,
		Password: m.cfg.Auth.Password,
		Topics: []string{
			m.cfg.BaseTopic,
			m.cfg.BaseTopic + "/#",
		},
	}
	if err := m.repo.UpsertBuiltIn(ctx, builtIn); err != nil {
		return fmt.Errorf("seeding default broker: %w", err)
	}

	m.mu.Lock()
	m.defaultID = builtIn.ID
	m.mu.Unlock()

	if err := m.Connect(ctx, builtIn); err != nil {
		m.logger.Warn("default broker connect failed, will retry on next registry update",
			"broker_id", builtIn.ID,
			"host", builtIn.Host,
			"port", builtIn.Port,
			"error", err,
		)
	}

	others, err := m.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active brokers: %w", err)
	}
	for i := range others {
		b := others[i]
		if b.ID == builtIn.ID {
			continue
		}
		if err := m.Connect(ctx, &b); err != nil {
			m.logger.Warn("broker connect failed, skipping",
				"broker_id", b.ID,
				"name", b.Name,
				"error", err,
			)
		}
	}

	return nil
}

// Connect establishes (or re-establishes) the connection for a broker.
//
// Idempotent: an existing connection for the same broker ID is closed
// and superseded, so a registry update simply calls Connect again.
func (m *Manager) Connect(ctx context.Context, b *Broker) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	isDefault := b.ID == m.defaultID
	runCtx := m.runCtx
	m.mu.Unlock()

	// Status callbacks outlive the dial, so they close over their own
	// copy of the broker rather than the caller's pointer.
	bcopy := b.DeepCopy()

	opts := mqtt.Options{
		Host:         b.Host,
		Port:         b.Port,
		TLS:          b.TLS,
		ClientID:     m.clientID(b, isDefault),
		Username:     b.Username,
		Password:     b.Password,
		QoS:          byte(m.cfg.QoS),
		InitialDelay: m.cfg.Reconnect.InitialDelay,
		MaxDelay:     m.cfg.Reconnect.MaxDelay,
		OnConnect: func() {
			m.logger.Info("broker connected",
				"broker_id", bcopy.ID,
				"name", bcopy.Name,
			)
			m.emitStatus(*bcopy, true)
		},
		OnDisconnect: func(err error) {
			m.logger.Warn("broker connection lost",
				"broker_id", bcopy.ID,
				"name", bcopy.Name,
				"error", err,
			)
			m.emitStatus(*bcopy, false)
		},
	}
	if isDefault {
		// Retained presence for the service itself, with LWT on crash.
		opts.StatusTopic = m.cfg.BaseTopic + "/system/status"
	}

	sess, err := m.dial(opts)
	if err != nil {
		return err
	}
	sess.SetLogger(m.logger)

	c := &conn{
		broker:  *bcopy,
		ctx:     runCtx,
		sess:    sess,
		inbound: make(chan inboundMessage, m.queueSize),
		done:    make(chan struct{}),
	}

	for _, topic := range b.Topics {
		if err := sess.Subscribe(topic, byte(m.cfg.QoS), c.enqueue); err != nil {
			sess.Close()
			return fmt.Errorf("subscribing %q on %s: %w", topic, b.Name, err)
		}
	}

	go m.consume(c)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.close()
		return ErrManagerClosed
	}
	superseded := m.conns[b.ID]
	m.conns[b.ID] = c
	m.mu.Unlock()

	if superseded != nil {
		superseded.close()
	}

	m.logger.Info("broker session opened",
		"broker_id", b.ID,
		"name", b.Name,
		"host", b.Host,
		"port", b.Port,
		"topics", len(b.Topics),
	)

	return nil
}

// Disconnect closes the connection for a broker. No-op if absent.
func (m *Manager) Disconnect(brokerID string) {
	m.mu.Lock()
	c, ok := m.conns[brokerID]
	delete(m.conns, brokerID)
	m.mu.Unlock()

	if !ok {
		return
	}

	c.close()
	m.logger.Info("broker disconnected", "broker_id", brokerID, "name", c.broker.Name)
	m.emitStatus(c.broker, false)
}

// Publish sends a payload to a topic on the default broker.
//
// Returns true when the broker acknowledged the publish. A missing or
// disconnected default session yields false; Publish never panics and
// never blocks beyond the publish timeout.
func (m *Manager) Publish(topic string, payload []byte) bool {
	m.mu.Lock()
	c, ok := m.conns[m.defaultID]
	m.mu.Unlock()

	if !ok {
		return false
	}

	if err := c.sess.Publish(topic, payload, byte(m.cfg.QoS), false); err != nil {
		m.logger.Warn("publish failed",
			"topic", topic,
			"error", err,
		)
		return false
	}
	return true
}

// IsConnected reports whether the broker's session is currently up.
func (m *Manager) IsConnected(brokerID string) bool {
	m.mu.Lock()
	c, ok := m.conns[brokerID]
	m.mu.Unlock()

	return ok && c.sess.IsConnected()
}

// DefaultBrokerID returns the ID of the built-in default broker.
// Empty before Start.
func (m *Manager) DefaultBrokerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultID
}

// Close disconnects every broker and rejects further operations.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	m.logger.Info("connection manager closed", "connections", len(conns))
}

// consume drains one connection's inbound queue in order.
func (m *Manager) consume(c *conn) {
	for {
		select {
		case msg := <-c.inbound:
			m.handler(c.ctx, c.broker.ID, msg.topic, msg.payload)
		case <-c.done:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case msg := <-c.inbound:
					m.handler(c.ctx, c.broker.ID, msg.topic, msg.payload)
				default:
					return
				}
			}
		}
	}
}

// emitStatus forwards a connection state change to the status sink.
func (m *Manager) emitStatus(b Broker, connected bool) {
	if m.status == nil {
		return
	}
	state := StatusDisconnected
	if connected {
		state = StatusConnected
	}
	m.status.EmitBrokerStatus(Status{
		BrokerID:  b.ID,
		Name:      b.Name,
		Status:    state,
		Timestamp: time.Now().UTC(),
	})
}

// clientID derives a unique MQTT client identifier per session.
func (m *Manager) clientID(b *Broker, isDefault bool) string {
	if isDefault {
		return m.cfg.Broker.ClientID
	}
	return fmt.Sprintf("%s-%s", m.cfg.Broker.ClientID, b.Name)
}

// enqueue is the subscription handler: a blocking send into the bounded
// queue. paho delivers messages for one session in order, so blocking
// here preserves per-connection ordering while bounding memory.
func (c *conn) enqueue(topic string, payload []byte) error {
	select {
	case c.inbound <- inboundMessage{topic: topic, payload: payload}:
		return nil
	case <-c.done:
		return nil
	}
}

// close shuts the connection down exactly once.
func (c *conn) close() {
	c.closing.Do(func() {
		close(c.done)
		c.sess.Close()
	})
}
