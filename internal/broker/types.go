package broker

import "time"

// Broker is one registered MQTT endpoint. The default endpoint from
// config is pre-seeded at startup as a BuiltIn row; BuiltIn brokers
// cannot be deleted over the API.
type Broker struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Endpoint
	Host string `json:"host"`
	Port int    `json:"port"`
	TLS  bool   `json:"tls"`

	// Credentials. The password never leaves the service in API responses.
	Username string `json:"username,omitempty"`
	Password string `json:"-"`

	// Topics this broker's session subscribes to (stored as JSON).
	Topics []string `json:"topics"`

	Active  bool `json:"active"`
	BuiltIn bool `json:"built_in"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Broker.
func (b *Broker) DeepCopy() *Broker {
	if b == nil {
		return nil
	}

	cpy := *b
	if b.Topics != nil {
		cpy.Topics = make([]string, len(b.Topics))
		copy(cpy.Topics, b.Topics)
	}
	return &cpy
}

// Connection states carried by brokerStatus events.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Status describes a broker connection state change, forwarded to live
// clients as a brokerStatus event.
type Status struct {
	BrokerID  string    `json:"brokerId"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
