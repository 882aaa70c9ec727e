package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agrisense/agrisense-core/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: false,
		URL:     "http://localhost:8086",
	}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestWritesDropWhenDisconnected(t *testing.T) {
	// A zero-value client is never connected; writes must be silent no-ops.
	c := &Client{}

	c.WriteReading("dht11", "temperature", 25.5, time.Now())
	c.WriteAlertEvent("dht11", "max", 45.0, 40.0)

	if c.IsConnected() {
		t.Error("IsConnected() = true for zero-value client")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{}

	err := c.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestFlushNeverConnected(t *testing.T) {
	c := &Client{}
	c.Flush() // must not panic
}
