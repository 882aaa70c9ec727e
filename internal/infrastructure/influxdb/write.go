package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading mirrors a persisted sensor reading to InfluxDB.
//
// This is called by the ingestion pipeline after the reading has been
// committed to SQLite. The write is non-blocking; data is batched and
// sent asynchronously. A disconnected client silently drops the point.
//
// Parameters:
//   - deviceID: Identifier of the device the reading belongs to
//   - category: Device category (e.g., "temperature", "soil_moisture")
//   - value: The numeric value to record
//   - timestamp: When the reading was received
//
// Example:
//
//	client.WriteReading("dht11", "temperature", 25.5, reading.CreatedAt)
func (c *Client) WriteReading(deviceID string, category string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"readings",
		map[string]string{
			"device_id": deviceID,
			"category":  category,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteAlertEvent records a threshold violation as a time-series event.
//
// Called by the alert notifier after the violation row is persisted, so
// dashboards can overlay alerts on the reading series.
//
// Parameters:
//   - deviceID: Device that violated its configured bound
//   - kind: Which bound was violated ("min" or "max")
//   - observed: The out-of-range value
//   - bound: The configured bound that was crossed
func (c *Client) WriteAlertEvent(deviceID string, kind string, observed float64, bound float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"alerts",
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		map[string]interface{}{
			"observed": observed,
			"bound":    bound,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
