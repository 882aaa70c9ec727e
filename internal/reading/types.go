package reading

import "time"

// Reading is one ingested sensor message, persisted append-only.
// Fields are pointers because a message may carry any subset of them;
// a reading with no recognised fields is still persisted for audit.
type Reading struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`

	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	SoilMoisture *float64 `json:"soil_moisture,omitempty"`
	Value        *float64 `json:"value,omitempty"`
	PumpOn       *bool    `json:"pump_on,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}

// Scalar returns the single representative value of the reading using
// the fixed precedence temperature, humidity, soil moisture, generic
// value. Returns nil when the reading carries no numeric field.
func (r *Reading) Scalar() *float64 {
	switch {
	case r.Temperature != nil:
		return r.Temperature
	case r.Humidity != nil:
		return r.Humidity
	case r.SoilMoisture != nil:
		return r.SoilMoisture
	case r.Value != nil:
		return r.Value
	default:
		return nil
	}
}
