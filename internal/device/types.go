package device

import "time"

// Category classifies what a device measures or controls.
type Category string

// Device categories.
const (
	CategoryTemperature  Category = "temperature"
	CategoryHumidity     Category = "humidity"
	CategorySoilMoisture Category = "soil_moisture"
	CategoryPump         Category = "pump"
	CategoryGeneric      Category = "generic"
)

// ValidCategories lists every recognised category, generic last.
var ValidCategories = []Category{
	CategoryTemperature,
	CategoryHumidity,
	CategorySoilMoisture,
	CategoryPump,
	CategoryGeneric,
}

// IsValid reports whether the category is one of the recognised values.
func (c Category) IsValid() bool {
	for _, valid := range ValidCategories {
		if c == valid {
			return true
		}
	}
	return false
}

// Device represents a sensor or actuator known to the directory.
// Devices are created on first sight: the first message on a topic
// registers the device with a classified category and default unit.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Category Category `json:"category"`
	Topic    string   `json:"topic"`
	Unit     string   `json:"unit,omitempty"`

	// Last observed scalar (best-effort cache of the newest reading)
	LastValue *float64   `json:"last_value,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`

	// Alert bounds (nil means no bound configured)
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	Active bool `json:"active"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// Pointer fields are re-pointed at fresh values so modifications to
// the copy do not affect the original. This is essential for cache
// isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.LastValue != nil {
		v := *d.LastValue
		cpy.LastValue = &v
	}
	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}
	if d.MinValue != nil {
		v := *d.MinValue
		cpy.MinValue = &v
	}
	if d.MaxValue != nil {
		v := *d.MaxValue
		cpy.MaxValue = &v
	}

	return &cpy
}

// IsStale reports whether the device has not been heard from within
// the given window. Devices never seen are not considered stale; they
// simply have no presence to lose.
func (d *Device) IsStale(now time.Time, window time.Duration) bool {
	if d.LastSeen == nil {
		return false
	}
	return now.Sub(*d.LastSeen) > window
}
