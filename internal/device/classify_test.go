package device

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		deviceID     string
		topic        string
		wantCategory Category
		wantUnit     string
	}{
		{
			name:         "dht sensor",
			deviceID:     "dht11",
			topic:        "luixxa/dht11",
			wantCategory: CategoryTemperature,
			wantUnit:     "°C",
		},
		{
			name:         "temp in topic",
			deviceID:     "greenhouse-1",
			topic:        "luixxa/temp/greenhouse-1",
			wantCategory: CategoryTemperature,
			wantUnit:     "°C",
		},
		{
			name:         "humidity sensor",
			deviceID:     "humedad-1",
			topic:        "luixxa/humedad-1",
			wantCategory: CategoryHumidity,
			wantUnit:     "%",
		},
		{
			name:         "soil moisture spanish",
			deviceID:     "sensor-suelo",
			topic:        "luixxa/sensor-suelo",
			wantCategory: CategorySoilMoisture,
			wantUnit:     "%",
		},
		{
			name:         "soil moisture english",
			deviceID:     "soil-probe-2",
			topic:        "luixxa/soil-probe-2",
			wantCategory: CategorySoilMoisture,
			wantUnit:     "%",
		},
		{
			name:         "pump spanish",
			deviceID:     "bomba",
			topic:        "luixxa/bomba",
			wantCategory: CategoryPump,
			wantUnit:     "",
		},
		{
			name:         "pump english",
			deviceID:     "water-pump",
			topic:        "luixxa/water-pump",
			wantCategory: CategoryPump,
			wantUnit:     "",
		},
		{
			name:         "unknown falls back to generic",
			deviceID:     "node42",
			topic:        "luixxa/node42",
			wantCategory: CategoryGeneric,
			wantUnit:     "",
		},
		{
			name:         "case insensitive",
			deviceID:     "DHT22",
			topic:        "luixxa/DHT22",
			wantCategory: CategoryTemperature,
			wantUnit:     "°C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, unit := Classify(tt.deviceID, tt.topic)
			if category != tt.wantCategory {
				t.Errorf("Classify() category = %v, want %v", category, tt.wantCategory)
			}
			if unit != tt.wantUnit {
				t.Errorf("Classify() unit = %q, want %q", unit, tt.wantUnit)
			}
		})
	}
}

func TestCategoryIsValid(t *testing.T) {
	for _, c := range ValidCategories {
		if !c.IsValid() {
			t.Errorf("IsValid() = false for %v", c)
		}
	}
	if Category("voltage").IsValid() {
		t.Error("IsValid() = true for unknown category")
	}
}
