package device

import "strings"

// classificationRule maps identifier substrings to a category and its
// default unit. Rules are checked in order, most specific first, so
// "dht11" lands on temperature before the generic fallback.
type classificationRule struct {
	substrings []string
	category   Category
	unit       string
}

// classificationRules is ordered most-specific-first. The topic and
// device identifier are matched case-insensitively against each rule's
// substrings; the first hit wins.
var classificationRules = []classificationRule{
	{substrings: []string{"dht", "temp"}, category: CategoryTemperature, unit: "°C"},
	{substrings: []string{"hum"}, category: CategoryHumidity, unit: "%"},
	{substrings: []string{"suelo", "soil"}, category: CategorySoilMoisture, unit: "%"},
	{substrings: []string{"bomba", "pump"}, category: CategoryPump, unit: ""},
}

// Classify derives a category and default unit from a device identifier
// and the topic it was first seen on.
//
// The heuristics mirror common agricultural sensor naming (Spanish and
// English): dht/temp for temperature sensors, hum for humidity, suelo or
// soil for moisture probes, bomba or pump for actuators. Anything
// unrecognised is registered as generic with no unit.
//
// Parameters:
//   - deviceID: Stable device identifier (payload deviceId or topic segment)
//   - topic: Full MQTT topic the first message arrived on
//
// Returns:
//   - Category: The classified category
//   - string: Default unit for the category ("" for pump/generic)
func Classify(deviceID, topic string) (Category, string) {
	haystack := strings.ToLower(deviceID + " " + topic)

	for _, rule := range classificationRules {
		for _, sub := range rule.substrings {
			if strings.Contains(haystack, sub) {
				return rule.category, rule.unit
			}
		}
	}

	return CategoryGeneric, ""
}
