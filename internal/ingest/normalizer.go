package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind classifies how much of a payload could be understood.
type Kind string

// Parse result kinds.
const (
	// KindStructured means the payload was a JSON object.
	KindStructured Kind = "structured"

	// KindPartial means the key:value fallback grammar (or a bare number)
	// yielded at least one field.
	KindPartial Kind = "partial"

	// KindUnparseable means nothing could be extracted. The message is
	// still persisted as an empty reading.
	KindUnparseable Kind = "unparseable"
)

// ParseResult is the outcome of normalising one raw payload. Field
// pointers are nil when the payload did not carry that measurement.
type ParseResult struct {
	Kind Kind

	Temperature  *float64
	Humidity     *float64
	SoilMoisture *float64
	Value        *float64
	PumpOn       *bool

	// DeviceID comes from the payload's deviceId when present, otherwise
	// the last topic segment.
	DeviceID string
}

// Normalize parses a raw MQTT payload into a ParseResult.
//
// Three grammars are tried in order:
//  1. JSON object with the field names the firmware emits
//     (temperatura, humedad_aire, humedad_suelo, humedad_suelo_adc,
//     bomba_estado, value, deviceId)
//  2. Comma-separated key:value pairs, keys matched case-insensitively
//     by prefix (temp* for temperature, hum* for humidity); a bare
//     numeric payload becomes the generic value
//  3. Nothing: the result is KindUnparseable with every field nil
//
// Normalize never returns an error; garbage in produces an unparseable
// result, not a failure.
//
// Parameters:
//   - topic: The topic the message arrived on (device ID fallback)
//   - payload: Raw message bytes
//
// Returns:
//   - ParseResult: Parsed fields, kind, and resolved device ID
func Normalize(topic string, payload []byte) ParseResult {
	res := ParseResult{Kind: KindUnparseable}

	trimmed := strings.TrimSpace(string(payload))

	if obj, ok := parseJSONObject(trimmed); ok {
		res.Kind = KindStructured
		res.Temperature = coerceFloat(obj["temperatura"])
		res.Humidity = coerceFloat(obj["humedad_aire"])
		res.SoilMoisture = coerceFloat(obj["humedad_suelo"])
		if res.SoilMoisture == nil {
			res.SoilMoisture = coerceFloat(obj["humedad_suelo_adc"])
		}
		res.Value = coerceFloat(obj["value"])
		res.PumpOn = coerceBool(obj["bomba_estado"])
		if id, ok := obj["deviceId"].(string); ok && id != "" {
			res.DeviceID = id
		}
	} else if fields, ok := parseKeyValue(trimmed); ok {
		res.Kind = KindPartial
		res.Temperature = fields.temperature
		res.Humidity = fields.humidity
		res.Value = fields.value
	}

	if res.DeviceID == "" {
		res.DeviceID = lastTopicSegment(topic)
	}

	return res
}

// parseJSONObject attempts to decode the payload as a JSON object.
// JSON scalars and arrays are rejected; they fall through to the
// key:value grammar.
func parseJSONObject(payload string) (map[string]any, bool) {
	if !strings.HasPrefix(payload, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// kvFields holds what the fallback grammar extracted.
type kvFields struct {
	temperature *float64
	humidity    *float64
	value       *float64
}

// parseKeyValue applies the comma-separated key:value fallback grammar.
// Unknown keys and malformed pairs are dropped; a payload that is just
// a number becomes the generic value. Returns ok=false when nothing
// was extracted.
func parseKeyValue(payload string) (kvFields, bool) {
	var fields kvFields

	// Bare numeric payload, e.g. "25.5"
	if v, err := strconv.ParseFloat(payload, 64); err == nil {
		fields.value = &v
		return fields, true
	}

	found := false
	for _, pair := range strings.Split(payload, ",") {
		key, rawValue, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
		if err != nil {
			continue
		}

		switch key := strings.ToLower(strings.TrimSpace(key)); {
		case strings.HasPrefix(key, "temp"):
			fields.temperature = &value
			found = true
		case strings.HasPrefix(key, "hum"):
			fields.humidity = &value
			found = true
		}
	}

	return fields, found
}

// coerceFloat converts a JSON value to a float, accepting numbers and
// numeric strings. Anything else yields nil.
func coerceFloat(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return &f
		}
	}
	return nil
}

// coerceBool converts a JSON value to a pump state, accepting booleans,
// numbers (non-zero is on), and the strings "on"/"off"/"1"/"0"
// (case-insensitive). Anything else yields nil.
func coerceBool(v any) *bool {
	switch val := v.(type) {
	case bool:
		return &val
	case float64:
		b := val != 0
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "on", "1", "true":
			b := true
			return &b
		case "off", "0", "false":
			b := false
			return &b
		}
	}
	return nil
}

// lastTopicSegment returns the final segment of an MQTT topic.
func lastTopicSegment(topic string) string {
	if idx := strings.LastIndex(topic, "/"); idx >= 0 {
		return topic[idx+1:]
	}
	return topic
}
