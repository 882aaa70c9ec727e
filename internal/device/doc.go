// Package device provides the device directory for AgriSense Core.
//
// Devices are never pre-provisioned: the first message on a topic
// registers the device (create-on-first-sight), classified from the
// identifier and topic into one of temperature, humidity, soil_moisture,
// pump, or generic. The Directory wraps a SQLite-backed Repository with
// an in-memory cache so the per-message hot path rarely touches the
// database.
//
// Alert bounds (MinValue/MaxValue) are editable over REST and consumed
// by the threshold alerter.
package device
