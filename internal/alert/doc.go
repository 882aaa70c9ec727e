// Package alert evaluates readings against per-device bounds and
// records violations.
//
// Evaluate is pure: it compares a reading's scalar with the device's
// MinValue/MaxValue and returns one violation per crossed bound, with
// no deduplication between readings. The Notifier interface decouples
// delivery; the default Log notifier writes an alert row to SQLite and
// pushes an `alert` event to live WebSocket clients.
package alert
