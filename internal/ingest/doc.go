// Package ingest turns raw MQTT payloads into durable readings.
//
// The Pipeline is the per-message path: normalise the payload, ensure
// the sending device exists (create-on-first-sight), persist the
// reading, then fan out best-effort side effects (last-value cache,
// live broadcast, threshold alerts, time-series mirror). Only the
// reading insert can fail a message; everything after it degrades
// gracefully.
//
// Payloads arrive in three shapes, tried in order: a JSON object with
// the firmware's field names, a comma-separated key:value fallback, or
// garbage. Garbage still produces a persisted (empty) reading, so the
// message rate remains observable even when a sensor misbehaves.
//
// The Sweeper runs beside the pipeline: it reports devices going
// offline or recovering, and prunes readings past the retention window.
package ingest
