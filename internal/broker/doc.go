// Package broker provides the MQTT broker registry and the connection
// manager that owns every live session.
//
// The registry is a SQLite-backed CRUD surface. The default endpoint
// from config is seeded at startup as a built-in, non-deletable row, so
// the REST API presents exactly one model of "a broker" whether it came
// from config or from an admin.
//
// The Manager holds one connection per active broker. Each connection
// pairs an MQTT session with a bounded inbound queue drained by a
// single goroutine: messages from one broker are processed strictly in
// arrival order, while different brokers proceed concurrently. The
// connection map never escapes the Manager; lifecycle changes go
// through Connect, Disconnect, and Close.
package broker
