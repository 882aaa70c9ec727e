// Package database provides SQLite connectivity for AgriSense Core.
//
// This package manages:
//   - Connection lifecycle with WAL mode and busy timeout
//   - Embedded schema migrations (applied at startup)
//   - Health checks
//
// SQLite is the system of record for brokers, devices, readings, and
// alerts. The optional InfluxDB mirror carries only derived telemetry.
package database
