// Package influxdb provides an optional time-series mirror for sensor
// readings using the InfluxDB v2 client.
//
// The ingestion pipeline calls WriteReading after a reading is committed
// to SQLite. Writes are non-blocking and batched; failures surface via
// the SetOnError callback and never affect ingestion. When the mirror is
// disabled in config, Connect returns ErrDisabled and the caller runs
// without it.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off, ingestion continues against SQLite only
//	}
package influxdb
