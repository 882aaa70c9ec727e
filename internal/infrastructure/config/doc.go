// Package config loads and validates AgriSense Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by AGRISENSE_* environment variables. Secrets
// (MQTT credentials, InfluxDB token) should always come from the
// environment rather than the file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
