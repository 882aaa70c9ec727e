// Package logging provides structured logging for AgriSense Core.
//
// It wraps log/slog with config-driven level, format, and output
// selection, and stamps every record with the service name and version.
// Components derive child loggers with With("component", ...).
package logging
