// Package api provides the HTTP REST API and WebSocket server for
// AgriSense Core.
//
// It exposes the broker registry, device directory, reading history,
// and alert log to user interfaces, accepts actuator commands, and
// pushes live events (readings, broker status, sensor presence,
// alerts) over WebSocket.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
