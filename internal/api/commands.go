package api

import (
	"encoding/json"
	"net/http"
	"unicode"
)

// maxCommandLength bounds outbound command strings. The firmware's
// commands (SISTEMA_ON, SISTEMA_OFF, BOMBA_ON, BOMBA_OFF) are far
// shorter; the headroom allows zone-addressed variants without a
// service change.
const maxCommandLength = 64

// commandRequest is the payload for POST /commands.
type commandRequest struct {
	Command string `json:"command"`
}

// commandResponse reports whether the command reached the broker.
type commandResponse struct {
	Command string `json:"command"`
	Sent    bool   `json:"sent"`
}

// handleCommand publishes an actuator command to the control topic of
// the default broker. Delivery is reported, never guaranteed: a
// disconnected broker yields sent=false with a 200 response.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if !validCommand(req.Command) {
		writeBadRequest(w, "command must be a short printable string")
		return
	}

	sent := false
	if s.manager != nil {
		sent = s.manager.Publish(s.controlTopic, []byte(req.Command))
	}

	if !sent {
		s.logger.Warn("command not delivered", "command", req.Command)
	}

	writeJSON(w, http.StatusOK, commandResponse{Command: req.Command, Sent: sent})
}

// validCommand accepts short printable ASCII strings. The firmware
// defines the actual command vocabulary; the service only keeps control
// characters and oversized payloads off the control topic.
func validCommand(cmd string) bool {
	if cmd == "" || len(cmd) > maxCommandLength {
		return false
	}
	for _, r := range cmd {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
