package alert

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Broadcaster pushes alert events to connected live clients.
// Satisfied by the API hub; a nil broadcaster disables the push.
type Broadcaster interface {
	EmitAlert(a Alert)
}

// Mirror records alert events in the time-series store, alongside the
// readings that triggered them. Satisfied by the InfluxDB client; a nil
// mirror disables mirroring.
type Mirror interface {
	WriteAlertEvent(deviceID string, kind string, observed, bound float64)
}

// Logger is the minimal logging interface used by the Log notifier.
type Logger interface {
	Warn(msg string, args ...any)
}

// Log is the default Notifier: it persists each violation as an alert
// row, logs it, pushes it to live clients, and mirrors it to the
// time-series store when one is configured. Delivery is fire-and-forget
// from the pipeline's point of view.
type Log struct {
	repo        Repository
	broadcaster Broadcaster
	mirror      Mirror
	logger      Logger
}

// NewLog creates the default notifier.
// broadcaster may be nil (no live push); logger may be nil (silent).
func NewLog(repo Repository, broadcaster Broadcaster, logger Logger) *Log {
	return &Log{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// SetMirror sets the time-series mirror for alert events.
func (l *Log) SetMirror(mirror Mirror) {
	l.mirror = mirror
}

// NotifyOutOfRange records one threshold violation.
//
// The alert row is written first; the broadcast mirrors what was
// persisted. A failed insert is returned to the caller (which treats
// notification as best-effort) and nothing is broadcast.
func (l *Log) NotifyOutOfRange(ctx context.Context, deviceID string, observed, bound float64, kind BoundKind) error {
	a := Alert{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Observed: observed,
		Bound:    bound,
		Kind:     kind,
	}

	if err := l.repo.Insert(ctx, &a); err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}

	if l.logger != nil {
		l.logger.Warn("reading out of range",
			"device_id", deviceID,
			"observed", observed,
			"bound", bound,
			"kind", kind,
		)
	}

	if l.broadcaster != nil {
		l.broadcaster.EmitAlert(a)
	}

	if l.mirror != nil {
		l.mirror.WriteAlertEvent(deviceID, string(kind), observed, bound)
	}

	return nil
}
