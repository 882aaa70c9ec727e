package ingest

import (
	"context"
	"time"

	"github.com/agrisense/agrisense-core/internal/device"
	"github.com/agrisense/agrisense-core/internal/reading"
)

// Sweeper periodically walks the device directory, reports presence
// transitions, and prunes old readings.
//
// A device is offline when its last reading is older than the staleness
// window; it comes back online when a fresh reading moves its last-seen
// timestamp forward. Devices that have never reported are neither.
type Sweeper struct {
	directory   *device.Directory
	readings    reading.Repository
	broadcaster Broadcaster
	logger      Logger

	window    time.Duration
	interval  time.Duration
	retention time.Duration

	// offline remembers which devices were last reported offline, so a
	// sweep only emits transitions, not steady state.
	offline map[string]bool
}

// NewSweeper creates a presence sweeper.
//
// window is the staleness threshold; a zero window disables presence
// sweeps. retention is how long readings are kept; zero keeps them
// forever. broadcaster may be nil.
func NewSweeper(directory *device.Directory, readings reading.Repository, window, retention time.Duration) *Sweeper {
	interval := window / 2
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{
		directory: directory,
		readings:  readings,
		window:    window,
		interval:  interval,
		retention: retention,
		offline:   make(map[string]bool),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the sweeper.
func (s *Sweeper) SetLogger(logger Logger) {
	s.logger = logger
}

// SetBroadcaster sets the live event sink for sensorStatus events.
func (s *Sweeper) SetBroadcaster(broadcaster Broadcaster) {
	s.broadcaster = broadcaster
}

// Run sweeps until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	if s.window <= 0 {
		s.logger.Info("presence sweeps disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Daily is plenty for retention; tracked separately from the much
	// shorter presence cadence.
	var lastPrune time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
			if s.retention > 0 && now.Sub(lastPrune) >= 24*time.Hour {
				s.prune(ctx, now)
				lastPrune = now
			}
		}
	}
}

// Sweep performs a single presence pass at the given instant.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	stale := make(map[string]bool)
	for _, d := range s.directory.Stale(now, s.window) {
		stale[d.ID] = true
		if s.offline[d.ID] {
			continue
		}
		s.offline[d.ID] = true
		s.logger.Warn("device went offline",
			"device_id", d.ID,
			"last_seen", d.LastSeen,
		)
		s.emit(d.ID, SensorOffline, d.LastSeen, now)
	}

	// Recovered devices: previously offline, no longer stale.
	for id := range s.offline {
		if stale[id] {
			continue
		}
		delete(s.offline, id)

		d, err := s.directory.Get(ctx, id)
		if err != nil {
			continue
		}
		s.logger.Info("device back online", "device_id", id)
		s.emit(id, SensorOnline, d.LastSeen, now)
	}
}

func (s *Sweeper) emit(deviceID, status string, lastSeen *time.Time, now time.Time) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.EmitSensorStatus(SensorStatusEvent{
		DeviceID:  deviceID,
		Status:    status,
		LastSeen:  lastSeen,
		Timestamp: now,
	})
}

// prune deletes readings older than the retention window.
func (s *Sweeper) prune(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention)
	deleted, err := s.readings.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("reading prune failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned old readings", "deleted", deleted, "cutoff", cutoff)
	}
}
