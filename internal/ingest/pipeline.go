package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agrisense/agrisense-core/internal/alert"
	"github.com/agrisense/agrisense-core/internal/device"
	"github.com/agrisense/agrisense-core/internal/reading"
)

// ReadingEvent is pushed to live clients after a reading is durably
// written.
type ReadingEvent struct {
	Device  device.Device   `json:"device"`
	Reading reading.Reading `json:"reading"`
}

// Presence states carried by sensorStatus events.
const (
	SensorOnline  = "online"
	SensorOffline = "offline"
)

// SensorStatusEvent reports a device presence transition.
type SensorStatusEvent struct {
	DeviceID  string     `json:"deviceId"`
	Status    string     `json:"status"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Broadcaster pushes pipeline events to connected live clients.
// Satisfied by the API hub; a nil broadcaster disables the push.
type Broadcaster interface {
	EmitReading(ev ReadingEvent)
	EmitSensorStatus(ev SensorStatusEvent)
}

// Mirror receives numeric readings for time-series dashboarding.
// Satisfied by the InfluxDB client; a nil mirror disables mirroring.
type Mirror interface {
	WriteReading(deviceID string, category string, value float64, timestamp time.Time)
}

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats are the pipeline's lifetime counters.
type Stats struct {
	Processed   uint64 `json:"processed"`
	Persisted   uint64 `json:"persisted"`
	Failed      uint64 `json:"failed"`
	Unparseable uint64 `json:"unparseable"`
}

// Pipeline turns raw MQTT messages into durable readings and live
// events. One Handle call processes one message; the connection
// manager guarantees per-broker ordering by calling Handle from a
// single goroutine per connection.
type Pipeline struct {
	directory   *device.Directory
	readings    reading.Repository
	notifier    alert.Notifier
	broadcaster Broadcaster
	mirror      Mirror
	logger      Logger

	// controlTopic carries our own outbound commands; inbound copies of
	// it are not sensor data and are skipped.
	controlTopic string

	processed   atomic.Uint64
	persisted   atomic.Uint64
	failed      atomic.Uint64
	unparseable atomic.Uint64
}

// NewPipeline creates the ingestion pipeline.
//
// notifier, broadcaster, and mirror may each be nil to disable that
// stage; the durable write path never depends on them.
func NewPipeline(directory *device.Directory, readings reading.Repository, controlTopic string) *Pipeline {
	return &Pipeline{
		directory:    directory,
		readings:     readings,
		controlTopic: controlTopic,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// SetNotifier sets the threshold violation notifier.
func (p *Pipeline) SetNotifier(notifier alert.Notifier) {
	p.notifier = notifier
}

// SetBroadcaster sets the live event sink.
func (p *Pipeline) SetBroadcaster(broadcaster Broadcaster) {
	p.broadcaster = broadcaster
}

// SetMirror sets the time-series mirror.
func (p *Pipeline) SetMirror(mirror Mirror) {
	p.mirror = mirror
}

// Handle processes one inbound message end to end:
// normalise, ensure the device exists, persist the reading, update the
// device's last value, broadcast, evaluate thresholds, mirror.
//
// The reading insert is load-bearing: if it fails the message is
// dropped (logged and counted) and nothing is broadcast. Every stage
// after the insert is best-effort and cannot fail the message.
func (p *Pipeline) Handle(ctx context.Context, brokerID, topic string, payload []byte) {
	if topic == p.controlTopic {
		p.logger.Debug("skipping control topic echo", "topic", topic)
		return
	}

	p.processed.Add(1)

	res := Normalize(topic, payload)
	if res.Kind == KindUnparseable {
		p.unparseable.Add(1)
	}

	dev, err := p.directory.Ensure(ctx, res.DeviceID, topic)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("device ensure failed",
			"device_id", res.DeviceID,
			"topic", topic,
			"error", err,
		)
		return
	}

	r := reading.Reading{
		DeviceID:     dev.ID,
		Temperature:  res.Temperature,
		Humidity:     res.Humidity,
		SoilMoisture: res.SoilMoisture,
		Value:        res.Value,
		PumpOn:       res.PumpOn,
		RecordedAt:   time.Now().UTC(),
	}

	// Load-bearing write: no durable row, no downstream effects.
	if err := p.readings.Insert(ctx, &r); err != nil {
		p.failed.Add(1)
		p.logger.Error("reading insert failed",
			"device_id", dev.ID,
			"broker_id", brokerID,
			"error", err,
		)
		return
	}
	p.persisted.Add(1)

	// Best-effort last-value cache; the reading row is already safe.
	if scalar := r.Scalar(); scalar != nil {
		if err := p.directory.SetLastValue(ctx, dev.ID, *scalar, r.RecordedAt); err != nil {
			p.logger.Warn("device last value update failed",
				"device_id", dev.ID,
				"error", err,
			)
		} else {
			dev.LastValue = scalar
			seenAt := r.RecordedAt
			dev.LastSeen = &seenAt
		}
	}

	// Broadcast strictly after the durable write.
	if p.broadcaster != nil {
		p.broadcaster.EmitReading(ReadingEvent{Device: *dev, Reading: r})
	}

	p.evaluateThresholds(ctx, dev, &r)

	if p.mirror != nil {
		if scalar := r.Scalar(); scalar != nil {
			p.mirror.WriteReading(dev.ID, string(dev.Category), *scalar, r.RecordedAt)
		}
	}
}

// evaluateThresholds raises one notification per violated bound.
// Notification failures are logged and swallowed.
func (p *Pipeline) evaluateThresholds(ctx context.Context, dev *device.Device, r *reading.Reading) {
	if p.notifier == nil {
		return
	}

	for _, v := range alert.Evaluate(r.Scalar(), dev.MinValue, dev.MaxValue) {
		if err := p.notifier.NotifyOutOfRange(ctx, dev.ID, v.Observed, v.Bound, v.Kind); err != nil {
			p.logger.Warn("alert notification failed",
				"device_id", dev.ID,
				"kind", v.Kind,
				"error", err,
			)
		}
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:   p.processed.Load(),
		Persisted:   p.persisted.Load(),
		Failed:      p.failed.Load(),
		Unparseable: p.unparseable.Load(),
	}
}
