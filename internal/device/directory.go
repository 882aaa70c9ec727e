package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Directory.
// This allows different logging implementations to be used.
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

// Directory provides device management with create-on-first-sight
// semantics, caching, and thread safety. It wraps a Repository and adds
// an in-memory cache for fast lookups on the per-message hot path.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Directory struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewDirectory creates a new device directory.
// The repository is used for persistence; the directory adds caching.
func NewDirectory(repo Repository) *Directory {
	return &Directory{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (d *Directory) RefreshCache(ctx context.Context) error {
	devices, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	d.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		dev := devices[i]
		d.cache[dev.ID] = dev.DeepCopy()
	}

	d.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Ensure returns the device with the given ID, creating it on first
// sight. New devices are classified from the identifier and topic and
// registered active with a default unit.
//
// Concurrent first messages for the same device are safe: the insert
// uses ON CONFLICT DO NOTHING and the winning row is re-read, so both
// callers observe a single device.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - id: Stable device identifier
//   - topic: Topic the message arrived on (used for classification)
//
// Returns:
//   - *Device: The existing or newly created device (deep copy)
//   - error: If persistence fails
func (d *Directory) Ensure(ctx context.Context, id, topic string) (*Device, error) {
	// Fast path: cached device
	d.cacheMu.RLock()
	cached, ok := d.cache[id]
	d.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	// Known but not cached (e.g. created by another instance)
	existing, err := d.repo.GetByID(ctx, id)
	if err == nil {
		d.cacheMu.Lock()
		d.cache[id] = existing.DeepCopy()
		d.cacheMu.Unlock()
		return existing, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	// First sight: classify and register
	category, unit := Classify(id, topic)
	created := &Device{
		ID:       id,
		Name:     id,
		Category: category,
		Topic:    topic,
		Unit:     unit,
		Active:   true,
	}

	if err := d.repo.CreateIfAbsent(ctx, created); err != nil {
		return nil, err
	}

	// Re-read the winning row: under a concurrent first sight the insert
	// may have been a no-op and another caller's row is authoritative.
	winner, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	d.cacheMu.Lock()
	d.cache[id] = winner.DeepCopy()
	d.cacheMu.Unlock()

	d.logger.Info("device registered",
		"id", winner.ID,
		"category", winner.Category,
		"topic", topic,
	)
	return winner, nil
}

// Get retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (d *Directory) Get(ctx context.Context, id string) (*Device, error) {
	d.cacheMu.RLock()
	cached, ok := d.cache[id]
	d.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	d.cacheMu.Lock()
	d.cache[id] = device.DeepCopy()
	d.cacheMu.Unlock()

	return device, nil
}

// List retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (d *Directory) List(ctx context.Context) ([]Device, error) {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	// Return from cache if populated
	if len(d.cache) > 0 {
		devices := make([]Device, 0, len(d.cache))
		for _, dev := range d.cache {
			devices = append(devices, *dev.DeepCopy())
		}
		return devices, nil
	}

	return d.repo.List(ctx)
}

// Update persists changes to an existing device and refreshes the cache.
func (d *Directory) Update(ctx context.Context, device *Device) error {
	if !device.Category.IsValid() {
		return ErrInvalidCategory
	}

	if err := d.repo.Update(ctx, device); err != nil {
		return err
	}

	d.cacheMu.Lock()
	d.cache[device.ID] = device.DeepCopy()
	d.cacheMu.Unlock()

	d.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// Delete removes a device.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if err := d.repo.Delete(ctx, id); err != nil {
		return err
	}

	d.cacheMu.Lock()
	delete(d.cache, id)
	d.cacheMu.Unlock()

	d.logger.Info("device deleted", "id", id)
	return nil
}

// SetLastValue updates the last observed scalar of a device.
// Last write wins; this is called on every ingested message and is
// deliberately best-effort for callers (failures are theirs to log).
func (d *Directory) SetLastValue(ctx context.Context, id string, value float64, seenAt time.Time) error {
	if err := d.repo.SetLastValue(ctx, id, value, seenAt); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	d.cacheMu.Lock()
	if cached, ok := d.cache[id]; ok {
		updated := cached.DeepCopy()
		v := value
		t := seenAt.UTC()
		updated.LastValue = &v
		updated.LastSeen = &t
		d.cache[id] = updated
	}
	d.cacheMu.Unlock()

	d.logger.Debug("device last value updated", "id", id, "value", value)
	return nil
}

// Stale returns the devices whose last message is older than the given
// window. Used by the presence sweep to emit offline notifications.
func (d *Directory) Stale(now time.Time, window time.Duration) []Device {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	var stale []Device
	for _, dev := range d.cache {
		if dev.Active && dev.IsStale(now, window) {
			stale = append(stale, *dev.DeepCopy())
		}
	}
	return stale
}

// Count returns the number of cached devices.
func (d *Directory) Count() int {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	return len(d.cache)
}
