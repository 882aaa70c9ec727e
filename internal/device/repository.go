package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// ListByCategory retrieves all devices in a specific category.
	ListByCategory(ctx context.Context, category Category) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// CreateIfAbsent inserts a new device, silently doing nothing if a
	// device with the same ID already exists. Used by create-on-first-sight
	// where concurrent first messages for one device must both succeed.
	CreateIfAbsent(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// SetLastValue updates only the last observed scalar and timestamp.
	// This is optimised for the per-message hot path.
	SetLastValue(ctx context.Context, id string, value float64, seenAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, category, topic, unit, last_value, last_seen,
		min_value, max_value, active, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		ORDER BY name`

	return r.queryDevices(ctx, query)
}

// ListByCategory retrieves all devices in a specific category.
func (r *SQLiteRepository) ListByCategory(ctx context.Context, category Category) ([]Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE category = ?
		ORDER BY name`

	return r.queryDevices(ctx, query, string(category))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := r.insert(ctx, device, false); err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts a new device unless one with the same ID exists.
//
// Uses INSERT ... ON CONFLICT DO NOTHING so two pipelines racing on the
// same first-sight device both succeed; the caller re-reads the winning
// row afterwards.
func (r *SQLiteRepository) CreateIfAbsent(ctx context.Context, device *Device) error {
	if err := r.insert(ctx, device, true); err != nil {
		return fmt.Errorf("inserting device if absent: %w", err)
	}
	return nil
}

// insert executes the device INSERT, optionally tolerating ID conflicts.
func (r *SQLiteRepository) insert(ctx context.Context, device *Device, ifAbsent bool) error {
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, category, topic, unit, last_value, last_seen,
			min_value, max_value, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ifAbsent {
		query += ` ON CONFLICT(id) DO NOTHING`
	}

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Category),
		device.Topic,
		nullableString(device.Unit),
		nullableFloat(device.LastValue),
		nullableTime(device.LastSeen),
		nullableFloat(device.MinValue),
		nullableFloat(device.MaxValue),
		boolToInt(device.Active),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, category = ?, topic = ?, unit = ?,
			last_value = ?, last_seen = ?, min_value = ?, max_value = ?,
			active = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		string(device.Category),
		device.Topic,
		nullableString(device.Unit),
		nullableFloat(device.LastValue),
		nullableTime(device.LastSeen),
		nullableFloat(device.MinValue),
		nullableFloat(device.MaxValue),
		boolToInt(device.Active),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// SetLastValue updates the last observed scalar and timestamp.
func (r *SQLiteRepository) SetLastValue(ctx context.Context, id string, value float64, seenAt time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET last_value = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		value,
		seenAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device last value: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var unit sql.NullString
	var lastValue, minValue, maxValue sql.NullFloat64
	var lastSeen sql.NullString
	var active int
	var category string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&category,
		&d.Topic,
		&unit,
		&lastValue,
		&lastSeen,
		&minValue,
		&maxValue,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Category = Category(category)
	d.Active = active != 0
	if unit.Valid {
		d.Unit = unit.String
	}
	if lastValue.Valid {
		v := lastValue.Float64
		d.LastValue = &v
	}
	if minValue.Valid {
		v := minValue.Float64
		d.MinValue = &v
	}
	if maxValue.Valid {
		v := maxValue.Float64
		d.MaxValue = &v
	}
	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		d.LastSeen = &t
	}

	d.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &d, nil
}

// nullableString converts a string to a NULL-friendly driver value.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableFloat converts a *float64 to a NULL-friendly driver value.
func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// nullableTime converts a *time.Time to a NULL-friendly driver value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// boolToInt converts a bool to SQLite's integer representation.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
