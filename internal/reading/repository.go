package reading

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Query limit defaults, matching the REST surface.
const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Repository defines the interface for reading persistence.
// Readings are append-only: there is no update, and deletion happens
// only through retention pruning.
type Repository interface {
	// Insert persists a new reading and fills in its ID.
	Insert(ctx context.Context, r *Reading) error

	// QueryByDevice retrieves readings for a device, newest first.
	// from/to are optional (nil means unbounded); limit is clamped to
	// [1, 1000] with a default of 100.
	QueryByDevice(ctx context.Context, deviceID string, from, to *time.Time, limit int) ([]Reading, error)

	// CountByDevice returns the number of readings stored for a device.
	CountByDevice(ctx context.Context, deviceID string) (int64, error)

	// Prune deletes readings recorded before the cutoff.
	// Returns the number of rows removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert persists a new reading.
func (r *SQLiteRepository) Insert(ctx context.Context, reading *Reading) error {
	if reading.RecordedAt.IsZero() {
		reading.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO readings (
			device_id, temperature, humidity, soil_moisture, value, pump_on, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		reading.DeviceID,
		nullableFloat(reading.Temperature),
		nullableFloat(reading.Humidity),
		nullableFloat(reading.SoilMoisture),
		nullableFloat(reading.Value),
		nullableBool(reading.PumpOn),
		reading.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	reading.ID = id

	return nil
}

// QueryByDevice retrieves readings for a device, newest first.
func (r *SQLiteRepository) QueryByDevice(ctx context.Context, deviceID string, from, to *time.Time, limit int) ([]Reading, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, ErrInvalidRange
	}
	limit = clampLimit(limit)

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, device_id, temperature, humidity, soil_moisture, value, pump_on, recorded_at
		FROM readings
		WHERE device_id = ?`)
	args := []any{deviceID}

	if from != nil {
		sb.WriteString(" AND recorded_at >= ?")
		args = append(args, from.UTC().Format(time.RFC3339))
	}
	if to != nil {
		sb.WriteString(" AND recorded_at <= ?")
		args = append(args, to.UTC().Format(time.RFC3339))
	}

	sb.WriteString(" ORDER BY recorded_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return readings, nil
}

// CountByDevice returns the number of readings stored for a device.
func (r *SQLiteRepository) CountByDevice(ctx context.Context, deviceID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM readings WHERE device_id = ?", deviceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return count, nil
}

// Prune deletes readings recorded before the cutoff.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM readings WHERE recorded_at < ?",
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning readings: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return removed, nil
}

// clampLimit applies the default and maximum query limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// scanReading scans a rows result into a Reading.
func scanReading(rows *sql.Rows) (*Reading, error) {
	var reading Reading
	var temperature, humidity, soilMoisture, value sql.NullFloat64
	var pumpOn sql.NullInt64
	var recordedAt string

	err := rows.Scan(
		&reading.ID,
		&reading.DeviceID,
		&temperature,
		&humidity,
		&soilMoisture,
		&value,
		&pumpOn,
		&recordedAt,
	)
	if err != nil {
		return nil, err
	}

	if temperature.Valid {
		v := temperature.Float64
		reading.Temperature = &v
	}
	if humidity.Valid {
		v := humidity.Float64
		reading.Humidity = &v
	}
	if soilMoisture.Valid {
		v := soilMoisture.Float64
		reading.SoilMoisture = &v
	}
	if value.Valid {
		v := value.Float64
		reading.Value = &v
	}
	if pumpOn.Valid {
		b := pumpOn.Int64 != 0
		reading.PumpOn = &b
	}

	reading.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}

	return &reading, nil
}

// nullableFloat converts a *float64 to a NULL-friendly driver value.
func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// nullableBool converts a *bool to SQLite's nullable integer representation.
func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}
