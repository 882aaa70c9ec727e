package alert

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// List limit defaults, matching the REST surface.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Repository defines the interface for alert persistence.
type Repository interface {
	// Insert persists a new alert row.
	Insert(ctx context.Context, a *Alert) error

	// List retrieves the most recent alerts, newest first.
	List(ctx context.Context, limit int) ([]Alert, error)

	// ListByDevice retrieves the most recent alerts for one device, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Alert, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert persists a new alert row.
func (r *SQLiteRepository) Insert(ctx context.Context, a *Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO alerts (id, device_id, observed, bound, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.DeviceID,
		a.Observed,
		a.Bound,
		string(a.Kind),
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}

	return nil
}

// List retrieves the most recent alerts.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Alert, error) {
	query := `
		SELECT id, device_id, observed, bound, kind, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return r.queryAlerts(ctx, query, clampLimit(limit))
}

// ListByDevice retrieves the most recent alerts for one device.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Alert, error) {
	query := `
		SELECT id, device_id, observed, bound, kind, created_at
		FROM alerts
		WHERE device_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	return r.queryAlerts(ctx, query, deviceID, clampLimit(limit))
}

// queryAlerts executes a query and returns a slice of alerts.
func (r *SQLiteRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var kind, createdAt string
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.Observed, &a.Bound, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Kind = BoundKind(kind)
		a.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}

	return alerts, nil
}

// clampLimit applies the default and maximum list limits.
func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
