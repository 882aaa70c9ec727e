package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for broker persistence operations.
type Repository interface {
	// GetByID retrieves a broker by its unique identifier.
	// Returns ErrBrokerNotFound if the broker does not exist.
	GetByID(ctx context.Context, id string) (*Broker, error)

	// GetByName retrieves a broker by its unique name.
	// Returns ErrBrokerNotFound if the broker does not exist.
	GetByName(ctx context.Context, name string) (*Broker, error)

	// List retrieves all brokers ordered by name.
	List(ctx context.Context) ([]Broker, error)

	// ListActive retrieves all active brokers.
	ListActive(ctx context.Context) ([]Broker, error)

	// Create inserts a new broker, generating an ID if absent.
	// Returns ErrBrokerExists if the name is already taken.
	Create(ctx context.Context, b *Broker) error

	// Update modifies an existing broker.
	// Returns ErrBrokerNotFound if the broker does not exist.
	Update(ctx context.Context, b *Broker) error

	// Delete removes a broker by ID.
	// Returns ErrBrokerNotFound if absent, ErrBrokerProtected for built-in rows.
	Delete(ctx context.Context, id string) error

	// UpsertBuiltIn seeds or refreshes the built-in default broker from
	// config, preserving its ID and BuiltIn flag across restarts.
	UpsertBuiltIn(ctx context.Context, b *Broker) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const brokerColumns = `id, name, host, port, tls, username, password, topics,
		active, built_in, created_at, updated_at`

// GetByID retrieves a broker by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Broker, error) {
	query := `
		SELECT ` + brokerColumns + `
		FROM brokers
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	b, err := scanBrokerRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBrokerNotFound
		}
		return nil, fmt.Errorf("querying broker by id: %w", err)
	}
	return b, nil
}

// GetByName retrieves a broker by its unique name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Broker, error) {
	query := `
		SELECT ` + brokerColumns + `
		FROM brokers
		WHERE name = ?`

	row := r.db.QueryRowContext(ctx, query, name)
	b, err := scanBrokerRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBrokerNotFound
		}
		return nil, fmt.Errorf("querying broker by name: %w", err)
	}
	return b, nil
}

// List retrieves all brokers.
func (r *SQLiteRepository) List(ctx context.Context) ([]Broker, error) {
	query := `
		SELECT ` + brokerColumns + `
		FROM brokers
		ORDER BY name`

	return r.queryBrokers(ctx, query)
}

// ListActive retrieves all active brokers.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Broker, error) {
	query := `
		SELECT ` + brokerColumns + `
		FROM brokers
		WHERE active = 1
		ORDER BY name`

	return r.queryBrokers(ctx, query)
}

// Create inserts a new broker.
func (r *SQLiteRepository) Create(ctx context.Context, b *Broker) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Topics == nil {
		b.Topics = []string{}
	}

	topicsJSON, err := json.Marshal(b.Topics)
	if err != nil {
		return fmt.Errorf("marshalling topics: %w", err)
	}

	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	query := `
		INSERT INTO brokers (
			id, name, host, port, tls, username, password, topics,
			active, built_in, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		b.ID,
		b.Name,
		b.Host,
		b.Port,
		boolToInt(b.TLS),
		nullableString(b.Username),
		nullableString(b.Password),
		string(topicsJSON),
		boolToInt(b.Active),
		boolToInt(b.BuiltIn),
		b.CreatedAt.Format(time.RFC3339),
		b.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrBrokerExists
		}
		return fmt.Errorf("inserting broker: %w", err)
	}

	return nil
}

// Update modifies an existing broker.
func (r *SQLiteRepository) Update(ctx context.Context, b *Broker) error {
	topicsJSON, err := json.Marshal(b.Topics)
	if err != nil {
		return fmt.Errorf("marshalling topics: %w", err)
	}

	b.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE brokers SET
			name = ?, host = ?, port = ?, tls = ?, username = ?, password = ?,
			topics = ?, active = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		b.Name,
		b.Host,
		b.Port,
		boolToInt(b.TLS),
		nullableString(b.Username),
		nullableString(b.Password),
		string(topicsJSON),
		boolToInt(b.Active),
		b.UpdatedAt.Format(time.RFC3339),
		b.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrBrokerExists
		}
		return fmt.Errorf("updating broker: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrBrokerNotFound
	}

	return nil
}

// Delete removes a broker by ID. Built-in brokers are protected.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.BuiltIn {
		return ErrBrokerProtected
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM brokers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting broker: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrBrokerNotFound
	}

	return nil
}

// UpsertBuiltIn seeds or refreshes the built-in default broker.
//
// The row is matched by name: config changes to host/port/credentials
// are applied on restart while the ID (and anything referencing it)
// stays stable.
func (r *SQLiteRepository) UpsertBuiltIn(ctx context.Context, b *Broker) error {
	existing, err := r.GetByName(ctx, b.Name)
	if errors.Is(err, ErrBrokerNotFound) {
		b.BuiltIn = true
		b.Active = true
		return r.Create(ctx, b)
	}
	if err != nil {
		return err
	}

	existing.Host = b.Host
	existing.Port = b.Port
	existing.TLS = b.TLS
	existing.Username = b.Username
	existing.Password = b.Password
	existing.Topics = b.Topics
	existing.Active = true

	if err := r.Update(ctx, existing); err != nil {
		return err
	}

	*b = *existing
	return nil
}

// queryBrokers executes a query and returns a slice of brokers.
func (r *SQLiteRepository) queryBrokers(ctx context.Context, query string, args ...any) ([]Broker, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying brokers: %w", err)
	}
	defer rows.Close()

	var brokers []Broker
	for rows.Next() {
		b, err := scanBrokerRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning broker: %w", err)
		}
		brokers = append(brokers, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating brokers: %w", err)
	}

	return brokers, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanBrokerRow scans a row or rows result into a Broker.
func scanBrokerRow(scanner rowScanner) (*Broker, error) {
	var b Broker
	var username, password sql.NullString
	var topicsJSON string
	var tlsFlag, active, builtIn int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&b.ID,
		&b.Name,
		&b.Host,
		&b.Port,
		&tlsFlag,
		&username,
		&password,
		&topicsJSON,
		&active,
		&builtIn,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.TLS = tlsFlag != 0
	b.Active = active != 0
	b.BuiltIn = builtIn != 0
	if username.Valid {
		b.Username = username.String
	}
	if password.Valid {
		b.Password = password.String
	}

	if err := json.Unmarshal([]byte(topicsJSON), &b.Topics); err != nil {
		return nil, fmt.Errorf("unmarshalling topics: %w", err)
	}

	b.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	b.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &b, nil
}

// nullableString converts a string to a NULL-friendly driver value.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
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
