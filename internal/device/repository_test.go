package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// A second pooled connection would open a fresh, empty :memory: database.
	db.SetMaxOpenConns(1)

	// Create devices table matching the schema
	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'generic',
			topic TEXT NOT NULL,
			unit TEXT,
			last_value REAL,
			last_seen TEXT,
			min_value REAL,
			max_value REAL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_devices_category ON devices(category);
		CREATE INDEX idx_devices_topic ON devices(topic);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a device for testing.
func testDevice(id string) *Device {
	return &Device{
		ID:       id,
		Name:     id,
		Category: CategoryTemperature,
		Topic:    "luixxa/" + id,
		Unit:     "°C",
		Active:   true,
	}
}

func TestRepositoryCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	dev := testDevice("dht11")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dht11")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.ID != "dht11" {
		t.Errorf("ID = %q, want dht11", got.ID)
	}
	if got.Category != CategoryTemperature {
		t.Errorf("Category = %v, want temperature", got.Category)
	}
	if got.Unit != "°C" {
		t.Errorf("Unit = %q, want °C", got.Unit)
	}
	if !got.Active {
		t.Error("Active = false, want true")
	}
	if got.LastValue != nil {
		t.Errorf("LastValue = %v, want nil", *got.LastValue)
	}
}

func TestRepositoryCreateDuplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dht11")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, testDevice("dht11"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestRepositoryCreateIfAbsent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	first := testDevice("dht11")
	if err := repo.CreateIfAbsent(ctx, first); err != nil {
		t.Fatalf("CreateIfAbsent() error = %v", err)
	}

	// Second insert with different attributes must be a silent no-op.
	second := testDevice("dht11")
	second.Name = "changed"
	if err := repo.CreateIfAbsent(ctx, second); err != nil {
		t.Fatalf("CreateIfAbsent() second error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dht11")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "dht11" {
		t.Errorf("Name = %q, want original dht11 (first insert wins)", got.Name)
	}
}

func TestRepositoryGetNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryUpdate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	dev := testDevice("dht11")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	minVal, maxVal := 10.0, 35.0
	dev.Name = "Greenhouse DHT11"
	dev.MinValue = &minVal
	dev.MaxValue = &maxVal
	if err := repo.Update(ctx, dev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dht11")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Greenhouse DHT11" {
		t.Errorf("Name = %q, want Greenhouse DHT11", got.Name)
	}
	if got.MinValue == nil || *got.MinValue != 10.0 {
		t.Errorf("MinValue = %v, want 10.0", got.MinValue)
	}
	if got.MaxValue == nil || *got.MaxValue != 35.0 {
		t.Errorf("MaxValue = %v, want 35.0", got.MaxValue)
	}
}

func TestRepositoryUpdateNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	err := repo.Update(context.Background(), testDevice("ghost"))
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dht11")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, "dht11"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := repo.GetByID(ctx, "dht11")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.Delete(ctx, "dht11"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositorySetLastValue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("dht11")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	seenAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.SetLastValue(ctx, "dht11", 25.5, seenAt); err != nil {
		t.Fatalf("SetLastValue() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dht11")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LastValue == nil || *got.LastValue != 25.5 {
		t.Errorf("LastValue = %v, want 25.5", got.LastValue)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seenAt) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seenAt)
	}
}

func TestRepositorySetLastValueNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)

	err := repo.SetLastValue(context.Background(), "ghost", 1.0, time.Now())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetLastValue() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryListByCategory(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	temp := testDevice("dht11")
	pump := testDevice("bomba")
	pump.Category = CategoryPump
	pump.Unit = ""

	if err := repo.Create(ctx, temp); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, pump); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pumps, err := repo.ListByCategory(ctx, CategoryPump)
	if err != nil {
		t.Fatalf("ListByCategory() error = %v", err)
	}
	if len(pumps) != 1 || pumps[0].ID != "bomba" {
		t.Errorf("ListByCategory(pump) = %v, want [bomba]", pumps)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() count = %d, want 2", len(all))
	}
}
