package alert

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func floatPtr(v float64) *float64 { return &v }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		scalar    *float64
		minValue  *float64
		maxValue  *float64
		wantKinds []BoundKind
	}{
		{
			name:      "in range",
			scalar:    floatPtr(25.0),
			minValue:  floatPtr(10.0),
			maxValue:  floatPtr(35.0),
			wantKinds: nil,
		},
		{
			name:      "below min",
			scalar:    floatPtr(5.0),
			minValue:  floatPtr(10.0),
			maxValue:  floatPtr(35.0),
			wantKinds: []BoundKind{BoundMin},
		},
		{
			name:      "above max",
			scalar:    floatPtr(40.0),
			minValue:  floatPtr(10.0),
			maxValue:  floatPtr(35.0),
			wantKinds: []BoundKind{BoundMax},
		},
		{
			name:      "exactly on bound is not a violation",
			scalar:    floatPtr(10.0),
			minValue:  floatPtr(10.0),
			maxValue:  floatPtr(10.0),
			wantKinds: nil,
		},
		{
			name:      "no bounds configured",
			scalar:    floatPtr(9999.0),
			wantKinds: nil,
		},
		{
			name:      "nil scalar",
			minValue:  floatPtr(10.0),
			maxValue:  floatPtr(35.0),
			wantKinds: nil,
		},
		{
			name:      "only max configured",
			scalar:    floatPtr(40.0),
			maxValue:  floatPtr(35.0),
			wantKinds: []BoundKind{BoundMax},
		},
		{
			name:      "inverted bounds violate both",
			scalar:    floatPtr(25.0),
			minValue:  floatPtr(30.0),
			maxValue:  floatPtr(20.0),
			wantKinds: []BoundKind{BoundMin, BoundMax},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Evaluate(tt.scalar, tt.minValue, tt.maxValue)
			if len(violations) != len(tt.wantKinds) {
				t.Fatalf("Evaluate() violations = %d, want %d", len(violations), len(tt.wantKinds))
			}
			for i, v := range violations {
				if v.Kind != tt.wantKinds[i] {
					t.Errorf("violation %d kind = %v, want %v", i, v.Kind, tt.wantKinds[i])
				}
				if tt.scalar != nil && v.Observed != *tt.scalar {
					t.Errorf("violation %d observed = %v, want %v", i, v.Observed, *tt.scalar)
				}
			}
		})
	}
}

// setupTestDB creates an in-memory SQLite database with the alerts table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// A second pooled connection would open a fresh, empty :memory: database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE alerts (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			observed REAL NOT NULL,
			bound REAL NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
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

// captureBroadcaster records emitted alerts.
type captureBroadcaster struct {
	alerts []Alert
}

func (c *captureBroadcaster) EmitAlert(a Alert) {
	c.alerts = append(c.alerts, a)
}

func TestLogNotifier(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	bc := &captureBroadcaster{}
	notifier := NewLog(repo, bc, nil)
	ctx := context.Background()

	err := notifier.NotifyOutOfRange(ctx, "dht11", 40.0, 35.0, BoundMax)
	if err != nil {
		t.Fatalf("NotifyOutOfRange() error = %v", err)
	}

	// Row persisted
	alerts, err := repo.ListByDevice(ctx, "dht11", 0)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alert count = %d, want 1", len(alerts))
	}
	if alerts[0].Observed != 40.0 || alerts[0].Bound != 35.0 || alerts[0].Kind != BoundMax {
		t.Errorf("alert = %+v, want observed=40 bound=35 kind=max", alerts[0])
	}
	if alerts[0].ID == "" {
		t.Error("alert ID not assigned")
	}

	// Broadcast mirrors the persisted row
	if len(bc.alerts) != 1 {
		t.Fatalf("broadcast count = %d, want 1", len(bc.alerts))
	}
	if bc.alerts[0].ID != alerts[0].ID {
		t.Errorf("broadcast ID = %q, want %q", bc.alerts[0].ID, alerts[0].ID)
	}
}

// captureMirror records alert events handed to the time-series mirror.
type captureMirror struct {
	events []string
}

func (c *captureMirror) WriteAlertEvent(deviceID, kind string, observed, bound float64) {
	c.events = append(c.events, fmt.Sprintf("%s %s %g>%g", deviceID, kind, observed, bound))
}

func TestLogNotifierMirrorsAlerts(t *testing.T) {
	db := setupTestDB(t)
	mirror := &captureMirror{}
	notifier := NewLog(NewSQLiteRepository(db), nil, nil)
	notifier.SetMirror(mirror)

	err := notifier.NotifyOutOfRange(context.Background(), "dht11", 40.0, 35.0, BoundMax)
	if err != nil {
		t.Fatalf("NotifyOutOfRange() error = %v", err)
	}

	if len(mirror.events) != 1 {
		t.Fatalf("mirrored events = %d, want 1", len(mirror.events))
	}
	if mirror.events[0] != "dht11 max 40>35" {
		t.Errorf("mirrored event = %q, want %q", mirror.events[0], "dht11 max 40>35")
	}
}

func TestLogNotifierNilBroadcaster(t *testing.T) {
	db := setupTestDB(t)
	notifier := NewLog(NewSQLiteRepository(db), nil, nil)

	err := notifier.NotifyOutOfRange(context.Background(), "dht11", 5.0, 10.0, BoundMin)
	if err != nil {
		t.Fatalf("NotifyOutOfRange() error = %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	notifier := NewLog(repo, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := notifier.NotifyOutOfRange(ctx, "dht11", float64(40+i), 35.0, BoundMax); err != nil {
			t.Fatalf("NotifyOutOfRange() error = %v", err)
		}
	}

	alerts, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(alerts) != 2 {
		t.Errorf("List(limit=2) count = %d, want 2", len(alerts))
	}
}
