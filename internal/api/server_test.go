package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agrisense/agrisense-core/internal/alert"
	"github.com/agrisense/agrisense-core/internal/broker"
	"github.com/agrisense/agrisense-core/internal/device"
	"github.com/agrisense/agrisense-core/internal/infrastructure/config"
	"github.com/agrisense/agrisense-core/internal/infrastructure/logging"
	"github.com/agrisense/agrisense-core/internal/reading"
)

// fakeManager implements BrokerControl without dialling anything.
type fakeManager struct {
	mu            sync.Mutex
	connected     map[string]bool
	disconnected  []string
	published     []string
	publishResult bool
	connectErr    error

	// onDisconnect, when set, observes each Disconnect call.
	onDisconnect func(brokerID string)
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		connected:     make(map[string]bool),
		publishResult: true,
	}
}

func (f *fakeManager) Connect(_ context.Context, b *broker.Broker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected[b.ID] = true
	return nil
}

func (f *fakeManager) Disconnect(brokerID string) {
	f.mu.Lock()
	delete(f.connected, brokerID)
	f.disconnected = append(f.disconnected, brokerID)
	hook := f.onDisconnect
	f.mu.Unlock()

	if hook != nil {
		hook(brokerID)
	}
}

func (f *fakeManager) Publish(topic string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.publishResult {
		return false
	}
	f.published = append(f.published, topic+" "+string(payload))
	return true
}

func (f *fakeManager) IsConnected(brokerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[brokerID]
}

func (f *fakeManager) DefaultBrokerID() string { return "builtin" }

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// A second pooled connection would open a fresh, empty :memory: database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE brokers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			tls INTEGER NOT NULL DEFAULT 0,
			username TEXT,
			password TEXT,
			topics TEXT NOT NULL DEFAULT '[]',
			active INTEGER NOT NULL DEFAULT 1,
			built_in INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'generic',
			topic TEXT,
			unit TEXT,
			last_value REAL,
			last_seen TEXT,
			min_value REAL,
			max_value REAL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL REFERENCES devices(id),
			temperature REAL,
			humidity REAL,
			soil_moisture REAL,
			value REAL,
			pump_on INTEGER,
			recorded_at TEXT NOT NULL
		) STRICT;

		CREATE TABLE alerts (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			observed REAL NOT NULL,
			bound REAL NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, execErr := db.Exec(schema); execErr != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", execErr)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// testServer creates a Server over real repositories and a fake manager.
func testServer(t *testing.T) (*Server, *fakeManager) {
	t.Helper()

	db := setupTestDB(t)
	directory := device.NewDirectory(device.NewSQLiteRepository(db))
	if err := directory.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	manager := newFakeManager()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:       log,
		Directory:    directory,
		Readings:     reading.NewSQLiteRepository(db),
		Alerts:       alert.NewSQLiteRepository(db),
		Brokers:      broker.NewSQLiteRepository(db),
		Manager:      manager,
		ControlTopic: "luixxa/control",
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(context.Background())

	return srv, manager
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeJSON[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health body = %v", resp)
	}
}

func TestBrokerLifecycle(t *testing.T) {
	srv, manager := testServer(t)

	// Create
	w := doRequest(t, srv, http.MethodPost, "/api/v1/brokers", map[string]any{
		"name":   "greenhouse",
		"host":   "10.0.0.5",
		"port":   1883,
		"topics": []string{"invernadero/#"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decodeJSON[brokerResponse](t, w)
	if created.ID == "" {
		t.Fatal("created broker has no ID")
	}
	if !created.Connected {
		t.Error("active broker not connected after create")
	}

	// Duplicate name
	w = doRequest(t, srv, http.MethodPost, "/api/v1/brokers", map[string]any{
		"name": "greenhouse", "host": "10.0.0.6", "port": 1883,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want %d", w.Code, http.StatusConflict)
	}

	// List
	w = doRequest(t, srv, http.MethodGet, "/api/v1/brokers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if list := decodeJSON[[]brokerResponse](t, w); len(list) != 1 {
		t.Errorf("broker count = %d, want 1", len(list))
	}

	// Deactivate: manager must disconnect
	w = doRequest(t, srv, http.MethodPatch, "/api/v1/brokers/"+created.ID, map[string]any{
		"active": false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}
	if manager.IsConnected(created.ID) {
		t.Error("broker still connected after deactivation")
	}

	// Delete
	w = doRequest(t, srv, http.MethodDelete, "/api/v1/brokers/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doRequest(t, srv, http.MethodGet, "/api/v1/brokers/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBrokerDeleteProtected(t *testing.T) {
	srv, _ := testServer(t)

	builtIn := &broker.Broker{
		Name: "default", Host: "localhost", Port: 1883,
		Topics: []string{"luixxa", "luixxa/#"}, Active: true,
	}
	if err := srv.brokers.UpsertBuiltIn(context.Background(), builtIn); err != nil {
		t.Fatalf("UpsertBuiltIn: %v", err)
	}

	w := doRequest(t, srv, http.MethodDelete, "/api/v1/brokers/"+builtIn.ID, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("delete built-in status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// Renaming the built-in broker is also refused
	w = doRequest(t, srv, http.MethodPatch, "/api/v1/brokers/"+builtIn.ID, map[string]any{
		"name": "renamed",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("rename built-in status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// Deleting a broker must terminate its connection before the row goes.
func TestBrokerDeleteDisconnectsFirst(t *testing.T) {
	srv, manager := testServer(t)
	ctx := context.Background()

	b := &broker.Broker{
		Name: "greenhouse", Host: "10.0.0.5", Port: 1883,
		Topics: []string{"invernadero/#"}, Active: true,
	}
	if err := srv.brokers.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rowPresentAtDisconnect := false
	manager.onDisconnect = func(id string) {
		if _, err := srv.brokers.GetByID(context.Background(), id); err == nil {
			rowPresentAtDisconnect = true
		}
	}

	w := doRequest(t, srv, http.MethodDelete, "/api/v1/brokers/"+b.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}

	if !rowPresentAtDisconnect {
		t.Error("connection was torn down after the row was deleted, want before")
	}
	if _, err := srv.brokers.GetByID(ctx, b.ID); err == nil {
		t.Error("broker row still present after delete")
	}
}

func TestBrokerValidation(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"host": "x", "port": 1883}},
		{"missing host", map[string]any{"name": "x", "port": 1883}},
		{"bad port", map[string]any{"name": "x", "host": "y", "port": 99999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodPost, "/api/v1/brokers", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestDeviceEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	ctx := context.Background()

	if _, err := srv.directory.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := srv.directory.Ensure(ctx, "bomba1", "luixxa/bomba1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// List all
	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if list := decodeJSON[[]device.Device](t, w); len(list) != 2 {
		t.Errorf("device count = %d, want 2", len(list))
	}

	// Filter by category
	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices?category=pump", nil)
	list := decodeJSON[[]device.Device](t, w)
	if len(list) != 1 || list[0].ID != "bomba1" {
		t.Errorf("pump filter = %v, want [bomba1]", list)
	}

	// Unknown category
	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices?category=sparkles", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	// Get one
	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices/dht11", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	d := decodeJSON[device.Device](t, w)
	if d.Category != device.CategoryTemperature {
		t.Errorf("category = %q, want temperature", d.Category)
	}

	// Missing device
	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDeviceUpdate(t *testing.T) {
	srv, _ := testServer(t)
	ctx := context.Background()

	if _, err := srv.directory.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	w := doRequest(t, srv, http.MethodPatch, "/api/v1/devices/dht11", map[string]any{
		"name":      "Patio sensor",
		"min_value": 18.0,
		"max_value": 28.0,
		"active":    false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body = %s", w.Code, w.Body.String())
	}

	d := decodeJSON[device.Device](t, w)
	if d.Name != "Patio sensor" || d.Active {
		t.Errorf("device = %+v, want renamed and inactive", d)
	}
	if d.MinValue == nil || *d.MinValue != 18 || d.MaxValue == nil || *d.MaxValue != 28 {
		t.Errorf("bounds = %v/%v, want 18/28", d.MinValue, d.MaxValue)
	}

	// Clear bounds
	w = doRequest(t, srv, http.MethodPatch, "/api/v1/devices/dht11", map[string]any{
		"clear_bounds": true,
	})
	d = decodeJSON[device.Device](t, w)
	if d.MinValue != nil || d.MaxValue != nil {
		t.Errorf("bounds = %v/%v after clear, want nil/nil", d.MinValue, d.MaxValue)
	}

	// Invalid category rejected
	w = doRequest(t, srv, http.MethodPatch, "/api/v1/devices/dht11", map[string]any{
		"category": "sparkles",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad category status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestReadingsQuery(t *testing.T) {
	srv, _ := testServer(t)
	ctx := context.Background()

	if _, err := srv.directory.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		temp := 20.0 + float64(i)
		r := reading.Reading{
			DeviceID:    "dht11",
			Temperature: &temp,
			RecordedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := srv.readings.Insert(ctx, &r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	// Newest first
	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/dht11/readings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("readings status = %d", w.Code)
	}
	rows := decodeJSON[[]reading.Reading](t, w)
	if len(rows) != 5 {
		t.Fatalf("reading count = %d, want 5", len(rows))
	}
	if *rows[0].Temperature != 24 {
		t.Errorf("first reading = %v, want newest (24)", *rows[0].Temperature)
	}

	// Range and limit
	path := fmt.Sprintf("/api/v1/devices/dht11/readings?from=%s&limit=2",
		base.Add(2*time.Minute).Format(time.RFC3339))
	w = doRequest(t, srv, http.MethodGet, path, nil)
	rows = decodeJSON[[]reading.Reading](t, w)
	if len(rows) != 2 {
		t.Errorf("limited count = %d, want 2", len(rows))
	}

	// Inverted range
	w = doRequest(t, srv, http.MethodGet,
		"/api/v1/devices/dht11/readings?from=2026-08-31T00:00:00Z&to=2026-08-01T00:00:00Z", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	// Bad timestamp
	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices/dht11/readings?from=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad timestamp status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	// Unknown device
	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices/ghost/readings", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAlertEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	ctx := context.Background()

	for i, deviceID := range []string{"dht11", "dht11", "suelo1"} {
		a := alert.Alert{
			ID:       fmt.Sprintf("alert-%d", i),
			DeviceID: deviceID,
			Observed: 31.5,
			Bound:    28,
			Kind:     alert.BoundMax,
		}
		if err := srv.alerts.Insert(ctx, &a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/alerts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("alerts status = %d", w.Code)
	}
	if all := decodeJSON[[]alert.Alert](t, w); len(all) != 3 {
		t.Errorf("alert count = %d, want 3", len(all))
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/devices/dht11/alerts", nil)
	if byDevice := decodeJSON[[]alert.Alert](t, w); len(byDevice) != 2 {
		t.Errorf("device alert count = %d, want 2", len(byDevice))
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/alerts?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommandEndpoint(t *testing.T) {
	srv, manager := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/commands", map[string]any{
		"command": "BOMBA_ON",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("command status = %d", w.Code)
	}
	resp := decodeJSON[commandResponse](t, w)
	if !resp.Sent {
		t.Error("Sent = false, want true")
	}

	manager.mu.Lock()
	published := manager.published
	manager.mu.Unlock()
	if len(published) != 1 || published[0] != "luixxa/control BOMBA_ON" {
		t.Errorf("published = %v, want [luixxa/control BOMBA_ON]", published)
	}
}

// The firmware owns the command vocabulary: any short printable string
// goes out on the control topic.
func TestCommandFreeForm(t *testing.T) {
	srv, manager := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/commands", map[string]any{
		"command": "VALVULA_2_ON",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("free-form command status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeJSON[commandResponse](t, w); !resp.Sent {
		t.Error("Sent = false, want true")
	}

	manager.mu.Lock()
	published := manager.published
	manager.mu.Unlock()
	if len(published) != 1 || published[0] != "luixxa/control VALVULA_2_ON" {
		t.Errorf("published = %v, want [luixxa/control VALVULA_2_ON]", published)
	}
}

func TestCommandInvalid(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name    string
		command string
	}{
		{"empty", ""},
		{"control characters", "BOMBA\nON"},
		{"too long", strings.Repeat("A", 65)},
		{"non-ascii", "BOMBA_ÓN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodPost, "/api/v1/commands", map[string]any{
				"command": tt.command,
			})
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestCommandBrokerDown(t *testing.T) {
	srv, manager := testServer(t)
	manager.publishResult = false

	w := doRequest(t, srv, http.MethodPost, "/api/v1/commands", map[string]any{
		"command": "SISTEMA_OFF",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("command status = %d, want 200 even when undeliverable", w.Code)
	}
	if resp := decodeJSON[commandResponse](t, w); resp.Sent {
		t.Error("Sent = true with broker down, want false")
	}
}
