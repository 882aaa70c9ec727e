package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository implements Repository for testing without a database.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device

	// Call counters for asserting cache behaviour.
	getCalls    int
	createCalls int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{devices: make(map[string]*Device)}
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (m *MockRepository) List(ctx context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) ListByCategory(ctx context.Context, category Category) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var devices []Device
	for _, d := range m.devices {
		if d.Category == category {
			devices = append(devices, *d.DeepCopy())
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(ctx context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if _, exists := m.devices[device.ID]; exists {
		return ErrDeviceExists
	}
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) CreateIfAbsent(ctx context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if _, exists := m.devices[device.ID]; exists {
		return nil
	}
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Update(ctx context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[device.ID]; !exists {
		return ErrDeviceNotFound
	}
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[id]; !exists {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MockRepository) SetLastValue(ctx context.Context, id string, value float64, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	v := value
	t := seenAt.UTC()
	d.LastValue = &v
	d.LastSeen = &t
	return nil
}

func TestEnsureCreatesOnFirstSight(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	dev, err := dir.Ensure(ctx, "dht11", "luixxa/dht11")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if dev.ID != "dht11" {
		t.Errorf("ID = %q, want dht11", dev.ID)
	}
	if dev.Category != CategoryTemperature {
		t.Errorf("Category = %v, want temperature", dev.Category)
	}
	if dev.Unit != "°C" {
		t.Errorf("Unit = %q, want °C", dev.Unit)
	}
	if !dev.Active {
		t.Error("Active = false, want true")
	}
}

func TestEnsureCacheFastPath(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	if _, err := dir.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	repo.mu.Lock()
	getsAfterFirst := repo.getCalls
	repo.mu.Unlock()

	// Second ensure should hit the cache, not the repository.
	if _, err := dir.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure() second error = %v", err)
	}

	repo.mu.Lock()
	getsAfterSecond := repo.getCalls
	repo.mu.Unlock()

	if getsAfterSecond != getsAfterFirst {
		t.Errorf("repository reads = %d after cached ensure, want %d", getsAfterSecond, getsAfterFirst)
	}
}

func TestEnsureConcurrentFirstSight(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	dir := NewDirectory(repo)
	ctx := context.Background()

	const workers = 8
	results := make([]*Device, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = dir.Ensure(ctx, "dht11", "luixxa/dht11")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("Ensure() worker %d error = %v", i, errs[i])
		}
		if results[i].ID != "dht11" {
			t.Errorf("worker %d ID = %q, want dht11", i, results[i].ID)
		}
	}

	// Exactly one row must exist.
	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("device count = %d after concurrent ensure, want 1", len(all))
	}
}

func TestEnsureReturnsDeepCopies(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	first, err := dir.Ensure(ctx, "dht11", "luixxa/dht11")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	first.Name = "mutated"

	second, err := dir.Ensure(ctx, "dht11", "luixxa/dht11")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if second.Name == "mutated" {
		t.Error("cache leaked a mutable reference")
	}
}

func TestSetLastValueUpdatesCache(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	if _, err := dir.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	seenAt := time.Now().UTC()
	if err := dir.SetLastValue(ctx, "dht11", 25.5, seenAt); err != nil {
		t.Fatalf("SetLastValue() error = %v", err)
	}

	dev, err := dir.Get(ctx, "dht11")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dev.LastValue == nil || *dev.LastValue != 25.5 {
		t.Errorf("LastValue = %v, want 25.5", dev.LastValue)
	}
}

func TestStale(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	if _, err := dir.Ensure(ctx, "dht11", "luixxa/dht11"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, err := dir.Ensure(ctx, "bomba", "luixxa/bomba"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	now := time.Now().UTC()

	// dht11 was seen recently, bomba long ago.
	if err := dir.SetLastValue(ctx, "dht11", 25.5, now.Add(-time.Minute)); err != nil {
		t.Fatalf("SetLastValue() error = %v", err)
	}
	if err := dir.SetLastValue(ctx, "bomba", 1.0, now.Add(-time.Hour)); err != nil {
		t.Fatalf("SetLastValue() error = %v", err)
	}

	stale := dir.Stale(now, 5*time.Minute)
	if len(stale) != 1 || stale[0].ID != "bomba" {
		t.Errorf("Stale() = %v, want [bomba]", stale)
	}
}

func TestStaleIgnoresNeverSeen(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	if _, err := dir.Ensure(ctx, "node1", "luixxa/node1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	stale := dir.Stale(time.Now(), time.Minute)
	if len(stale) != 0 {
		t.Errorf("Stale() = %v for never-seen device, want empty", stale)
	}
}

func TestUpdateInvalidCategory(t *testing.T) {
	repo := NewMockRepository()
	dir := NewDirectory(repo)
	ctx := context.Background()

	dev, err := dir.Ensure(ctx, "dht11", "luixxa/dht11")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	dev.Category = "voltage"
	if err := dir.Update(ctx, dev); !errors.Is(err, ErrInvalidCategory) {
		t.Errorf("Update() error = %v, want ErrInvalidCategory", err)
	}
}
