package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

// MockGeofenceRepository is an in-memory domain.GeofenceRepository for testing.
// It records how many times each code was fetched.
type MockGeofenceRepository struct {
	mu          sync.Mutex
	Fences      map[string]domain.Geofence
	GetErrs     map[string]error // per-code fetch errors
	GetDelay    time.Duration
	GetDelays   map[string]time.Duration // per-code, overrides GetDelay
	Fetches     map[string]int
	FetchOrder  []string
	inflight    int
	MaxInFlight int
	SaveErr     error
	ListErr     error
	DeleteErr   error
	Closed      bool
}

func NewMockGeofenceRepository(fences map[string]domain.Geofence) *MockGeofenceRepository {
	if fences == nil {
		fences = make(map[string]domain.Geofence)
	}
	return &MockGeofenceRepository{
		Fences:  fences,
		GetErrs: make(map[string]error),
		Fetches: make(map[string]int),
	}
}

func (m *MockGeofenceRepository) GetByCode(ctx context.Context, code string) (*domain.Geofence, error) {
	m.mu.Lock()
	m.Fetches[code]++
	m.FetchOrder = append(m.FetchOrder, code)
	delay := m.GetDelay
	if d, ok := m.GetDelays[code]; ok {
		delay = d
	}
	m.inflight++
	if m.inflight > m.MaxInFlight {
		m.MaxInFlight = m.inflight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.GetErrs[code]; ok {
		return nil, err
	}
	fence, ok := m.Fences[code]
	if !ok {
		return nil, domain.ErrGeofenceNotFound
	}
	return &fence, nil
}

func (m *MockGeofenceRepository) List(ctx context.Context) ([]domain.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	fences := make([]domain.Geofence, 0, len(m.Fences))
	for _, f := range m.Fences {
		fences = append(fences, f)
	}
	return fences, nil
}

func (m *MockGeofenceRepository) Save(ctx context.Context, code string, fence domain.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Fences[code] = fence
	return nil
}

func (m *MockGeofenceRepository) SaveAll(ctx context.Context, fences []domain.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	for _, f := range fences {
		m.Fences[f.Properties.ID] = f
	}
	return nil
}

func (m *MockGeofenceRepository) Update(ctx context.Context, code string, apply func(domain.Geofence) (domain.Geofence, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	cur, ok := m.Fences[code]
	if !ok {
		return domain.ErrGeofenceNotFound
	}
	next, err := apply(cur)
	if err != nil {
		return err
	}
	m.Fences[code] = next
	return nil
}

func (m *MockGeofenceRepository) Delete(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.Fences[code]; !ok {
		return domain.ErrGeofenceNotFound
	}
	delete(m.Fences, code)
	return nil
}

func (m *MockGeofenceRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// FetchCount returns how many times code was fetched.
func (m *MockGeofenceRepository) FetchCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Fetches[code]
}

// PeakConcurrency returns the largest number of fetches observed in flight at once.
func (m *MockGeofenceRepository) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxInFlight
}

// TotalFetches returns the number of GetByCode calls.
func (m *MockGeofenceRepository) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FetchOrder)
}

// MockPublisher records published messages in call order.
type MockPublisher struct {
	mu         sync.Mutex
	Published  []domain.EnrichedMessage
	PublishErr map[string]error // per geofence code
	OnPublish  func(msg domain.EnrichedMessage)
}

func (m *MockPublisher) Publish(ctx context.Context, msg domain.EnrichedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.PublishErr[msg.GeofenceCode]; ok {
		return err
	}
	m.Published = append(m.Published, msg)
	if m.OnPublish != nil {
		m.OnPublish(msg)
	}
	return nil
}

// Messages returns a copy of everything published so far.
func (m *MockPublisher) Messages() []domain.EnrichedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EnrichedMessage(nil), m.Published...)
}
