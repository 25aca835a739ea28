package compliance

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

var errBackendDown = errors.New("connection refused")

type memorySessions struct {
	mu        sync.Mutex
	sessions  []storage.UsageSession
	failFor   map[string]bool
	appendErr error
	queries   int
}

func newMemorySessions() *memorySessions {
	return &memorySessions{failFor: map[string]bool{}}
}

func (m *memorySessions) Append(_ context.Context, session storage.UsageSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.sessions = append(m.sessions, session)
	return nil
}

func (m *memorySessions) QueryByPatient(_ context.Context, patientID string, from, to time.Time, order storage.SortOrder) ([]storage.UsageSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.failFor[patientID] {
		return nil, errBackendDown
	}
	var out []storage.UsageSession
	for _, session := range m.sessions {
		if session.PatientID != patientID || session.CreatedAt.Before(from) || session.CreatedAt.After(to) {
			continue
		}
		out = append(out, session)
	}
	slices.SortStableFunc(out, func(a, b storage.UsageSession) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if order == storage.Descending {
		slices.Reverse(out)
	}
	return out, nil
}

// add stores a session created at the given time.
func (m *memorySessions) add(patientID string, minutes int, timeOfDay storage.TimeOfDay, createdAt time.Time) {
	m.sessions = append(m.sessions, storage.UsageSession{
		ID:              storage.NewID(),
		PatientID:       patientID,
		DeviceID:        "dev-1",
		DurationMinutes: minutes,
		TimeOfDay:       timeOfDay,
		ComplianceScore: SessionScore(minutes),
		CreatedAt:       createdAt,
	})
}

type memoryDevices struct {
	mu        sync.Mutex
	connected map[string]time.Time
	err       error
}

func newMemoryDevices() *memoryDevices {
	return &memoryDevices{connected: map[string]time.Time{}}
}

func (m *memoryDevices) Register(context.Context, storage.Device) error { return nil }

func (m *memoryDevices) SetConnected(_ context.Context, deviceID, patientID string, connectedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.connected[patientID+"/"+deviceID] = connectedAt
	return nil
}

func (m *memoryDevices) IsConnected(_ context.Context, patientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for key := range m.connected {
		if len(key) > len(patientID) && key[:len(patientID)+1] == patientID+"/" {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryDevices) List(context.Context, string) ([]storage.Device, error) { return nil, nil }

type memoryIdentities struct {
	identities map[string]storage.Identity
	failGet    map[string]bool
	listErr    error
}

func newMemoryIdentities(identities ...storage.Identity) *memoryIdentities {
	m := &memoryIdentities{identities: map[string]storage.Identity{}, failGet: map[string]bool{}}
	for _, identity := range identities {
		m.identities[identity.ID] = identity
	}
	return m
}

func (m *memoryIdentities) Resolve(context.Context, string, string, storage.Role) (*storage.Identity, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryIdentities) Get(_ context.Context, id string) (*storage.Identity, error) {
	if m.failGet[id] {
		return nil, errBackendDown
	}
	identity, ok := m.identities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &identity, nil
}

func (m *memoryIdentities) ListByRole(_ context.Context, role storage.Role) ([]storage.Identity, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []storage.Identity
	for _, identity := range m.identities {
		if identity.Role == role {
			out = append(out, identity)
		}
	}
	storage.SortIdentities(out)
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]Event
}

func (p *recordingPublisher) Publish(patientID string, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]Event{}
	}
	p.events[patientID] = append(p.events[patientID], event)
}

func patient(id, name string, created time.Time) storage.Identity {
	return storage.Identity{ID: id, Name: name, Role: storage.RolePatient, RoleIdentifier: "P-" + id, CreatedAt: created}
}
