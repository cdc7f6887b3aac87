package visit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phcwatch/phcwatch/internal/domain/patient"
	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/internal/platform/metrics"
	"github.com/phcwatch/phcwatch/internal/platform/notify"
)

// -- Mock Repository --

type mockRepo struct {
	mu     sync.Mutex
	visits map[uuid.UUID]Visit
	audit  map[uuid.UUID][]AuditEntry
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		visits: make(map[uuid.UUID]Visit),
		audit:  make(map[uuid.UUID][]AuditEntry),
	}
}

func (m *mockRepo) Create(_ context.Context, v *Visit, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Version = 1
	stored := *v
	stored.AuditTrail = nil
	m.visits[v.ID] = stored
	m.audit[v.ID] = append(m.audit[v.ID], entry)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &v, nil
}

func (m *mockRepo) Update(_ context.Context, v *Visit, expectedVersion int, entries ...AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.visits[v.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	v.Version = expectedVersion + 1
	next := *v
	next.AuditTrail = nil
	m.visits[v.ID] = next
	m.audit[v.ID] = append(m.audit[v.ID], entries...)
	return nil
}

func (m *mockRepo) sorted() []*Visit {
	out := make([]*Visit, 0, len(m.visits))
	for _, v := range m.visits {
		v := v
		out = append(out, &v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Visit
	for _, v := range m.sorted() {
		if s, ok := params["status"]; ok && string(v.Status) != s {
			continue
		}
		if cb, ok := params["created_by"]; ok && v.CreatedBy != cb {
			continue
		}
		result = append(result, v)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListEscalated(_ context.Context) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Visit
	for _, v := range m.sorted() {
		if v.IsPending() || v.ReviewRequestedAt != nil {
			result = append(result, v)
		}
	}
	return result, nil
}

func (m *mockRepo) ListAll(_ context.Context) ([]*Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *mockRepo) AuditTrail(_ context.Context, visitID uuid.UUID) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit[visitID]...), nil
}

// -- Mock Collaborators --

type mockPatients struct {
	byID map[uuid.UUID]*patient.Patient
	err  error
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (m *mockNotifier) Publish(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockNotifier) last() notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return notify.Message{}
	}
	return m.sent[len(m.sent)-1]
}

var (
	testNow   = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	asha      = auth.Actor{ID: "asha-1", Name: "Kamla Devi", Role: auth.RoleASHA}
	otherASHA = auth.Actor{ID: "asha-2", Name: "Geeta", Role: auth.RoleASHA}
	doctor    = auth.Actor{ID: "dr-1", Name: "Dr. Mehta", Role: auth.RolePHCDoctor}
	admin     = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
)

type testEnv struct {
	svc       *Service
	repo      *mockRepo
	notifier  *mockNotifier
	patients  *mockPatients
	metrics   *metrics.Metrics
	patientID uuid.UUID
	clock     time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:      newMockRepo(),
		notifier:  &mockNotifier{},
		metrics:   metrics.New(),
		patientID: uuid.New(),
		clock:     testNow,
	}
	env.patients = &mockPatients{byID: map[uuid.UUID]*patient.Patient{
		env.patientID: {ID: env.patientID, Name: "Ramesh Kumar", ASHAID: asha.ID},
	}}
	env.svc = NewService(env.repo, env.patients, env.notifier, env.metrics, zerolog.Nop())
	env.svc.SetClock(func() time.Time { return env.clock })
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.clock = env.clock.Add(d)
}

func ptrFloat(f float64) *float64 { return &f }
