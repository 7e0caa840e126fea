package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

// ---------------------------------------------------------------------------
// In-memory CaseStore
// ---------------------------------------------------------------------------

type memStore struct {
	mu         sync.Mutex
	cases      map[string]*domain.Case
	extensions map[string]*domain.ExtensionRequest
	listErr    error
	getErr     map[string]error
	updates    int
}

func newMemStore(cases ...*domain.Case) *memStore {
	s := &memStore{
		cases:      map[string]*domain.Case{},
		extensions: map[string]*domain.ExtensionRequest{},
		getErr:     map[string]error{},
	}
	for _, c := range cases {
		if c.Version == 0 {
			c.Version = 1
		}
		s.cases[c.ID] = c.Clone()
	}
	return s
}

func (s *memStore) GetCase(_ context.Context, id string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getErr[id]; err != nil {
		return nil, err
	}
	c, ok := s.cases[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeCaseNotFound, "case not found").WithDetail(id)
	}
	return c.Clone(), nil
}

func (s *memStore) CreateCase(_ context.Context, c *domain.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "case exists")
	}
	c.Version = 1
	s.cases[c.ID] = c.Clone()
	return nil
}

func (s *memStore) UpdateCase(_ context.Context, c *domain.Case, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cases[c.ID]
	if !ok {
		return errors.New(errors.ErrCodeCaseNotFound, "case not found")
	}
	if cur.Version != expected {
		return errors.ConcurrencyConflict("stale case version")
	}
	c.Version = expected + 1
	s.cases[c.ID] = c.Clone()
	s.updates++
	return nil
}

func (s *memStore) ListActiveCases(context.Context) ([]*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*domain.Case
	for _, c := range s.cases {
		if !c.IsClosed() {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (s *memStore) CreateExtension(_ context.Context, r *domain.ExtensionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.extensions {
		if e.CaseID == r.CaseID && e.Stage == r.Stage && e.IsPending() {
			return errors.New(errors.ErrCodeExtensionAlreadyPending, "pending")
		}
	}
	r.Version = 1
	cp := *r
	s.extensions[r.ID] = &cp
	return nil
}

func (s *memStore) GetExtension(_ context.Context, id string) (*domain.ExtensionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.extensions[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeExtensionNotFound, "extension not found")
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) FindPendingExtension(_ context.Context, caseID string, stage domain.ProcessStage) (*domain.ExtensionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.extensions {
		if e.CaseID == caseID && e.Stage == stage && e.IsPending() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) SaveExtensionDecision(_ context.Context, c *domain.Case, caseVer int64, r *domain.ExtensionRequest, reqVer int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.extensions[r.ID]
	if !ok || cur.Version != reqVer {
		return errors.ConcurrencyConflict("stale extension version")
	}
	if c != nil {
		stored := s.cases[c.ID]
		if stored == nil || stored.Version != caseVer {
			return errors.ConcurrencyConflict("stale case version")
		}
		c.Version = caseVer + 1
		s.cases[c.ID] = c.Clone()
	}
	r.Version = reqVer + 1
	cp := *r
	s.extensions[r.ID] = &cp
	return nil
}

func (s *memStore) stored(id string) *domain.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[id].Clone()
}

// ---------------------------------------------------------------------------
// In-memory AlertStateStore
// ---------------------------------------------------------------------------

type memAlertState struct {
	mu          sync.Mutex
	levels      map[string]map[domain.ProcessStage]domain.AlertLevel
	invalidated []string
	failFor     map[string]error
}

func newMemAlertState() *memAlertState {
	return &memAlertState{
		levels:  map[string]map[domain.ProcessStage]domain.AlertLevel{},
		failFor: map[string]error{},
	}
}

func (m *memAlertState) SwapLevel(_ context.Context, caseID string, stage domain.ProcessStage, level domain.AlertLevel) (domain.AlertLevel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[caseID]; err != nil {
		return "", false, err
	}
	if m.levels[caseID] == nil {
		m.levels[caseID] = map[domain.ProcessStage]domain.AlertLevel{}
	}
	prev, known := m.levels[caseID][stage]
	m.levels[caseID][stage] = level
	return prev, known, nil
}

func (m *memAlertState) RevertLevel(_ context.Context, caseID string, stage domain.ProcessStage, level, prev domain.AlertLevel, known bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[caseID][stage] != level {
		return nil
	}
	if known {
		m.levels[caseID][stage] = prev
	} else {
		delete(m.levels[caseID], stage)
	}
	return nil
}

func (m *memAlertState) Invalidate(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, caseID)
	m.invalidated = append(m.invalidated, caseID)
	return nil
}

func (m *memAlertState) level(caseID string, stage domain.ProcessStage) (domain.AlertLevel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[caseID][stage]
	return l, ok
}

// ---------------------------------------------------------------------------
// testify mocks
// ---------------------------------------------------------------------------

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Send(ctx context.Context, recipients []string, alert domain.DeadlineAlert) (DispatchResult, error) {
	args := m.Called(ctx, recipients, alert)
	return args.Get(0).(DispatchResult), args.Error(1)
}

type mockRoles struct{ mock.Mock }

func (m *mockRoles) CanApproveExtension(ctx context.Context, actorID string, c *domain.Case) (bool, error) {
	args := m.Called(ctx, actorID, c)
	return args.Bool(0), args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishEvent(ctx context.Context, ev common.DomainEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type mockLease struct{ mock.Mock }

func (m *mockLease) TryAcquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	args := m.Called(ctx, ttl)
	release, _ := args.Get(0).(func(context.Context) error)
	return release, args.Bool(1), args.Error(2)
}

// recordingPublisher keeps events for assertions without expectations.
type recordingPublisher struct {
	mu     sync.Mutex
	events []common.DomainEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev common.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func caseIn(id string, stage domain.ProcessStage, entered time.Time) *domain.Case {
	return &domain.Case{
		ID:             id,
		InvestigatorID: "inv-1",
		CaseClock: domain.CaseClock{
			CurrentStage:   stage,
			StageEnteredAt: entered,
			History:        []domain.StageEntry{{Stage: stage, EnteredAt: entered}},
		},
		Version:   1,
		CreatedAt: entered,
		UpdatedAt: entered,
	}
}

// mon is Monday 3 March 2025 at 09:00 UTC.
var mon = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
