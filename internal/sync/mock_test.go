package sync

import (
	"context"
	"sync"

	"github.com/magnusk/alliancevault/internal/model"
	"github.com/magnusk/alliancevault/internal/store"
)

// --- Mock remote source ------------------------------------------------------

type mockSource struct {
	mu       sync.Mutex
	snapshot []model.Observation
	err      error
	calls    int
}

func (m *mockSource) Fetch(_ context.Context) ([]model.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.Observation, len(m.snapshot))
	copy(out, m.snapshot)
	return out, nil
}

func (m *mockSource) fetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock code store ---------------------------------------------------------

// mockCodes is an in-memory CodeStore with per-code write fault injection.
// It mirrors the real store semantics: insertion order is kept, SetStatus
// refuses edges outside the state machine, and a same-status call is a no-op.
type mockCodes struct {
	mu      sync.Mutex
	codes   map[string]*model.GiftCode
	order   []string
	listErr error            // returned by List when set
	failOn  map[string]error // code → error returned by writes
	writes  int              // successful Upsert + SetStatus calls
}

func newMockCodes(seed ...model.GiftCode) *mockCodes {
	m := &mockCodes{
		codes:  make(map[string]*model.GiftCode),
		failOn: make(map[string]error),
	}
	for _, gc := range seed {
		cp := gc
		if cp.Status == "" {
			cp.Status = model.StatusPending
		}
		m.codes[cp.Code] = &cp
		m.order = append(m.order, cp.Code)
	}
	return m
}

func (m *mockCodes) List(_ context.Context, f store.CodeFilter) ([]*model.GiftCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*model.GiftCode
	for _, code := range m.order {
		gc := m.codes[code]
		if f.Status != "" && gc.Status != f.Status {
			continue
		}
		cp := *gc
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockCodes) Upsert(_ context.Context, gc *model.GiftCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOn[gc.Code]; err != nil {
		return err
	}
	cp := *gc
	if _, ok := m.codes[cp.Code]; !ok {
		m.order = append(m.order, cp.Code)
	}
	m.codes[cp.Code] = &cp
	m.writes++
	return nil
}

func (m *mockCodes) SetStatus(_ context.Context, code string, next model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failOn[code]; err != nil {
		return err
	}
	gc, ok := m.codes[code]
	if !ok {
		return store.ErrNotFound
	}
	if gc.Status == next {
		return nil
	}
	if !gc.Status.CanTransitionTo(next) {
		return store.ErrInvalidTransition
	}
	gc.Status = next
	m.writes++
	return nil
}

func (m *mockCodes) get(code string) *model.GiftCode {
	m.mu.Lock()
	defer m.mu.Unlock()

	gc, ok := m.codes[code]
	if !ok {
		return nil
	}
	cp := *gc
	return &cp
}

func (m *mockCodes) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

func (m *mockCodes) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
