package planstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Hybrid-Cloud/conveyor/plan"
)

// InMemoryStore is a thread-safe in-memory Store, grounded on
// store.InMemoryBackfillStore's copy-on-read/copy-on-write discipline: every
// accessor stores or returns a deep copy so callers can never mutate state
// out from under the registry.
type InMemoryStore struct {
	mu        sync.RWMutex
	plans     map[string]*plan.Plan
	templates map[string]map[string]any
	cloned    map[string]ClonedResources
	azMappers map[string]map[string]string
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		plans:     make(map[string]*plan.Plan),
		templates: make(map[string]map[string]any),
		cloned:    make(map[string]ClonedResources),
		azMappers: make(map[string]map[string]string),
	}
}

func (s *InMemoryStore) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.PlanID]; exists {
		return ErrDuplicate
	}
	s.plans[p.PlanID] = p.Clone()
	return nil
}

func (s *InMemoryStore) GetPlan(_ context.Context, planID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) ListPlans(_ context.Context, projectID string) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Deleted {
			continue
		}
		if projectID != "" && p.ProjectID != projectID {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.PlanID]; !exists {
		return ErrNotFound
	}
	s.plans[p.PlanID] = p.Clone()
	return nil
}

func (s *InMemoryStore) DeletePlan(_ context.Context, planID string, tolerateMissing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[planID]; !exists && !tolerateMissing {
		return ErrNotFound
	}
	delete(s.plans, planID)
	delete(s.templates, planID)
	delete(s.cloned, planID)
	delete(s.azMappers, planID)
	return nil
}

func (s *InMemoryStore) SaveTemplate(_ context.Context, planID string, template map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[planID] = deepCopyMap(template)
	return nil
}

func (s *InMemoryStore) GetTemplate(_ context.Context, planID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopyMap(t), nil
}

func (s *InMemoryStore) SaveClonedResources(_ context.Context, row ClonedResources) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.Relation = deepCopyMap(row.Relation)
	row.Dependencies = deepCopyMap(row.Dependencies)
	s.cloned[row.PlanID] = row
	return nil
}

func (s *InMemoryStore) GetClonedResources(_ context.Context, planID string) (*ClonedResources, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.cloned[planID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := row
	cp.Relation = deepCopyMap(row.Relation)
	cp.Dependencies = deepCopyMap(row.Dependencies)
	return &cp, nil
}

func (s *InMemoryStore) SaveAZMapper(_ context.Context, planID string, azMapper map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(azMapper))
	for k, v := range azMapper {
		cp[k] = v
	}
	s.azMappers[planID] = cp
	return nil
}

func (s *InMemoryStore) GetAZMapper(_ context.Context, planID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.azMappers[planID]
	if !ok {
		return map[string]string{}, nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp, nil
}

func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyAny(v)
	}
	return out
}

func deepCopyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyAny(e)
		}
		return out
	default:
		return v
	}
}
