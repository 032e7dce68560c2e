package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vyrodovalexey/avaccess/internal/token"
)

// memoryStore implements Store with process-local maps.
type memoryStore struct {
	mu           sync.RWMutex
	policies     map[string]Policy
	namesToIDs   map[string]string
	rules        map[string]map[string]PolicyRule   // policyID -> ruleID -> rule
	rolePolicies map[token.Role]map[string]RolePolicy
	userPolicies map[string]map[string]UserPolicy // userID -> id -> assignment
}

// NewMemoryStore creates an in-memory policy store.
func NewMemoryStore() Store {
	return &memoryStore{
		policies:     make(map[string]Policy),
		namesToIDs:   make(map[string]string),
		rules:        make(map[string]map[string]PolicyRule),
		rolePolicies: make(map[token.Role]map[string]RolePolicy),
		userPolicies: make(map[string]map[string]UserPolicy),
	}
}

func (s *memoryStore) CreatePolicy(_ context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[p.ID]; ok {
		return fmt.Errorf("policy %s already exists", p.ID)
	}
	if _, ok := s.namesToIDs[p.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
	}

	s.policies[p.ID] = *p
	s.namesToIDs[p.Name] = p.ID
	return nil
}

func (s *memoryStore) GetPolicy(_ context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: policy %s", ErrNotFound, id)
	}
	return &p, nil
}

func (s *memoryStore) UpdatePolicy(_ context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.policies[p.ID]
	if !ok {
		return fmt.Errorf("%w: policy %s", ErrNotFound, p.ID)
	}

	if existing.Name != p.Name {
		if _, taken := s.namesToIDs[p.Name]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
		delete(s.namesToIDs, existing.Name)
		s.namesToIDs[p.Name] = p.ID
	}

	s.policies[p.ID] = *p
	return nil
}

func (s *memoryStore) DeletePolicy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return fmt.Errorf("%w: policy %s", ErrNotFound, id)
	}

	delete(s.policies, id)
	delete(s.namesToIDs, p.Name)
	delete(s.rules, id)
	return nil
}

func (s *memoryStore) ListPolicies(_ context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
	return policies, nil
}

func (s *memoryStore) CreateRule(_ context.Context, r *PolicyRule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[r.PolicyID]; !ok {
		return fmt.Errorf("%w: policy %s", ErrNotFound, r.PolicyID)
	}

	if s.rules[r.PolicyID] == nil {
		s.rules[r.PolicyID] = make(map[string]PolicyRule)
	}
	s.rules[r.PolicyID][r.ID] = *r
	return nil
}

func (s *memoryStore) DeleteRule(_ context.Context, policyID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, ok := s.rules[policyID]
	if !ok {
		return fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
	}
	if _, ok := rules[ruleID]; !ok {
		return fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
	}
	delete(rules, ruleID)
	return nil
}

func (s *memoryStore) ListRules(_ context.Context, policyID string) ([]PolicyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]PolicyRule, 0, len(s.rules[policyID]))
	for _, r := range s.rules[policyID] {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (s *memoryStore) CreateRolePolicy(_ context.Context, rp *RolePolicy) error {
	if rp.ID == "" || rp.PolicyID == "" {
		return fmt.Errorf("role policy id and policyId are required")
	}
	if !rp.Role.Valid() {
		return fmt.Errorf("unknown role: %s", rp.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rolePolicies[rp.Role] == nil {
		s.rolePolicies[rp.Role] = make(map[string]RolePolicy)
	}
	s.rolePolicies[rp.Role][rp.ID] = *rp
	return nil
}

func (s *memoryStore) DeleteRolePolicy(_ context.Context, role token.Role, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignments, ok := s.rolePolicies[role]
	if !ok {
		return fmt.Errorf("%w: role policy %s", ErrNotFound, id)
	}
	if _, ok := assignments[id]; !ok {
		return fmt.Errorf("%w: role policy %s", ErrNotFound, id)
	}
	delete(assignments, id)
	return nil
}

func (s *memoryStore) ListRolePolicies(_ context.Context, role token.Role) ([]RolePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignments := make([]RolePolicy, 0, len(s.rolePolicies[role]))
	for _, rp := range s.rolePolicies[role] {
		assignments = append(assignments, rp)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })
	return assignments, nil
}

func (s *memoryStore) CreateUserPolicy(_ context.Context, up *UserPolicy) error {
	if up.ID == "" || up.UserID == "" || up.PolicyID == "" {
		return fmt.Errorf("user policy id, userId and policyId are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userPolicies[up.UserID] == nil {
		s.userPolicies[up.UserID] = make(map[string]UserPolicy)
	}
	s.userPolicies[up.UserID][up.ID] = *up
	return nil
}

func (s *memoryStore) DeleteUserPolicy(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	assignments, ok := s.userPolicies[userID]
	if !ok {
		return fmt.Errorf("%w: user policy %s", ErrNotFound, id)
	}
	if _, ok := assignments[id]; !ok {
		return fmt.Errorf("%w: user policy %s", ErrNotFound, id)
	}
	delete(assignments, id)
	return nil
}

func (s *memoryStore) ListUserPolicies(_ context.Context, userID string) ([]UserPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignments := make([]UserPolicy, 0, len(s.userPolicies[userID]))
	for _, up := range s.userPolicies[userID] {
		assignments = append(assignments, up)
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })
	return assignments, nil
}

func (s *memoryStore) Close() error {
	return nil
}

// Ensure memoryStore implements Store.
var _ Store = (*memoryStore)(nil)
