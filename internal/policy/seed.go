package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/avaccess/internal/observability"
)

// SeedPolicy is a policy with its rules inlined for seed files.
type SeedPolicy struct {
	Policy `yaml:",inline"`
	Rules  []PolicyRule `yaml:"rules,omitempty"`
}

// Seed is the declarative policy set loaded from a YAML file at startup
// and on file change.
type Seed struct {
	Policies     []SeedPolicy `yaml:"policies"`
	RolePolicies []RolePolicy `yaml:"rolePolicies,omitempty"`
	UserPolicies []UserPolicy `yaml:"userPolicies,omitempty"`
}

// ParseSeed parses seed YAML and fills in missing ids and timestamps.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	now := time.Now()
	for i := range seed.Policies {
		p := &seed.Policies[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		for j := range p.Rules {
			r := &p.Rules[j]
			if r.ID == "" {
				r.ID = uuid.New().String()
			}
			r.PolicyID = p.ID
		}
	}
	for i := range seed.RolePolicies {
		if seed.RolePolicies[i].ID == "" {
			seed.RolePolicies[i].ID = uuid.New().String()
		}
		if seed.RolePolicies[i].AssignedAt.IsZero() {
			seed.RolePolicies[i].AssignedAt = now
		}
	}
	for i := range seed.UserPolicies {
		if seed.UserPolicies[i].ID == "" {
			seed.UserPolicies[i].ID = uuid.New().String()
		}
		if seed.UserPolicies[i].AssignedAt.IsZero() {
			seed.UserPolicies[i].AssignedAt = now
		}
	}

	return &seed, nil
}

// LoadSeedFile reads and parses a seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ApplySeed upserts the seed's policies, rules and assignments into the
// store. Existing records with the same id are replaced.
func ApplySeed(ctx context.Context, store Store, seed *Seed, logger observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	for i := range seed.Policies {
		sp := &seed.Policies[i]

		var err error
		if _, getErr := store.GetPolicy(ctx, sp.ID); getErr == nil {
			err = store.UpdatePolicy(ctx, &sp.Policy)
		} else if errors.Is(getErr, ErrNotFound) {
			err = store.CreatePolicy(ctx, &sp.Policy)
		} else {
			err = getErr
		}
		if err != nil {
			return fmt.Errorf("failed to seed policy %q: %w", sp.Name, err)
		}

		for j := range sp.Rules {
			if err := store.CreateRule(ctx, &sp.Rules[j]); err != nil {
				return fmt.Errorf("failed to seed rule %q of policy %q: %w",
					sp.Rules[j].ID, sp.Name, err)
			}
		}
	}

	for i := range seed.RolePolicies {
		if err := store.CreateRolePolicy(ctx, &seed.RolePolicies[i]); err != nil {
			return fmt.Errorf("failed to seed role policy %q: %w", seed.RolePolicies[i].ID, err)
		}
	}

	for i := range seed.UserPolicies {
		if err := store.CreateUserPolicy(ctx, &seed.UserPolicies[i]); err != nil {
			return fmt.Errorf("failed to seed user policy %q: %w", seed.UserPolicies[i].ID, err)
		}
	}

	logger.Info("policy seed applied",
		observability.Int("policies", len(seed.Policies)),
		observability.Int("rolePolicies", len(seed.RolePolicies)),
		observability.Int("userPolicies", len(seed.UserPolicies)),
	)

	return nil
}
