package policy

import (
	"context"

	"github.com/vyrodovalexey/avaccess/internal/token"
)

// Store persists policies, rules and assignments. Administrative
// operations mutate it; the evaluator only reads.
type Store interface {
	// CreatePolicy stores a new policy. The name must be unique across
	// all policies.
	CreatePolicy(ctx context.Context, p *Policy) error

	// GetPolicy returns a policy by id.
	GetPolicy(ctx context.Context, id string) (*Policy, error)

	// UpdatePolicy replaces a policy. Name uniqueness is re-checked
	// when the name changes.
	UpdatePolicy(ctx context.Context, p *Policy) error

	// DeletePolicy removes a policy and cascade-deletes its rules.
	DeletePolicy(ctx context.Context, id string) error

	// ListPolicies returns all policies.
	ListPolicies(ctx context.Context) ([]Policy, error)

	// CreateRule stores a rule under its owning policy.
	CreateRule(ctx context.Context, r *PolicyRule) error

	// DeleteRule removes a rule.
	DeleteRule(ctx context.Context, policyID, ruleID string) error

	// ListRules returns the rules of a policy.
	ListRules(ctx context.Context, policyID string) ([]PolicyRule, error)

	// CreateRolePolicy attaches a policy to a role.
	CreateRolePolicy(ctx context.Context, rp *RolePolicy) error

	// DeleteRolePolicy removes a role assignment.
	DeleteRolePolicy(ctx context.Context, role token.Role, id string) error

	// ListRolePolicies returns the assignments for a role.
	ListRolePolicies(ctx context.Context, role token.Role) ([]RolePolicy, error)

	// CreateUserPolicy attaches a policy directly to a principal.
	CreateUserPolicy(ctx context.Context, up *UserPolicy) error

	// DeleteUserPolicy removes a direct assignment.
	DeleteUserPolicy(ctx context.Context, userID, id string) error

	// ListUserPolicies returns the direct assignments for a principal.
	ListUserPolicies(ctx context.Context, userID string) ([]UserPolicy, error)

	// Close releases the store's resources.
	Close() error
}
