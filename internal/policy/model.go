package policy

import (
	"fmt"
	"time"

	"github.com/vyrodovalexey/avaccess/internal/token"
)

// Kind classifies how a policy is meant to be used.
type Kind string

// Policy kinds.
const (
	KindRoleBased      Kind = "ROLE_BASED"
	KindAttributeBased Kind = "ATTRIBUTE_BASED"
	KindCustom         Kind = "CUSTOM"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindRoleBased, KindAttributeBased, KindCustom:
		return true
	}
	return false
}

// Effect is a rule's outcome when it matches.
type Effect string

// Rule effects. Effect defaults to ALLOW; at equal priority DENY wins.
const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Action is an operation on a resource.
type Action string

// Known actions. ActionAll is the wildcard.
const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
	ActionExport Action = "export"
	ActionImport Action = "import"
	ActionAll    Action = "*"
)

// Valid reports whether the action is known.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionList, ActionExport, ActionImport, ActionAll:
		return true
	}
	return false
}

// ResourceWildcard matches any resource in a rule.
const ResourceWildcard = "*"

// Policy is a named, prioritized bundle of rules. Rules are stored
// separately and reference the policy by ID.
type Policy struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind      `json:"kind" yaml:"kind"`
	IsActive    bool      `json:"isActive" yaml:"isActive"`
	Priority    int       `json:"priority" yaml:"priority"`
	CreatedBy   string    `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Validate checks the policy's invariants.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("unknown policy kind: %s", p.Kind)
	}
	return nil
}

// PolicyRule is a single resource/action/effect/conditions tuple. It is
// cascade-deleted with its owning policy.
type PolicyRule struct {
	ID         string      `json:"id" yaml:"id"`
	PolicyID   string      `json:"policyId" yaml:"policyId"`
	Resource   string      `json:"resource" yaml:"resource"`
	Action     Action      `json:"action" yaml:"action"`
	Effect     Effect      `json:"effect" yaml:"effect"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Priority   int         `json:"priority" yaml:"priority"`
	IsActive   bool        `json:"isActive" yaml:"isActive"`
}

// EffectiveEffect returns the rule's effect, defaulting to ALLOW.
func (r *PolicyRule) EffectiveEffect() Effect {
	if r.Effect == EffectDeny {
		return EffectDeny
	}
	return EffectAllow
}

// Matches reports whether the rule covers the resource and action,
// honoring the wildcard on either field.
func (r *PolicyRule) Matches(resource string, action Action) bool {
	if r.Resource != ResourceWildcard && r.Resource != resource {
		return false
	}
	if r.Action != ActionAll && r.Action != action {
		return false
	}
	return true
}

// Validate checks the rule's invariants.
func (r *PolicyRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.PolicyID == "" {
		return fmt.Errorf("rule policyId is required")
	}
	if r.Resource == "" {
		return fmt.Errorf("rule resource is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("unknown rule action: %s", r.Action)
	}
	if r.Effect != "" && r.Effect != EffectAllow && r.Effect != EffectDeny {
		return fmt.Errorf("unknown rule effect: %s", r.Effect)
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// UserPolicy is a direct assignment of a policy to a principal. A past
// ExpiresAt makes the assignment inert without deleting it.
type UserPolicy struct {
	ID         string                 `json:"id" yaml:"id"`
	UserID     string                 `json:"userId" yaml:"userId"`
	PolicyID   string                 `json:"policyId" yaml:"policyId"`
	AssignedBy string                 `json:"assignedBy,omitempty" yaml:"assignedBy,omitempty"`
	AssignedAt time.Time              `json:"assignedAt" yaml:"assignedAt"`
	ExpiresAt  *time.Time             `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	IsActive   bool                   `json:"isActive" yaml:"isActive"`
	Context    map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// ActiveAt reports whether the assignment contributes to evaluation at
// the given instant.
func (u *UserPolicy) ActiveAt(now time.Time) bool {
	if !u.IsActive {
		return false
	}
	if u.ExpiresAt != nil && !now.Before(*u.ExpiresAt) {
		return false
	}
	return true
}

// RolePolicy attaches a policy to a role. A role may carry several
// policies; priority disambiguates overlapping rules.
type RolePolicy struct {
	ID         string     `json:"id" yaml:"id"`
	Role       token.Role `json:"role" yaml:"role"`
	PolicyID   string     `json:"policyId" yaml:"policyId"`
	AssignedBy string     `json:"assignedBy,omitempty" yaml:"assignedBy,omitempty"`
	AssignedAt time.Time  `json:"assignedAt" yaml:"assignedAt"`
	IsActive   bool       `json:"isActive" yaml:"isActive"`
	Priority   int        `json:"priority" yaml:"priority"`
}
