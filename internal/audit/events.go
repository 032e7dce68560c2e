package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit event.
type EventType string

// Event types.
const (
	EventTypeAuthorization  EventType = "authorization"
	EventTypeToken          EventType = "token"
	EventTypeAdministrative EventType = "administrative"
)

// Action is the audited action.
type Action string

// Common actions.
const (
	// Authorization actions
	ActionAccess Action = "access"

	// Token actions
	ActionTokenIssue  Action = "token_issue"
	ActionTokenRevoke Action = "token_revoke"

	// Administrative actions
	ActionPolicyCreate   Action = "policy_create"
	ActionPolicyUpdate   Action = "policy_update"
	ActionPolicyDelete   Action = "policy_delete"
	ActionBlacklistClear Action = "blacklist_clear"
	ActionSeedReload     Action = "seed_reload"
)

// Outcome is the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Subject identifies the principal behind an event.
type Subject struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Resource identifies what the event acted on.
type Resource struct {
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`

	Subject  *Subject  `json:"subject,omitempty"`
	Resource *Resource `json:"resource,omitempty"`

	// Reason is the human-readable decision reason.
	Reason string `json:"reason,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`

	Duration time.Duration `json:"duration,omitempty"`
}

// NewEvent builds an event with a generated id and the current time.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}
