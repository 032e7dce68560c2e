package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/avaccess/internal/observability"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

// evalTracer is the OTEL tracer for policy evaluation.
var evalTracer = otel.Tracer("avaccess/policy")

// Identity is the principal under evaluation.
type Identity struct {
	ID   string
	Role token.Role
}

// Resource describes the object being accessed.
type Resource struct {
	Name string
	ID   string
	Data map[string]interface{}
}

// Environment carries request-ambient attributes.
type Environment struct {
	Timestamp time.Time
	ClientIP  string
	UserAgent string
}

// EvalContext is the full input to one evaluation.
type EvalContext struct {
	Identity    Identity
	Resource    Resource
	Action      Action
	Environment Environment
	Metadata    map[string]interface{}
}

// attributes exposes the context as nested maps for attribute lookups
// and CEL programs.
func (ec *EvalContext) attributes() map[string]interface{} {
	return map[string]interface{}{
		"subject": map[string]interface{}{
			"id":   ec.Identity.ID,
			"role": string(ec.Identity.Role),
		},
		"resource": map[string]interface{}{
			"name": ec.Resource.Name,
			"id":   ec.Resource.ID,
			"data": ec.Resource.Data,
		},
		"action": string(ec.Action),
		"environment": map[string]interface{}{
			"timestamp": ec.Environment.Timestamp,
			"clientIp":  ec.Environment.ClientIP,
			"userAgent": ec.Environment.UserAgent,
		},
		"metadata": ec.Metadata,
	}
}

// Decision is the evaluation outcome. A denial is a value, not an
// error.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Reason names the deciding rule and policy, or explains the
	// denial.
	Reason string

	// Policy is the name of the deciding policy, if any.
	Policy string

	// Rule is the id of the deciding rule, if any.
	Rule string
}

// Evaluator computes authorization decisions.
type Evaluator interface {
	// Evaluate resolves the applicable policies for the identity and
	// selects a decision. On a store failure it returns a DENY decision
	// together with an *EvaluationError.
	Evaluate(ctx context.Context, ec *EvalContext) (*Decision, error)
}

// evaluator implements the Evaluator interface.
type evaluator struct {
	store   Store
	cel     *celCompiler
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// EvaluatorOption is a functional option for the evaluator.
type EvaluatorOption func(*evaluator)

// WithEvaluatorLogger sets the logger.
func WithEvaluatorLogger(logger observability.Logger) EvaluatorOption {
	return func(e *evaluator) {
		e.logger = logger
	}
}

// WithEvaluatorMetrics sets the metrics.
func WithEvaluatorMetrics(metrics *Metrics) EvaluatorOption {
	return func(e *evaluator) {
		e.metrics = metrics
	}
}

// withEvaluatorClock overrides the time source for tests.
func withEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *evaluator) {
		e.now = now
	}
}

// NewEvaluator creates an evaluator over the given store.
func NewEvaluator(store Store, opts ...EvaluatorOption) (Evaluator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	compiler, err := newCELCompiler()
	if err != nil {
		return nil, err
	}

	e := &evaluator{
		store:  store,
		cel:    compiler,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetrics("avaccess")
	}

	return e, nil
}

// candidate pairs a matching rule with its owning policy for the
// selection step.
type candidate struct {
	rule   PolicyRule
	policy Policy
}

// Evaluate computes the decision for the context.
func (e *evaluator) Evaluate(ctx context.Context, ec *EvalContext) (*Decision, error) {
	start := time.Now()

	ctx, span := evalTracer.Start(ctx, "policy.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject.id", ec.Identity.ID),
		attribute.String("subject.role", string(ec.Identity.Role)),
		attribute.String("resource", ec.Resource.Name),
		attribute.String("action", string(ec.Action)),
	)

	applicable, err := e.applicablePolicies(ctx, ec)
	if err != nil {
		e.metrics.RecordEvaluation("error", time.Since(start))
		e.logger.Error("failed to assemble applicable policies",
			observability.String("subject", ec.Identity.ID),
			observability.Error(err),
		)
		return &Decision{Allowed: false, Reason: "evaluation error"},
			NewEvaluationError("failed to assemble applicable policies", err)
	}

	candidates, err := e.matchingRules(ctx, ec, applicable)
	if err != nil {
		e.metrics.RecordEvaluation("error", time.Since(start))
		e.logger.Error("failed to load policy rules",
			observability.String("subject", ec.Identity.ID),
			observability.Error(err),
		)
		return &Decision{Allowed: false, Reason: "evaluation error"},
			NewEvaluationError("failed to load policy rules", err)
	}

	decision := e.selectDecision(candidates)

	status := "denied"
	if decision.Allowed {
		status = "allowed"
	}
	e.metrics.RecordEvaluation(status, time.Since(start))
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed))

	e.logger.Debug("policy decision",
		observability.String("subject", ec.Identity.ID),
		observability.String("resource", ec.Resource.Name),
		observability.String("action", string(ec.Action)),
		observability.Bool("allowed", decision.Allowed),
		observability.String("reason", decision.Reason),
	)

	return decision, nil
}

// applicablePolicies resolves the active policies reachable from the
// identity's role assignments and direct user assignments.
func (e *evaluator) applicablePolicies(ctx context.Context, ec *EvalContext) ([]Policy, error) {
	now := e.now()
	policyIDs := make(map[string]struct{})

	rolePolicies, err := e.store.ListRolePolicies(ctx, ec.Identity.Role)
	if err != nil {
		return nil, err
	}
	for _, rp := range rolePolicies {
		if rp.IsActive {
			policyIDs[rp.PolicyID] = struct{}{}
		}
	}

	userPolicies, err := e.store.ListUserPolicies(ctx, ec.Identity.ID)
	if err != nil {
		return nil, err
	}
	for _, up := range userPolicies {
		if up.ActiveAt(now) {
			policyIDs[up.PolicyID] = struct{}{}
		}
	}

	policies := make([]Policy, 0, len(policyIDs))
	for id := range policyIDs {
		p, err := e.store.GetPolicy(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// A dangling assignment must not fail the evaluation
			// closed for everyone; skip it and log.
			e.logger.Warn("assignment references unknown policy",
				observability.String("policyId", id),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.IsActive {
			policies = append(policies, *p)
		}
	}

	return policies, nil
}

// matchingRules filters each policy's rules by activity, resource,
// action and conditions.
func (e *evaluator) matchingRules(ctx context.Context, ec *EvalContext, policies []Policy) ([]candidate, error) {
	var candidates []candidate
	attrs := ec.attributes()

	for _, p := range policies {
		rules, err := e.store.ListRules(ctx, p.ID)
		if err != nil {
			return nil, err
		}

		for _, r := range rules {
			if !r.IsActive || !r.Matches(ec.Resource.Name, ec.Action) {
				continue
			}
			if !e.conditionsHold(ec, attrs, &r, &p) {
				continue
			}
			candidates = append(candidates, candidate{rule: r, policy: p})
		}
	}

	return candidates, nil
}

// conditionsHold evaluates a rule's conditions conjunctively. Zero
// conditions always hold. An evaluation error counts as non-match and
// is logged.
func (e *evaluator) conditionsHold(ec *EvalContext, attrs map[string]interface{}, r *PolicyRule, p *Policy) bool {
	for i := range r.Conditions {
		holds, err := e.evalCondition(&r.Conditions[i], ec, attrs)
		if err != nil {
			e.metrics.RecordConditionError()
			e.logger.Warn("condition evaluation failed",
				observability.String("policy", p.Name),
				observability.String("rule", r.ID),
				observability.String("kind", string(r.Conditions[i].Kind)),
				observability.Error(err),
			)
			return false
		}
		if !holds {
			return false
		}
	}
	return true
}

// evalCondition evaluates one condition against the context.
func (e *evaluator) evalCondition(c *Condition, ec *EvalContext, attrs map[string]interface{}) (bool, error) {
	switch c.Kind {
	case ConditionEquality:
		got, ok := lookupAttribute(attrs, c.Attribute)
		if !ok {
			return false, nil
		}
		return attributeEquals(got, c.Value), nil

	case ConditionMembership:
		got, ok := lookupAttribute(attrs, c.Attribute)
		if !ok {
			return false, nil
		}
		for _, candidate := range c.Values {
			if attributeEquals(got, candidate) {
				return true, nil
			}
		}
		return false, nil

	case ConditionOwnership:
		attr := c.OwnerAttribute
		if attr == "" {
			attr = defaultOwnerAttribute
		}
		owner, ok := ec.Resource.Data[attr]
		if !ok {
			return false, nil
		}
		return attributeEquals(owner, ec.Identity.ID), nil

	case ConditionTimeWindow:
		ts := ec.Environment.Timestamp
		if ts.IsZero() {
			ts = e.now()
		}
		if c.NotBefore != nil && ts.Before(*c.NotBefore) {
			return false, nil
		}
		if c.NotAfter != nil && ts.After(*c.NotAfter) {
			return false, nil
		}
		return true, nil

	case ConditionCEL:
		program, err := e.cel.program(c.Expression)
		if err != nil {
			return false, err
		}
		result, _, err := program.Eval(attrs)
		if err != nil {
			return false, err
		}
		allowed, ok := result.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression did not evaluate to a bool")
		}
		return allowed, nil

	default:
		return false, fmt.Errorf("unknown condition kind: %s", c.Kind)
	}
}

// selectDecision resolves the candidate set: highest rule priority wins,
// owning-policy priority breaks ties, and DENY beats ALLOW at the top.
func (e *evaluator) selectDecision(candidates []candidate) *Decision {
	if len(candidates) == 0 {
		return &Decision{Allowed: false, Reason: "no matching policy rule"}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.rule.Priority != best.rule.Priority:
			if c.rule.Priority > best.rule.Priority {
				best = c
			}
		case c.policy.Priority != best.policy.Priority:
			if c.policy.Priority > best.policy.Priority {
				best = c
			}
		case c.rule.EffectiveEffect() == EffectDeny && best.rule.EffectiveEffect() == EffectAllow:
			// Deny-overrides at equal priority.
			best = c
		}
	}

	if best.rule.EffectiveEffect() == EffectDeny {
		return &Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("denied by rule %q of policy %q", best.rule.ID, best.policy.Name),
			Policy:  best.policy.Name,
			Rule:    best.rule.ID,
		}
	}

	return &Decision{
		Allowed: true,
		Reason:  fmt.Sprintf("allowed by rule %q of policy %q", best.rule.ID, best.policy.Name),
		Policy:  best.policy.Name,
		Rule:    best.rule.ID,
	}
}

// Ensure evaluator implements Evaluator.
var _ Evaluator = (*evaluator)(nil)
