// Package gate composes the token authority and the policy evaluator
// into the single authorization entry point consumed by the request
// pipeline. The gate fails closed: any token failure, evaluation
// failure or internal fault becomes a denial, and no internal detail
// crosses the boundary.
package gate

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/observability"
	"github.com/vyrodovalexey/avaccess/internal/policy"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

// gateTracer is the OTEL tracer for gate operations.
var gateTracer = otel.Tracer("avaccess/gate")

// Metadata keys recognized when building the evaluation environment.
const (
	MetaClientIP  = "clientIp"
	MetaUserAgent = "userAgent"
)

// Result is the outcome of an authorization check.
type Result struct {
	// Allowed indicates if the request may proceed.
	Allowed bool

	// Reason explains the decision for logging and auditing.
	Reason string

	// Identity holds the verified claims when token verification
	// succeeded, nil otherwise.
	Identity *token.Claims
}

// Gate is the authorization entry point.
type Gate interface {
	// Authorize verifies the token and evaluates the identity's
	// policies against the resource and action.
	Authorize(ctx context.Context, rawToken, resource, action string, metadata map[string]interface{}) *Result

	// IssueToken creates a signed token for a principal.
	IssueToken(ctx context.Context, subject string, role token.Role, ttl time.Duration) (string, error)

	// RevokeToken revokes a token. True means at least the in-memory
	// revocation took effect.
	RevokeToken(ctx context.Context, rawToken string) bool
}

// gate implements the Gate interface.
type gate struct {
	authority token.Authority
	evaluator policy.Evaluator
	logger    observability.Logger
	metrics   *Metrics
	auditor   audit.Logger
	now       func() time.Time
}

// Option is a functional option for the gate.
type Option func(*gate)

// WithLogger sets the logger for the gate.
func WithLogger(logger observability.Logger) Option {
	return func(g *gate) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics for the gate.
func WithMetrics(metrics *Metrics) Option {
	return func(g *gate) {
		g.metrics = metrics
	}
}

// WithAudit sets the audit trail for decisions and token operations.
func WithAudit(auditor audit.Logger) Option {
	return func(g *gate) {
		g.auditor = auditor
	}
}

// New creates a gate over an authority and an evaluator.
func New(authority token.Authority, evaluator policy.Evaluator, opts ...Option) (Gate, error) {
	if authority == nil {
		return nil, errors.New("authority is required")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}

	g := &gate{
		authority: authority,
		evaluator: evaluator,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil {
		g.metrics = NewMetrics("avaccess")
	}
	if g.auditor == nil {
		g.auditor = audit.NopLogger()
	}

	return g, nil
}

// Authorize verifies the token and evaluates policies. It never returns
// an error and never panics outward; every fault is a denial.
func (g *gate) Authorize(ctx context.Context, rawToken, resource, action string, metadata map[string]interface{}) (result *Result) {
	start := time.Now()

	ctx, span := gateTracer.Start(ctx, "gate.authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("resource", resource),
		attribute.String("action", action),
	)

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("authorization panicked",
				observability.String("resource", resource),
				observability.String("action", action),
				observability.Any("panic", r),
			)
			g.metrics.RecordAuthorize("error", time.Since(start))
			result = &Result{Allowed: false, Reason: "internal error"}
		}
		span.SetAttributes(attribute.Bool("allowed", result.Allowed))
	}()

	claims, err := g.authority.Verify(ctx, rawToken)
	if err != nil {
		reason := "token rejected"
		var tokenErr *token.TokenError
		if errors.As(err, &tokenErr) {
			reason = "token rejected: " + string(tokenErr.Reason)
		}
		g.logger.Info("authorization denied at token check",
			observability.String("resource", resource),
			observability.String("action", action),
			observability.Error(err),
		)
		g.metrics.RecordAuthorize("token_denied", time.Since(start))
		g.auditor.LogAuthorization(ctx, audit.OutcomeDenied,
			auditSubject(nil, metadata), &audit.Resource{Name: resource}, reason)
		return &Result{Allowed: false, Reason: reason}
	}

	environment := policy.Environment{Timestamp: g.now()}
	if ip, ok := metadata[MetaClientIP].(string); ok {
		environment.ClientIP = ip
	}
	if ua, ok := metadata[MetaUserAgent].(string); ok {
		environment.UserAgent = ua
	}

	decision, err := g.evaluator.Evaluate(ctx, &policy.EvalContext{
		Identity:    policy.Identity{ID: claims.Subject, Role: claims.Role},
		Resource:    policy.Resource{Name: resource, Data: resourceData(metadata)},
		Action:      policy.Action(action),
		Environment: environment,
		Metadata:    metadata,
	})
	if err != nil {
		// The evaluator already denied; keep its reason but log the
		// internal cause here only.
		g.logger.Error("policy evaluation failed",
			observability.String("subject", claims.Subject),
			observability.String("resource", resource),
			observability.String("action", action),
			observability.Error(err),
		)
	}

	status := "denied"
	outcome := audit.OutcomeDenied
	if decision.Allowed {
		status = "allowed"
		outcome = audit.OutcomeAllowed
	}
	g.metrics.RecordAuthorize(status, time.Since(start))
	g.auditor.LogAuthorization(ctx, outcome,
		auditSubject(claims, metadata), &audit.Resource{Name: resource}, decision.Reason)

	g.logger.Info("authorization decision",
		observability.String("subject", claims.Subject),
		observability.String("resource", resource),
		observability.String("action", action),
		observability.Bool("allowed", decision.Allowed),
		observability.String("reason", decision.Reason),
	)

	return &Result{
		Allowed:  decision.Allowed,
		Reason:   decision.Reason,
		Identity: claims,
	}
}

// resourceData extracts the resource attribute map from metadata, if
// the caller supplied one under "resource".
func resourceData(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	if data, ok := metadata["resource"].(map[string]interface{}); ok {
		return data
	}
	return nil
}

// auditSubject builds the audit subject from verified claims and request
// metadata. Claims are nil when token verification failed.
func auditSubject(claims *token.Claims, metadata map[string]interface{}) *audit.Subject {
	subject := &audit.Subject{}
	if claims != nil {
		subject.ID = claims.Subject
		subject.Role = string(claims.Role)
	}
	if ip, ok := metadata[MetaClientIP].(string); ok {
		subject.IPAddress = ip
	}
	if ua, ok := metadata[MetaUserAgent].(string); ok {
		subject.UserAgent = ua
	}
	return subject
}

// IssueToken creates a signed token for a principal.
func (g *gate) IssueToken(ctx context.Context, subject string, role token.Role, ttl time.Duration) (string, error) {
	raw, err := g.authority.Issue(ctx, &token.Claims{Subject: subject, Role: role}, ttl)

	outcome := audit.OutcomeSuccess
	if err != nil {
		outcome = audit.OutcomeFailure
	}
	event := audit.NewEvent(audit.EventTypeToken, audit.ActionTokenIssue, outcome)
	event.Subject = &audit.Subject{ID: subject, Role: string(role)}
	g.auditor.LogEvent(ctx, event)

	return raw, err
}

// RevokeToken revokes a token.
func (g *gate) RevokeToken(ctx context.Context, rawToken string) bool {
	revoked := g.authority.Revoke(ctx, rawToken)

	outcome := audit.OutcomeSuccess
	if !revoked {
		outcome = audit.OutcomeFailure
	}
	g.auditor.LogEvent(ctx, audit.NewEvent(audit.EventTypeToken, audit.ActionTokenRevoke, outcome))

	return revoked
}

// Ensure gate implements Gate.
var _ Gate = (*gate)(nil)
