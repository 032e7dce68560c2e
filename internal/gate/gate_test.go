package gate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/policy"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testHarness wires an authority, a seeded policy store and a gate.
type testHarness struct {
	gate  Gate
	store policy.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	authority, err := token.NewAuthority(&config.TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		DefaultTTL: config.Duration(time.Hour),
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = authority.Close() })

	store := policy.NewMemoryStore()
	evaluator, err := policy.NewEvaluator(store)
	require.NoError(t, err)

	g, err := New(authority, evaluator)
	require.NoError(t, err)

	return &testHarness{gate: g, store: store}
}

func (h *testHarness) seedAdminPolicy(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.store.CreatePolicy(ctx, &policy.Policy{
		ID: "p-admin", Name: "admin-full-access", Kind: policy.KindRoleBased,
		IsActive: true, Priority: 100,
	}))
	require.NoError(t, h.store.CreateRule(ctx, &policy.PolicyRule{
		ID: "r-all", PolicyID: "p-admin", Resource: policy.ResourceWildcard,
		Action: policy.ActionAll, Effect: policy.EffectAllow, IsActive: true,
	}))
	require.NoError(t, h.store.CreateRolePolicy(ctx, &policy.RolePolicy{
		ID: "rp-admin", Role: token.RoleAdmin, PolicyID: "p-admin", IsActive: true,
	}))
}

func TestAuthorizeAllowed(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.seedAdminPolicy(t)
	ctx := context.Background()

	raw, err := h.gate.IssueToken(ctx, "admin-1", token.RoleAdmin, time.Hour)
	require.NoError(t, err)

	result := h.gate.Authorize(ctx, raw, "Invoice", "delete", nil)
	assert.True(t, result.Allowed)
	assert.Contains(t, result.Reason, "admin-full-access")
	require.NotNil(t, result.Identity)
	assert.Equal(t, "admin-1", result.Identity.Subject)
}

func TestAuthorizeDefaultDeny(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	raw, err := h.gate.IssueToken(ctx, "user-1", token.RoleUser, time.Hour)
	require.NoError(t, err)

	result := h.gate.Authorize(ctx, raw, "Invoice", "delete", nil)
	assert.False(t, result.Allowed)
	assert.Equal(t, "no matching policy rule", result.Reason)
	assert.NotNil(t, result.Identity)
}

func TestAuthorizeMalformedToken(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.seedAdminPolicy(t)

	result := h.gate.Authorize(context.Background(), "garbage", "Invoice", "read", nil)
	assert.False(t, result.Allowed)
	assert.Equal(t, "token rejected: MALFORMED", result.Reason)
	assert.Nil(t, result.Identity)
}

func TestAuthorizeRevokedToken(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.seedAdminPolicy(t)
	ctx := context.Background()

	raw, err := h.gate.IssueToken(ctx, "admin-1", token.RoleAdmin, time.Hour)
	require.NoError(t, err)

	require.True(t, h.gate.RevokeToken(ctx, raw))

	result := h.gate.Authorize(ctx, raw, "Invoice", "read", nil)
	assert.False(t, result.Allowed)
	assert.Equal(t, "token rejected: REVOKED", result.Reason)
}

func TestAuthorizeEvaluatorFailureDenies(t *testing.T) {
	t.Parallel()

	authority, err := token.NewAuthority(&config.TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		DefaultTTL: config.Duration(time.Hour),
	}, false)
	require.NoError(t, err)
	defer authority.Close()

	g, err := New(authority, failingEvaluator{})
	require.NoError(t, err)

	ctx := context.Background()
	raw, err := g.IssueToken(ctx, "user-1", token.RoleUser, time.Hour)
	require.NoError(t, err)

	result := g.Authorize(ctx, raw, "Invoice", "read", nil)
	assert.False(t, result.Allowed)
	assert.Equal(t, "evaluation error", result.Reason)
}

func TestAuthorizePanicCollapsesToDeny(t *testing.T) {
	t.Parallel()

	authority, err := token.NewAuthority(&config.TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		DefaultTTL: config.Duration(time.Hour),
	}, false)
	require.NoError(t, err)
	defer authority.Close()

	g, err := New(authority, panickingEvaluator{})
	require.NoError(t, err)

	ctx := context.Background()
	raw, err := g.IssueToken(ctx, "user-1", token.RoleUser, time.Hour)
	require.NoError(t, err)

	result := g.Authorize(ctx, raw, "Invoice", "read", nil)
	assert.False(t, result.Allowed)
	assert.Equal(t, "internal error", result.Reason)
}

func TestAuthorizePassesResourceData(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.CreatePolicy(ctx, &policy.Policy{
		ID: "p-own", Name: "owner-edit", Kind: policy.KindAttributeBased,
		IsActive: true, Priority: 100,
	}))
	require.NoError(t, h.store.CreateRule(ctx, &policy.PolicyRule{
		ID: "r-own", PolicyID: "p-own", Resource: "Document", Action: policy.ActionUpdate,
		Effect: policy.EffectAllow, IsActive: true,
		Conditions: []policy.Condition{{Kind: policy.ConditionOwnership}},
	}))
	require.NoError(t, h.store.CreateRolePolicy(ctx, &policy.RolePolicy{
		ID: "rp-own", Role: token.RoleUser, PolicyID: "p-own", IsActive: true,
	}))

	raw, err := h.gate.IssueToken(ctx, "user-1", token.RoleUser, time.Hour)
	require.NoError(t, err)

	owned := map[string]interface{}{
		"resource": map[string]interface{}{"ownerId": "user-1"},
	}
	assert.True(t, h.gate.Authorize(ctx, raw, "Document", "update", owned).Allowed)

	foreign := map[string]interface{}{
		"resource": map[string]interface{}{"ownerId": "user-2"},
	}
	assert.False(t, h.gate.Authorize(ctx, raw, "Document", "update", foreign).Allowed)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, failingEvaluator{})
	require.Error(t, err)

	authority, err := token.NewAuthority(&config.TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		DefaultTTL: config.Duration(time.Hour),
	}, false)
	require.NoError(t, err)
	defer authority.Close()

	_, err = New(authority, nil)
	require.Error(t, err)
}

func TestAuthorizeWritesAuditTrail(t *testing.T) {
	t.Parallel()

	authority, err := token.NewAuthority(&config.TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		DefaultTTL: config.Duration(time.Hour),
	}, false)
	require.NoError(t, err)
	defer authority.Close()

	store := policy.NewMemoryStore()
	evaluator, err := policy.NewEvaluator(store)
	require.NoError(t, err)

	var buf bytes.Buffer
	auditor, err := audit.New("", audit.WithWriter(&buf))
	require.NoError(t, err)

	g, err := New(authority, evaluator, WithAudit(auditor))
	require.NoError(t, err)

	ctx := context.Background()
	raw, err := g.IssueToken(ctx, "user-1", token.RoleUser, time.Hour)
	require.NoError(t, err)

	metadata := map[string]interface{}{
		MetaClientIP:  "10.0.0.1",
		MetaUserAgent: "curl/8.0",
	}
	result := g.Authorize(ctx, raw, "Invoice", "read", metadata)
	require.False(t, result.Allowed)

	g.RevokeToken(ctx, raw)

	var events []audit.Event
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var event audit.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.Len(t, events, 3)

	assert.Equal(t, audit.ActionTokenIssue, events[0].Action)
	assert.Equal(t, audit.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, "user-1", events[0].Subject.ID)

	assert.Equal(t, audit.ActionAccess, events[1].Action)
	assert.Equal(t, audit.OutcomeDenied, events[1].Outcome)
	assert.Equal(t, "no matching policy rule", events[1].Reason)
	assert.Equal(t, "10.0.0.1", events[1].Subject.IPAddress)
	assert.Equal(t, "Invoice", events[1].Resource.Name)

	assert.Equal(t, audit.ActionTokenRevoke, events[2].Action)
	assert.Equal(t, audit.OutcomeSuccess, events[2].Outcome)
}

// failingEvaluator denies with an evaluation error.
type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, *policy.EvalContext) (*policy.Decision, error) {
	return &policy.Decision{Allowed: false, Reason: "evaluation error"},
		policy.NewEvaluationError("store down", policy.ErrStoreUnavailable)
}

// panickingEvaluator simulates an internal fault.
type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(context.Context, *policy.EvalContext) (*policy.Decision, error) {
	panic("boom")
}
