package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/credential"
	"github.com/vyrodovalexey/avaccess/internal/gate"
	"github.com/vyrodovalexey/avaccess/internal/policy"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return newTestServerWithConfig(t, &config.ServerConfig{}, opts...)
}

func newTestServerWithConfig(t *testing.T, cfg *config.ServerConfig, opts ...Option) *Server {
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

	g, err := gate.New(authority, evaluator)
	require.NoError(t, err)

	return New(cfg, g, authority, store, opts...)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueAndAuthorizeFlow(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	// Seed an admin policy through the admin API.
	w := doJSON(t, s, http.MethodPost, "/v1/policies", map[string]interface{}{
		"id": "p-admin", "name": "admin-full-access", "kind": "ROLE_BASED",
		"isActive": true, "priority": 100,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/policies/p-admin/rules", map[string]interface{}{
		"id": "r-all", "resource": "*", "action": "*", "effect": "ALLOW", "isActive": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/role-policies", map[string]interface{}{
		"id": "rp-admin", "role": "admin", "policyId": "p-admin", "isActive": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"subject": "admin-1", "role": "admin", "ttl": "1h",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	raw := decode(t, w)["token"].(string)
	require.NotEmpty(t, raw)

	w = doJSON(t, s, http.MethodPost, "/v1/authorize", map[string]interface{}{
		"token": raw, "resource": "Invoice", "action": "delete",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["allowed"])
	assert.Equal(t, "admin-1", resp["subject"])
	assert.Equal(t, "admin", resp["role"])
}

func TestAuthorizeDeniesBadToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/authorize", map[string]interface{}{
		"token": "garbage", "resource": "Invoice", "action": "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["allowed"])
	assert.Equal(t, "token rejected: MALFORMED", resp["reason"])
}

func TestRevokeFlow(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"subject": "user-1", "role": "user",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	raw := decode(t, w)["token"].(string)

	w = doJSON(t, s, http.MethodDelete, "/v1/tokens", map[string]interface{}{"token": raw})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["revoked"])

	w = doJSON(t, s, http.MethodPost, "/v1/authorize", map[string]interface{}{
		"token": raw, "resource": "Invoice", "action": "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "token rejected: REVOKED", decode(t, w)["reason"])
}

func TestIssueTokenValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"subject": "user-1", "role": "sudo",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"subject": "user-1", "role": "user", "ttl": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPolicyAdminErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/policies", map[string]interface{}{
		"id": "p-1", "name": "shared", "kind": "ROLE_BASED", "isActive": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Duplicate name conflicts.
	w = doJSON(t, s, http.MethodPost, "/v1/policies", map[string]interface{}{
		"id": "p-2", "name": "shared", "kind": "ROLE_BASED", "isActive": true,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown policy is a 404.
	w = doJSON(t, s, http.MethodGet, "/v1/policies/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/v1/policies/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Invalid body is a 400.
	w = doJSON(t, s, http.MethodPost, "/v1/policies", map[string]interface{}{
		"id": "p-3", "name": "bad-kind", "kind": "BOGUS",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPolicyCascadeDeleteOverHTTP(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/policies", map[string]interface{}{
		"id": "p-1", "name": "with-rules", "kind": "ROLE_BASED", "isActive": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/policies/p-1/rules", map[string]interface{}{
		"id": "r-1", "resource": "Invoice", "action": "read", "isActive": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/v1/policies/p-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/v1/policies/p-1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rules, ok := decode(t, w)["rules"].([]interface{})
	if ok {
		assert.Empty(t, rules)
	}
}

func TestClearBlacklistEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"subject": "user-1", "role": "user",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	raw := decode(t, w)["token"].(string)

	w = doJSON(t, s, http.MethodDelete, "/v1/tokens", map[string]interface{}{"token": raw})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/admin/blacklist/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["cleared"])

	// Memory-only deployment: the token verifies again after the clear.
	w = doJSON(t, s, http.MethodPost, "/v1/authorize", map[string]interface{}{
		"token": raw, "resource": "Invoice", "action": "read",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no matching policy rule", decode(t, w)["reason"])
}

func TestAdminEndpointsRequirePassword(t *testing.T) {
	t.Parallel()

	hash, err := credential.HashPassword("s3cret")
	require.NoError(t, err)

	s := newTestServerWithConfig(t, &config.ServerConfig{AdminPasswordHash: hash})

	send := func(user, password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
		if password != "" {
			req.SetBasicAuth(user, password)
		}
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, send("", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send("admin", "wrong").Code)
	assert.Equal(t, http.StatusOK, send("admin", "s3cret").Code)

	// Token issuance stays open.
	w := doJSON(t, s, http.MethodPost, "/v1/tokens", map[string]interface{}{
		"subject": "user-1", "role": "user",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAdminMutationsAudited(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	auditor, err := audit.New("", audit.WithWriter(&buf))
	require.NoError(t, err)

	s := newTestServer(t, WithAuditTrail(auditor))

	w := doJSON(t, s, http.MethodPost, "/v1/policies", map[string]interface{}{
		"id": "p-1", "name": "billing", "kind": "ROLE_BASED", "isActive": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPut, "/v1/policies/p-1", map[string]interface{}{
		"name": "billing", "kind": "ROLE_BASED", "isActive": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/v1/policies/p-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodPost, "/v1/admin/blacklist/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// A rejected mutation leaves no record.
	w = doJSON(t, s, http.MethodDelete, "/v1/policies/p-1", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var events []audit.Event
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var event audit.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.Len(t, events, 4)

	for _, event := range events {
		assert.Equal(t, audit.EventTypeAdministrative, event.Type)
		assert.Equal(t, audit.OutcomeSuccess, event.Outcome)
		require.NotNil(t, event.Subject)
		assert.NotEmpty(t, event.Subject.IPAddress)
	}

	assert.Equal(t, audit.ActionPolicyCreate, events[0].Action)
	assert.Equal(t, "billing", events[0].Resource.Name)
	assert.Equal(t, audit.ActionPolicyUpdate, events[1].Action)
	assert.Equal(t, audit.ActionPolicyDelete, events[2].Action)
	assert.Equal(t, "p-1", events[2].Resource.ID)
	assert.Equal(t, audit.ActionBlacklistClear, events[3].Action)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.cfg.Addr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
