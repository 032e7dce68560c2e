package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleValid(t *testing.T) {
	t.Parallel()

	for _, role := range []Role{RoleAnon, RoleUser, RoleAdmin, RoleModerator, RoleViewer, RoleEditor} {
		assert.True(t, role.Valid(), "role %s", role)
	}

	assert.False(t, Role("sudo").Valid())
	assert.False(t, Role("").Valid())
}

func TestClaimsRoundTrip(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	original := &Claims{
		Subject:   "user-1",
		Role:      RoleEditor,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Hour),
		JWTID:     "jti-1",
		Issuer:    "avaccess",
	}

	parsed, err := claimsFromMap(original.ToMap())
	require.NoError(t, err)

	assert.Equal(t, original.Subject, parsed.Subject)
	assert.Equal(t, original.Role, parsed.Role)
	assert.Equal(t, original.IssuedAt.Unix(), parsed.IssuedAt.Unix())
	assert.Equal(t, original.ExpiresAt.Unix(), parsed.ExpiresAt.Unix())
	assert.Equal(t, original.JWTID, parsed.JWTID)
	assert.Equal(t, original.Issuer, parsed.Issuer)
}

func TestClaimsOmitsEmptyIssuer(t *testing.T) {
	t.Parallel()

	c := &Claims{Subject: "user-1", Role: RoleUser, IssuedAt: time.Now(), ExpiresAt: time.Now()}
	_, ok := c.ToMap()["iss"]
	assert.False(t, ok)
}

func TestClaimsFromMapMissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{name: "missing sub", payload: map[string]interface{}{"role": "user", "iat": float64(1), "exp": float64(2)}},
		{name: "missing role", payload: map[string]interface{}{"sub": "u", "iat": float64(1), "exp": float64(2)}},
		{name: "missing iat", payload: map[string]interface{}{"sub": "u", "role": "user", "exp": float64(2)}},
		{name: "missing exp", payload: map[string]interface{}{"sub": "u", "role": "user", "iat": float64(1)}},
		{name: "mistyped iat", payload: map[string]interface{}{"sub": "u", "role": "user", "iat": "soon", "exp": float64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := claimsFromMap(tt.payload)
			require.Error(t, err)
		})
	}
}
