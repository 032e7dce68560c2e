package token

import (
	"fmt"
	"time"
)

// Role is the principal role carried in a claim.
type Role string

// Known roles.
const (
	RoleAnon      Role = "anon"
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleViewer    Role = "viewer"
	RoleEditor    Role = "editor"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAnon, RoleUser, RoleAdmin, RoleModerator, RoleViewer, RoleEditor:
		return true
	}
	return false
}

// Claims is the signed payload embedded in every issued token. Claims
// are immutable once signed; a new token is a new claim.
type Claims struct {
	// Subject is the principal identifier (sub).
	Subject string

	// Role is the principal's role.
	Role Role

	// IssuedAt is when the token was issued (iat).
	IssuedAt time.Time

	// ExpiresAt is when the token expires (exp).
	ExpiresAt time.Time

	// JWTID is the unique token identifier (jti).
	JWTID string

	// Issuer identifies the issuing authority (iss).
	Issuer string
}

// ToMap converts the claims to the wire payload. Timestamps are encoded
// as unix seconds.
func (c *Claims) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"sub":  c.Subject,
		"role": string(c.Role),
		"iat":  c.IssuedAt.Unix(),
		"exp":  c.ExpiresAt.Unix(),
		"jti":  c.JWTID,
	}
	if c.Issuer != "" {
		m["iss"] = c.Issuer
	}
	return m
}

// claimsFromMap parses a decoded payload into Claims. Missing or
// mistyped required fields are an error.
func claimsFromMap(m map[string]interface{}) (*Claims, error) {
	c := &Claims{}

	sub, ok := m["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing or invalid sub claim")
	}
	c.Subject = sub

	role, ok := m["role"].(string)
	if !ok || role == "" {
		return nil, fmt.Errorf("missing or invalid role claim")
	}
	c.Role = Role(role)

	iat, err := numericClaim(m, "iat")
	if err != nil {
		return nil, err
	}
	c.IssuedAt = time.Unix(iat, 0)

	exp, err := numericClaim(m, "exp")
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = time.Unix(exp, 0)

	if jti, ok := m["jti"].(string); ok {
		c.JWTID = jti
	}
	if iss, ok := m["iss"].(string); ok {
		c.Issuer = iss
	}

	return c, nil
}

// numericClaim extracts a unix-seconds claim. JSON numbers decode as
// float64; integers are accepted for payloads built in-process.
func numericClaim(m map[string]interface{}, name string) (int64, error) {
	switch v := m[name].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("missing or invalid %s claim", name)
	}
}
