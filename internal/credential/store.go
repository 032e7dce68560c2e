// Package credential implements the durable credential store backing the
// token authority: revocation records keyed by token hash and password
// hashing for principals.
package credential

import (
	"context"
	"errors"
	"time"
)

// Common credential store errors.
var (
	// ErrStoreUnavailable indicates that the durable store could not be
	// reached.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("credential record not found")
)

// RevocationRecord is the durable record of a revoked token. The raw
// token is never stored, only its SHA-256 hash.
type RevocationRecord struct {
	TokenHash  string     `json:"tokenHash"`
	RevokedAt  time.Time  `json:"revokedAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// Store is the durable collaborator consumed by the token authority.
// Revocation records are write-once and never deleted; expiry of the
// underlying token makes them moot once the signature check fails.
type Store interface {
	// FindRevocation reports whether a revocation record exists for the
	// token hash.
	FindRevocation(ctx context.Context, tokenHash string) (bool, error)

	// RecordRevocation persists a revocation record for the token hash.
	// Recording an already-revoked hash is not an error.
	RecordRevocation(ctx context.Context, tokenHash string, revokedAt time.Time) error

	// UpdateLastUsed records the last time a token was presented. Best
	// effort; callers tolerate failure.
	UpdateLastUsed(ctx context.Context, tokenHash string, t time.Time) error

	// Close releases the store's resources.
	Close() error
}
