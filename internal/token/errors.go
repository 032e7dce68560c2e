package token

import (
	"errors"
	"fmt"
)

// Supported signing algorithms.
const (
	AlgHS256 = "HS256"
	AlgHS384 = "HS384"
	AlgHS512 = "HS512"
)

// Reason classifies why a token failed verification.
type Reason string

// Verification failure reasons.
const (
	// ReasonMalformed covers structural and signature failures.
	ReasonMalformed Reason = "MALFORMED"

	// ReasonExpired indicates the token's expiry has passed.
	ReasonExpired Reason = "EXPIRED"

	// ReasonRevoked indicates the token was revoked, either in the
	// in-memory blacklist or the durable store.
	ReasonRevoked Reason = "REVOKED"
)

// Sentinel errors for token operations.
var (
	// ErrEmptyToken indicates that the presented token is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrInvalidSignature indicates that the signature does not match.
	ErrInvalidSignature = errors.New("token signature is invalid")

	// ErrUnsupportedAlgorithm indicates an algorithm outside the HMAC
	// family the authority signs with.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")
)

// TokenError is the verification error returned by Verify. The Reason
// field is stable API; callers branch on it rather than the message.
type TokenError struct {
	Reason  Reason
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *TokenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token error (%s): %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("token error (%s): %s", e.Reason, e.Message)
}

// Unwrap returns the underlying error.
func (e *TokenError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TokenError) Is(target error) bool {
	var te *TokenError
	if errors.As(target, &te) {
		return te.Reason == e.Reason
	}
	return errors.Is(e.Cause, target)
}

// NewTokenError creates a new TokenError.
func NewTokenError(reason Reason, message string, cause error) *TokenError {
	return &TokenError{
		Reason:  reason,
		Message: message,
		Cause:   cause,
	}
}

// IsMalformed checks if an error is a MALFORMED token error.
func IsMalformed(err error) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Reason == ReasonMalformed
}

// IsExpired checks if an error is an EXPIRED token error.
func IsExpired(err error) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Reason == ReasonExpired
}

// IsRevoked checks if an error is a REVOKED token error.
func IsRevoked(err error) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Reason == ReasonRevoked
}

// ConfigError indicates that the authority cannot start with the given
// configuration. It is fatal at startup.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("token config error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("token config error: %s", e.Message)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}
