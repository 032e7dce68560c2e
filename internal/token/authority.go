package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/avaccess/internal/circuitbreaker"
	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/credential"
	"github.com/vyrodovalexey/avaccess/internal/observability"
)

// tokenTracer is the OTEL tracer for authority operations.
var tokenTracer = otel.Tracer("avaccess/token")

// Default bounds applied when the configuration leaves them unset.
const (
	defaultTokenTTL         = time.Hour
	defaultLookupTimeout    = 500 * time.Millisecond
	defaultBreakerThreshold = 5
	defaultBreakerTimeout   = 30 * time.Second
)

// Authority issues, verifies and revokes signed tokens.
type Authority interface {
	// Issue creates a signed token for the claims. iat, exp and jti are
	// always set by the authority; a zero ttl uses the configured
	// default.
	Issue(ctx context.Context, claims *Claims, ttl time.Duration) (string, error)

	// Verify checks the token's structure, signature, expiry and
	// revocation status. Failures are *TokenError values.
	Verify(ctx context.Context, raw string) (*Claims, error)

	// Revoke blacklists the token in memory and records the revocation
	// durably. It returns true when at least the in-memory insert
	// succeeded.
	Revoke(ctx context.Context, raw string) bool

	// ClearBlacklist drops the in-memory blacklist only. Durable
	// revocations remain authoritative.
	ClearBlacklist()

	// Close stops background work. The credential store is owned by the
	// caller and is not closed.
	Close() error
}

// authority implements the Authority interface.
type authority struct {
	cfg       *config.TokenConfig
	secret    []byte
	algorithm string
	hashFunc  func() hash.Hash
	store     credential.Store
	breaker   *circuitbreaker.CircuitBreaker
	blacklist *blacklist
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
	wg        sync.WaitGroup
}

// AuthorityOption is a functional option for the authority.
type AuthorityOption func(*authority)

// WithAuthorityLogger sets the logger for the authority.
func WithAuthorityLogger(logger observability.Logger) AuthorityOption {
	return func(a *authority) {
		a.logger = logger
	}
}

// WithAuthorityMetrics sets the metrics for the authority.
func WithAuthorityMetrics(metrics *Metrics) AuthorityOption {
	return func(a *authority) {
		a.metrics = metrics
	}
}

// WithStore sets the durable credential store. Without a store the
// authority runs memory-only.
func WithStore(store credential.Store) AuthorityOption {
	return func(a *authority) {
		a.store = store
	}
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) AuthorityOption {
	return func(a *authority) {
		a.now = now
	}
}

// NewAuthority creates a token authority. The signing secret must
// satisfy the strength requirements; a violation is a *ConfigError and
// callers treat it as fatal.
func NewAuthority(cfg *config.TokenConfig, development bool, opts ...AuthorityOption) (Authority, error) {
	if cfg == nil {
		return nil, NewConfigError("", "config is required")
	}

	if err := config.ValidateSecret(cfg.Secret, development); err != nil {
		return nil, NewConfigError("token.secret", err.Error())
	}

	// Work on a copy so defaulting never mutates caller state.
	cfgCopy := *cfg
	if cfgCopy.DefaultTTL.Duration() <= 0 {
		cfgCopy.DefaultTTL = config.Duration(defaultTokenTTL)
	}

	a := &authority{
		cfg:       &cfgCopy,
		secret:    []byte(cfgCopy.Secret),
		algorithm: cfgCopy.Algorithm,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.algorithm == "" {
		a.algorithm = AlgHS256
	}
	hashFunc, err := hmacHashFunc(a.algorithm)
	if err != nil {
		return nil, NewConfigError("token.algorithm", err.Error())
	}
	a.hashFunc = hashFunc

	if a.metrics == nil {
		a.metrics = NewMetrics("avaccess")
	}

	threshold := cfg.Breaker.Threshold
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	breakerTimeout := cfg.Breaker.Timeout.Duration()
	if breakerTimeout <= 0 {
		breakerTimeout = defaultBreakerTimeout
	}
	a.breaker = circuitbreaker.New("credential-store", threshold, breakerTimeout,
		circuitbreaker.WithLogger(a.logger),
	)

	a.blacklist = newBlacklist(defaultCleanupInterval)

	return a, nil
}

// hmacHashFunc resolves the hash constructor for an HMAC algorithm.
func hmacHashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case AlgHS256:
		return sha256.New, nil
	case AlgHS384:
		return sha512.New384, nil
	case AlgHS512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// HashToken returns the hex-encoded SHA-256 hash of a raw token. Raw
// tokens are never persisted, only their hashes.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue creates a signed token for the claims.
func (a *authority) Issue(ctx context.Context, claims *Claims, ttl time.Duration) (string, error) {
	start := time.Now()

	_, span := tokenTracer.Start(ctx, "token.issue")
	defer span.End()
	span.SetAttributes(attribute.String("algorithm", a.algorithm))

	if claims == nil || claims.Subject == "" {
		a.metrics.RecordIssue("error", a.algorithm, time.Since(start))
		return "", fmt.Errorf("claims with a subject are required")
	}
	if !claims.Role.Valid() {
		a.metrics.RecordIssue("error", a.algorithm, time.Since(start))
		return "", fmt.Errorf("unknown role: %s", claims.Role)
	}

	if ttl <= 0 {
		ttl = a.cfg.DefaultTTL.Duration()
	}

	now := a.now()
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(ttl)
	claims.JWTID = uuid.New().String()
	if claims.Issuer == "" {
		claims.Issuer = a.cfg.Issuer
	}

	token, err := a.sign(claims)
	if err != nil {
		a.metrics.RecordIssue("error", a.algorithm, time.Since(start))
		return "", err
	}

	a.metrics.RecordIssue("success", a.algorithm, time.Since(start))
	a.logger.Debug("token issued",
		observability.String("subject", claims.Subject),
		observability.String("role", string(claims.Role)),
		observability.String("jti", claims.JWTID),
	)

	return token, nil
}

// sign builds and signs the three-segment token.
func (a *authority) sign(claims *Claims) (string, error) {
	header := map[string]interface{}{
		"alg": a.algorithm,
		"typ": "JWT",
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("failed to encode header: %w", err)
	}

	payloadJSON, err := json.Marshal(claims.ToMap())
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	mac := hmac.New(a.hashFunc, a.secret)
	mac.Write([]byte(signingInput))

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the token and returns its claims.
func (a *authority) Verify(ctx context.Context, raw string) (*Claims, error) {
	start := time.Now()

	ctx, span := tokenTracer.Start(ctx, "token.verify")
	defer span.End()
	span.SetAttributes(attribute.String("algorithm", a.algorithm))

	claims, err := a.parseAndVerifySignature(raw)
	if err != nil {
		a.metrics.RecordVerify("malformed", a.algorithm, time.Since(start))
		return nil, err
	}

	now := a.now()
	if !now.Before(claims.ExpiresAt) {
		a.metrics.RecordVerify("expired", a.algorithm, time.Since(start))
		return nil, NewTokenError(ReasonExpired, "token has expired", nil)
	}

	tokenHash := HashToken(raw)

	if a.blacklist.contains(tokenHash, now) {
		a.metrics.RecordVerify("revoked", a.algorithm, time.Since(start))
		return nil, NewTokenError(ReasonRevoked, "token has been revoked", nil)
	}

	revoked, err := a.durableRevocationCheck(ctx, tokenHash)
	if err != nil {
		// The store is unreachable or the breaker is open. Degrade to
		// the in-memory check already performed.
		a.metrics.RecordDegradedLookup()
		a.logger.Warn("durable revocation lookup skipped",
			observability.String("tokenHash", tokenHash),
			observability.Error(err),
		)
	}
	if revoked {
		a.metrics.RecordVerify("revoked", a.algorithm, time.Since(start))
		return nil, NewTokenError(ReasonRevoked, "token has been revoked", nil)
	}

	a.recordLastUsed(tokenHash)

	a.metrics.RecordVerify("success", a.algorithm, time.Since(start))
	return claims, nil
}

// parseAndVerifySignature checks structure and signature. Any failure
// is a MALFORMED token error.
func (a *authority) parseAndVerifySignature(raw string) (*Claims, error) {
	if raw == "" {
		return nil, NewTokenError(ReasonMalformed, "token is empty", ErrEmptyToken)
	}

	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, NewTokenError(ReasonMalformed, "token must have three segments", nil)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, NewTokenError(ReasonMalformed, "failed to decode header", err)
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, NewTokenError(ReasonMalformed, "failed to parse header", err)
	}
	if header.Alg != a.algorithm {
		return nil, NewTokenError(ReasonMalformed,
			fmt.Sprintf("unexpected algorithm %q", header.Alg), ErrUnsupportedAlgorithm)
	}

	signature, err := base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		return nil, NewTokenError(ReasonMalformed, "failed to decode signature", err)
	}

	mac := hmac.New(a.hashFunc, a.secret)
	mac.Write([]byte(segments[0] + "." + segments[1]))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return nil, NewTokenError(ReasonMalformed, "signature mismatch", ErrInvalidSignature)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return nil, NewTokenError(ReasonMalformed, "failed to decode payload", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, NewTokenError(ReasonMalformed, "failed to parse payload", err)
	}

	claims, err := claimsFromMap(payload)
	if err != nil {
		return nil, NewTokenError(ReasonMalformed, "invalid claims", err)
	}

	return claims, nil
}

// durableRevocationCheck consults the credential store under the
// configured timeout, behind the circuit breaker.
func (a *authority) durableRevocationCheck(ctx context.Context, tokenHash string) (bool, error) {
	if a.store == nil {
		return false, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout())
	defer cancel()

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.store.FindRevocation(lookupCtx, tokenHash)
	})
	if err != nil {
		return false, err
	}

	found, _ := result.(bool)
	return found, nil
}

// recordLastUsed updates the last-used timestamp asynchronously.
// Failures are logged and otherwise ignored.
func (a *authority) recordLastUsed(tokenHash string) {
	if a.store == nil {
		return
	}

	usedAt := a.now()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.lookupTimeout())
		defer cancel()

		if err := a.store.UpdateLastUsed(ctx, tokenHash, usedAt); err != nil {
			a.logger.Debug("last-used update failed",
				observability.String("tokenHash", tokenHash),
				observability.Error(err),
			)
		}
	}()
}

// lookupTimeout returns the bound for durable-store calls.
func (a *authority) lookupTimeout() time.Duration {
	if t := a.cfg.LookupTimeout.Duration(); t > 0 {
		return t
	}
	return defaultLookupTimeout
}

// Revoke blacklists the token and records the revocation durably. The
// in-memory insert takes effect before this method returns, so a
// subsequent same-process Verify sees the revocation.
func (a *authority) Revoke(ctx context.Context, raw string) bool {
	if raw == "" {
		return false
	}

	tokenHash := HashToken(raw)

	// Keep the entry until the token would fail its expiry check
	// anyway. Unparseable tokens get the default lifetime.
	expiresAt := a.now().Add(a.cfg.DefaultTTL.Duration())
	if claims, err := a.parseAndVerifySignature(raw); err == nil {
		expiresAt = claims.ExpiresAt
	}

	a.blacklist.add(tokenHash, expiresAt)
	a.metrics.SetBlacklistSize(a.blacklist.size())

	durable := false
	if a.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, a.lookupTimeout())
		_, err := a.breaker.Execute(func() (interface{}, error) {
			return nil, a.store.RecordRevocation(storeCtx, tokenHash, a.now())
		})
		cancel()
		if err != nil {
			a.logger.Error("durable revocation write failed",
				observability.String("tokenHash", tokenHash),
				observability.Error(err),
			)
		} else {
			durable = true
		}
	}

	a.metrics.RecordRevoke(durable)
	a.logger.Info("token revoked",
		observability.String("tokenHash", tokenHash),
		observability.Bool("durable", durable),
	)

	return true
}

// ClearBlacklist drops the in-memory blacklist. Durable revocations are
// unaffected.
func (a *authority) ClearBlacklist() {
	a.blacklist.clear()
	a.metrics.SetBlacklistSize(0)
	a.logger.Warn("in-memory blacklist cleared")
}

// Close stops the blacklist cleanup loop and waits for in-flight
// background updates.
func (a *authority) Close() error {
	a.blacklist.close()
	a.wg.Wait()
	return nil
}

// Ensure authority implements Authority.
var _ Authority = (*authority)(nil)
