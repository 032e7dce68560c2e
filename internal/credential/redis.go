package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/observability"
)

// redisStore implements Store backed by redis.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    observability.Logger
}

// RedisStoreOption is a functional option for the redis store.
type RedisStoreOption func(*redisStore)

// WithRedisStoreLogger sets the logger.
func WithRedisStoreLogger(logger observability.Logger) RedisStoreOption {
	return func(s *redisStore) {
		s.logger = logger
	}
}

// WithRedisClient supplies an existing client instead of dialing a new
// one. The caller keeps ownership of the client's lifecycle.
func WithRedisClient(client *redis.Client) RedisStoreOption {
	return func(s *redisStore) {
		s.client = client
	}
}

// NewRedisStore creates a redis-backed credential store and verifies
// connectivity with a ping.
func NewRedisStore(cfg *config.RedisConfig, opts ...RedisStoreOption) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	s := &redisStore{
		keyPrefix: cfg.KeyPrefix,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.Dial.Duration(),
			ReadTimeout:  cfg.Read.Duration(),
			WriteTimeout: cfg.Write.Duration(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Dial.Duration())
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info("credential store connected",
		observability.String("addr", cfg.Addr),
		observability.Int("db", cfg.DB),
	)

	return s, nil
}

// revocationKey builds the redis key for a revocation record.
func (s *redisStore) revocationKey(tokenHash string) string {
	return s.keyPrefix + "revoked:" + tokenHash
}

// FindRevocation reports whether a revocation record exists.
func (s *redisStore) FindRevocation(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revocationKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// RecordRevocation persists a revocation record. Records carry no TTL:
// revocations are never deleted.
func (s *redisStore) RecordRevocation(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	record := RevocationRecord{
		TokenHash: tokenHash,
		RevokedAt: revokedAt,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode revocation record: %w", err)
	}

	if err := s.client.Set(ctx, s.revocationKey(tokenHash), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Debug("revocation recorded",
		observability.String("tokenHash", tokenHash),
	)

	return nil
}

// UpdateLastUsed records the last-used timestamp for a token hash. When a
// revocation record exists the timestamp is folded into it, otherwise a
// standalone last-used key is written.
func (s *redisStore) UpdateLastUsed(ctx context.Context, tokenHash string, t time.Time) error {
	key := s.revocationKey(tokenHash)

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == redis.Nil:
		lastUsedKey := s.keyPrefix + "lastused:" + tokenHash
		if err := s.client.Set(ctx, lastUsedKey, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record RevocationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("failed to decode revocation record: %w", err)
	}

	record.LastUsedAt = &t
	updated, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode revocation record: %w", err)
	}

	if err := s.client.Set(ctx, key, updated, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

// Close closes the underlying client.
func (s *redisStore) Close() error {
	return s.client.Close()
}

// Ensure redisStore implements Store.
var _ Store = (*redisStore)(nil)
