package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/observability"
	"github.com/vyrodovalexey/avaccess/internal/token"
)

// redisStore implements Store backed by redis hashes. Policies and
// rules are JSON-encoded; a separate name hash enforces uniqueness.
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

// NewRedisStore creates a redis-backed policy store and verifies
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

	return s, nil
}

func (s *redisStore) policiesKey() string {
	return s.keyPrefix + "policies"
}

func (s *redisStore) namesKey() string {
	return s.keyPrefix + "policy:names"
}

func (s *redisStore) rulesKey(policyID string) string {
	return s.keyPrefix + "rules:" + policyID
}

func (s *redisStore) roleKey(role token.Role) string {
	return s.keyPrefix + "roleassign:" + string(role)
}

func (s *redisStore) userKey(userID string) string {
	return s.keyPrefix + "userassign:" + userID
}

func (s *redisStore) CreatePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	reserved, err := s.client.HSetNX(ctx, s.namesKey(), p.Name, p.ID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !reserved {
		return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	if err := s.client.HSet(ctx, s.policiesKey(), p.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	data, err := s.client.HGet(ctx, s.policiesKey(), id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: policy %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &p, nil
}

func (s *redisStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	existing, err := s.GetPolicy(ctx, p.ID)
	if err != nil {
		return err
	}

	if existing.Name != p.Name {
		reserved, err := s.client.HSetNX(ctx, s.namesKey(), p.Name, p.ID).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !reserved {
			return fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
		if err := s.client.HDel(ctx, s.namesKey(), existing.Name).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	if err := s.client.HSet(ctx, s.policiesKey(), p.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) DeletePolicy(ctx context.Context, id string) error {
	p, err := s.GetPolicy(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.policiesKey(), id)
	pipe.HDel(ctx, s.namesKey(), p.Name)
	pipe.Del(ctx, s.rulesKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.client.HGetAll(ctx, s.policiesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	policies := make([]Policy, 0, len(rows))
	for id, raw := range rows {
		var p Policy
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to decode policy %s: %w", id, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func (s *redisStore) CreateRule(ctx context.Context, r *PolicyRule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	if _, err := s.GetPolicy(ctx, r.PolicyID); err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}
	if err := s.client.HSet(ctx, s.rulesKey(r.PolicyID), r.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) DeleteRule(ctx context.Context, policyID, ruleID string) error {
	removed, err := s.client.HDel(ctx, s.rulesKey(policyID), ruleID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
	}
	return nil
}

func (s *redisStore) ListRules(ctx context.Context, policyID string) ([]PolicyRule, error) {
	rows, err := s.client.HGetAll(ctx, s.rulesKey(policyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rules := make([]PolicyRule, 0, len(rows))
	for id, raw := range rows {
		var r PolicyRule
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode rule %s: %w", id, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (s *redisStore) CreateRolePolicy(ctx context.Context, rp *RolePolicy) error {
	if rp.ID == "" || rp.PolicyID == "" {
		return fmt.Errorf("role policy id and policyId are required")
	}
	if !rp.Role.Valid() {
		return fmt.Errorf("unknown role: %s", rp.Role)
	}

	data, err := json.Marshal(rp)
	if err != nil {
		return fmt.Errorf("failed to encode role policy: %w", err)
	}
	if err := s.client.HSet(ctx, s.roleKey(rp.Role), rp.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) DeleteRolePolicy(ctx context.Context, role token.Role, id string) error {
	removed, err := s.client.HDel(ctx, s.roleKey(role), id).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: role policy %s", ErrNotFound, id)
	}
	return nil
}

func (s *redisStore) ListRolePolicies(ctx context.Context, role token.Role) ([]RolePolicy, error) {
	rows, err := s.client.HGetAll(ctx, s.roleKey(role)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	assignments := make([]RolePolicy, 0, len(rows))
	for id, raw := range rows {
		var rp RolePolicy
		if err := json.Unmarshal([]byte(raw), &rp); err != nil {
			return nil, fmt.Errorf("failed to decode role policy %s: %w", id, err)
		}
		assignments = append(assignments, rp)
	}
	return assignments, nil
}

func (s *redisStore) CreateUserPolicy(ctx context.Context, up *UserPolicy) error {
	if up.ID == "" || up.UserID == "" || up.PolicyID == "" {
		return fmt.Errorf("user policy id, userId and policyId are required")
	}

	data, err := json.Marshal(up)
	if err != nil {
		return fmt.Errorf("failed to encode user policy: %w", err)
	}
	if err := s.client.HSet(ctx, s.userKey(up.UserID), up.ID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStore) DeleteUserPolicy(ctx context.Context, userID, id string) error {
	removed, err := s.client.HDel(ctx, s.userKey(userID), id).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: user policy %s", ErrNotFound, id)
	}
	return nil
}

func (s *redisStore) ListUserPolicies(ctx context.Context, userID string) ([]UserPolicy, error) {
	rows, err := s.client.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	assignments := make([]UserPolicy, 0, len(rows))
	for id, raw := range rows {
		var up UserPolicy
		if err := json.Unmarshal([]byte(raw), &up); err != nil {
			return nil, fmt.Errorf("failed to decode user policy %s: %w", id, err)
		}
		assignments = append(assignments, up)
	}
	return assignments, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// Ensure redisStore implements Store.
var _ Store = (*redisStore)(nil)
