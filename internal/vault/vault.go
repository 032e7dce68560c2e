// Package vault resolves startup secrets from HashiCorp Vault's KV v2
// engine: the token signing secret and the redis password.
package vault

import (
	"context"
	"errors"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/observability"
)

// Sentinel errors for Vault operations.
var (
	// ErrDisabled indicates that Vault integration is not enabled.
	ErrDisabled = errors.New("vault is disabled")

	// ErrSecretNotFound indicates that the path or key does not exist.
	ErrSecretNotFound = errors.New("secret not found")
)

// Client reads secrets from the KV v2 engine.
type Client interface {
	// ReadKV reads the data map at a KV v2 path.
	ReadKV(ctx context.Context, path string) (map[string]interface{}, error)

	// ReadString reads a single string value at a KV v2 path.
	ReadString(ctx context.Context, path, key string) (string, error)

	// IsEnabled reports whether the client can serve reads.
	IsEnabled() bool
}

// client implements the Client interface.
type client struct {
	api     *vaultapi.Client
	mount   string
	enabled bool
	logger  observability.Logger
}

// Option is a functional option for the client.
type Option func(*client)

// WithLogger sets the logger for the client.
func WithLogger(logger observability.Logger) Option {
	return func(c *client) {
		c.logger = logger
	}
}

// New creates a Vault client. A disabled configuration yields a client
// whose reads fail with ErrDisabled.
func New(cfg *config.VaultConfig, opts ...Option) (Client, error) {
	c := &client{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if cfg == nil || !cfg.Enabled {
		return c, nil
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address

	api, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	api.SetToken(cfg.Token)

	c.api = api
	c.mount = cfg.Mount
	if c.mount == "" {
		c.mount = "secret"
	}
	c.enabled = true

	return c, nil
}

// IsEnabled reports whether the client can serve reads.
func (c *client) IsEnabled() bool {
	return c.enabled
}

// ReadKV reads the data map at a KV v2 path.
func (c *client) ReadKV(ctx context.Context, path string) (map[string]interface{}, error) {
	if !c.enabled {
		return nil, ErrDisabled
	}

	fullPath := fmt.Sprintf("%s/data/%s", c.mount, path)

	secret, err := c.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, fullPath)
	}

	// KV v2 wraps the payload in a "data" key; a deleted secret has
	// data: null.
	inner, ok := secret.Data["data"]
	if ok && inner == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, fullPath)
	}

	data, ok := inner.(map[string]interface{})
	if !ok {
		data = secret.Data
	}

	c.logger.Debug("secret read", observability.String("path", fullPath))
	return data, nil
}

// ReadString reads a single string value at a KV v2 path.
func (c *client) ReadString(ctx context.Context, path, key string) (string, error) {
	data, err := c.ReadKV(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: key %q at %s", ErrSecretNotFound, key, path)
	}
	return value, nil
}

// ResolveConfigSecrets fills in configuration fields that reference
// Vault paths: the token signing secret and the redis password. Values
// already present in the configuration are left alone.
func ResolveConfigSecrets(ctx context.Context, cfg *config.Config, c Client) error {
	if cfg.Token.Secret == "" && cfg.Token.SecretVaultPath != "" {
		secret, err := c.ReadString(ctx, cfg.Token.SecretVaultPath, "secret")
		if err != nil {
			return fmt.Errorf("failed to resolve signing secret: %w", err)
		}
		cfg.Token.Secret = secret
	}

	if cfg.Redis.Password == "" && cfg.Redis.PasswordVaultPath != "" {
		password, err := c.ReadString(ctx, cfg.Redis.PasswordVaultPath, "password")
		if err != nil {
			return fmt.Errorf("failed to resolve redis password: %w", err)
		}
		cfg.Redis.Password = password
	}

	return nil
}

// Ensure client implements Client.
var _ Client = (*client)(nil)
