package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// validAlgorithms are the accepted HMAC signing algorithms.
var validAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// validPolicySources are the accepted policy store backends.
var validPolicySources = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Validate validates the configuration. Signing-secret violations are
// fatal: the process must not start with a weak or placeholder secret.
func Validate(cfg *Config) error {
	v := &validator{}

	v.validateSecret(cfg)
	v.validateToken(cfg)
	v.validatePolicy(cfg)
	v.validateRedis(cfg)
	v.validateVault(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *validator) validateSecret(cfg *Config) {
	// A Vault path defers the check to resolution time; the resolved
	// secret passes through ValidateSecret before use.
	if cfg.Token.SecretVaultPath != "" {
		return
	}

	if err := ValidateSecret(cfg.Token.Secret, cfg.Development); err != nil {
		v.addError("token.secret", err.Error())
	}
}

// ValidateSecret checks a signing secret against the strength rules.
// It is exported so Vault-resolved secrets get the same treatment.
func ValidateSecret(secret string, development bool) error {
	if secret == "" {
		return fmt.Errorf("signing secret is required")
	}
	if len(secret) < MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d characters, got %d",
			MinSecretLength, len(secret))
	}
	if !development && secret == PlaceholderSecret {
		return fmt.Errorf("signing secret is the placeholder value; refusing to start outside development")
	}
	return nil
}

func (v *validator) validateToken(cfg *Config) {
	if !validAlgorithms[cfg.Token.Algorithm] {
		v.addError("token.algorithm",
			fmt.Sprintf("unsupported algorithm %q (want HS256, HS384 or HS512)", cfg.Token.Algorithm))
	}
	if cfg.Token.DefaultTTL <= 0 {
		v.addError("token.defaultTTL", "must be positive")
	}
	if cfg.Token.LookupTimeout <= 0 {
		v.addError("token.lookupTimeout", "must be positive")
	}
	if cfg.Token.Breaker.Threshold <= 0 {
		v.addError("token.breaker.threshold", "must be positive")
	}
}

func (v *validator) validatePolicy(cfg *Config) {
	if !validPolicySources[cfg.Policy.Source] {
		v.addError("policy.source",
			fmt.Sprintf("unsupported source %q (want memory or redis)", cfg.Policy.Source))
	}
}

func (v *validator) validateRedis(cfg *Config) {
	if cfg.Policy.Source != "redis" {
		return
	}
	if cfg.Redis.Addr == "" {
		v.addError("redis.addr", "required when policy.source is redis")
	}
}

func (v *validator) validateVault(cfg *Config) {
	needsVault := cfg.Token.SecretVaultPath != "" || cfg.Redis.PasswordVaultPath != ""
	if !needsVault {
		return
	}
	if cfg.Vault == nil || !cfg.Vault.Enabled {
		v.addError("vault", "vault paths configured but vault is not enabled")
		return
	}
	if cfg.Vault.Address == "" {
		v.addError("vault.address", "required when vault is enabled")
	}
}
