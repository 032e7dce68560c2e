// Package config provides configuration loading and validation for the
// authorization core.
package config

import "time"

// PlaceholderSecret is the value shipped in example configuration. The
// validator refuses to start a non-development process with it.
const PlaceholderSecret = "change-me-this-is-not-a-real-secret"

// MinSecretLength is the minimum accepted signing secret length in bytes.
const MinSecretLength = 32

// Config is the root configuration for the authorization service.
type Config struct {
	// Development relaxes the placeholder-secret check. Never set in
	// production.
	Development bool `yaml:"development"`

	Server  ServerConfig  `yaml:"server"`
	Token   TokenConfig   `yaml:"token"`
	Redis   RedisConfig   `yaml:"redis"`
	Policy  PolicyConfig  `yaml:"policy"`
	Log     LogConfig     `yaml:"log"`
	Audit   AuditConfig   `yaml:"audit"`
	Tracing TracingConfig `yaml:"tracing"`
	Vault   *VaultConfig  `yaml:"vault,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8443".
	Addr string `yaml:"addr"`

	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// AdminPasswordHash, when set, is the bcrypt hash required as a
	// basic-auth password on the administrative endpoints. Empty
	// leaves them open, for deployments fronted by their own auth.
	AdminPasswordHash string `yaml:"adminPasswordHash"`
}

// TokenConfig configures the token authority.
type TokenConfig struct {
	// Secret is the process-wide signing secret. Resolved from Vault
	// when SecretVaultPath is set.
	Secret string `yaml:"secret"`

	// SecretVaultPath is an optional Vault KV path holding the secret
	// under the key "secret".
	SecretVaultPath string `yaml:"secretVaultPath"`

	// Algorithm is the HMAC signing algorithm (HS256, HS384, HS512).
	Algorithm string `yaml:"algorithm"`

	// Issuer is embedded as the iss claim when non-empty.
	Issuer string `yaml:"issuer"`

	// DefaultTTL is the token lifetime used when the caller does not
	// specify one.
	DefaultTTL Duration `yaml:"defaultTTL"`

	// LookupTimeout bounds durable revocation-store calls.
	LookupTimeout Duration `yaml:"lookupTimeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding durable-store
// calls.
type BreakerConfig struct {
	// Threshold is the number of observed requests before the failure
	// ratio can trip the breaker.
	Threshold int `yaml:"threshold"`

	// Timeout is how long the breaker stays open before probing.
	Timeout Duration `yaml:"timeout"`
}

// RedisConfig configures the durable store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`

	// PasswordVaultPath is an optional Vault KV path holding the
	// password under the key "password".
	PasswordVaultPath string `yaml:"passwordVaultPath"`

	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"keyPrefix"`
	Dial      Duration `yaml:"dialTimeout"`
	Read      Duration `yaml:"readTimeout"`
	Write     Duration `yaml:"writeTimeout"`
}

// PolicyConfig configures the policy store.
type PolicyConfig struct {
	// Source selects the backing store: "memory" or "redis".
	Source string `yaml:"source"`

	// SeedFile is an optional YAML file of policies, rules and role
	// assignments loaded at startup.
	SeedFile string `yaml:"seedFile"`

	// Watch reloads the seed file on change.
	Watch bool `yaml:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// VaultConfig configures optional secret resolution from Vault.
type VaultConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Token   string `yaml:"token"`

	// Mount is the KV v2 mount point, defaulting to "secret".
	Mount string `yaml:"mount"`
}

// Default returns a configuration with sane defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8443",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Token: TokenConfig{
			Algorithm:     "HS256",
			DefaultTTL:    Duration(time.Hour),
			LookupTimeout: Duration(500 * time.Millisecond),
			Breaker: BreakerConfig{
				Threshold: 5,
				Timeout:   Duration(30 * time.Second),
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "avaccess:",
			Dial:      Duration(5 * time.Second),
			Read:      Duration(3 * time.Second),
			Write:     Duration(3 * time.Second),
		},
		Policy: PolicyConfig{
			Source: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Audit: AuditConfig{
			Output: "stdout",
		},
		Tracing: TracingConfig{
			SamplingRate: 0.1,
		},
	}
}

// applyDefaults fills zero values with defaults after unmarshaling.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Token.Algorithm == "" {
		c.Token.Algorithm = def.Token.Algorithm
	}
	if c.Token.DefaultTTL == 0 {
		c.Token.DefaultTTL = def.Token.DefaultTTL
	}
	if c.Token.LookupTimeout == 0 {
		c.Token.LookupTimeout = def.Token.LookupTimeout
	}
	if c.Token.Breaker.Threshold == 0 {
		c.Token.Breaker.Threshold = def.Token.Breaker.Threshold
	}
	if c.Token.Breaker.Timeout == 0 {
		c.Token.Breaker.Timeout = def.Token.Breaker.Timeout
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = def.Redis.KeyPrefix
	}
	if c.Redis.Dial == 0 {
		c.Redis.Dial = def.Redis.Dial
	}
	if c.Redis.Read == 0 {
		c.Redis.Read = def.Redis.Read
	}
	if c.Redis.Write == 0 {
		c.Redis.Write = def.Redis.Write
	}
	if c.Policy.Source == "" {
		c.Policy.Source = def.Policy.Source
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Log.Output
	}
	if c.Audit.Output == "" {
		c.Audit.Output = def.Audit.Output
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = def.Tracing.SamplingRate
	}
}
