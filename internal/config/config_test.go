package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	yaml := `
development: true
server:
  addr: ":9000"
token:
  secret: "` + testSecret + `"
  defaultTTL: "30m"
policy:
  source: memory
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.True(t, cfg.Development)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, testSecret, cfg.Token.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Token.DefaultTTL.Duration())

	// Defaults fill unset fields.
	assert.Equal(t, "HS256", cfg.Token.Algorithm)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Policy.Source)
	assert.Equal(t, 500*time.Millisecond, cfg.Token.LookupTimeout.Duration())
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("AVACCESS_TEST_SECRET", testSecret)

	yaml := `
token:
  secret: "${AVACCESS_TEST_SECRET}"
  issuer: "${AVACCESS_TEST_ISSUER:-avaccess}"
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.Token.Secret)
	assert.Equal(t, "avaccess", cfg.Token.Issuer)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "avaccess.yaml")
	content := "token:\n  secret: \"" + testSecret + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Token.Secret)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.Token.Secret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Token.Secret = "" },
			wantErr: "token.secret",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Token.Secret = "too-short" },
			wantErr: "at least 32",
		},
		{
			name:    "placeholder secret in production",
			mutate:  func(c *Config) { c.Token.Secret = PlaceholderSecret },
			wantErr: "placeholder",
		},
		{
			name: "placeholder secret allowed in development",
			mutate: func(c *Config) {
				c.Development = true
				c.Token.Secret = PlaceholderSecret
			},
		},
		{
			name:    "unsupported algorithm",
			mutate:  func(c *Config) { c.Token.Algorithm = "RS256" },
			wantErr: "token.algorithm",
		},
		{
			name:    "non-positive ttl",
			mutate:  func(c *Config) { c.Token.DefaultTTL = 0 },
			wantErr: "token.defaultTTL",
		},
		{
			name:    "bad policy source",
			mutate:  func(c *Config) { c.Policy.Source = "postgres" },
			wantErr: "policy.source",
		},
		{
			name: "redis source requires addr",
			mutate: func(c *Config) {
				c.Policy.Source = "redis"
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
		{
			name: "vault path without vault",
			mutate: func(c *Config) {
				c.Token.Secret = ""
				c.Token.SecretVaultPath = "avaccess/signing"
			},
			wantErr: "vault",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPlaceholderSecretLength(t *testing.T) {
	t.Parallel()

	// The placeholder must itself satisfy the length rule so the only
	// reason it is rejected in production is being the placeholder.
	assert.GreaterOrEqual(t, len(PlaceholderSecret), MinSecretLength)
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()

	d := Duration(90 * time.Second)

	jsonData, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(jsonData))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(jsonData))
	assert.Equal(t, d, back)

	var empty Duration
	require.NoError(t, empty.UnmarshalJSON([]byte(`""`)))
	assert.Equal(t, Duration(0), empty)
}

func TestWatcherReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("initial"), 0o600))

	reloaded := make(chan []byte, 4)
	w, err := NewWatcher(path, func(data []byte) {
		reloaded <- data
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(t.Context()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("updated"), 0o600))

	select {
	case data := <-reloaded:
		assert.Equal(t, "updated", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver the reload")
	}
}
