package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaccess/internal/audit"
	"github.com/vyrodovalexey/avaccess/internal/config"
	"github.com/vyrodovalexey/avaccess/internal/observability"
	"github.com/vyrodovalexey/avaccess/internal/policy"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("AVACCESS_TEST_VAR", "from-env")

	assert.Equal(t, "from-env", getEnvOrDefault("AVACCESS_TEST_VAR", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("AVACCESS_TEST_MISSING", "fallback"))
}

func TestInitStoresMemory(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Policy.Source = "memory"

	credStore, policyStore := initStores(cfg, observability.NopLogger())
	require.NotNil(t, credStore)
	require.NotNil(t, policyStore)

	assert.NoError(t, credStore.Close())
	assert.NoError(t, policyStore.Close())
}

func TestInitSeedAppliesFile(t *testing.T) {
	t.Parallel()

	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(`
policies:
  - id: p-admin
    name: admin-full-access
    kind: ROLE_BASED
    isActive: true
    rules:
      - id: r-all
        resource: "*"
        action: "*"
        effect: ALLOW
        isActive: true
rolePolicies:
  - id: rp-admin
    role: admin
    policyId: p-admin
    isActive: true
`), 0o600))

	cfg := config.Default()
	cfg.Policy.SeedFile = seedPath

	store := policy.NewMemoryStore()
	watcher := initSeed(cfg, store, policy.NewMetrics("avaccess"), audit.NopLogger(), observability.NopLogger())
	assert.Nil(t, watcher)

	policies, err := store.ListPolicies(t.Context())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "admin-full-access", policies[0].Name)
}

func TestInitSeedWithWatcher(t *testing.T) {
	t.Parallel()

	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte("policies: []\n"), 0o600))

	cfg := config.Default()
	cfg.Policy.SeedFile = seedPath
	cfg.Policy.Watch = true

	store := policy.NewMemoryStore()
	watcher := initSeed(cfg, store, policy.NewMetrics("avaccess"), audit.NopLogger(), observability.NopLogger())
	require.NotNil(t, watcher)
	assert.NoError(t, watcher.Stop())
}
