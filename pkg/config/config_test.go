package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadex/salesagent/pkg/tenants"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_ADDR",
		"REVIEW_SCORER", "REVIEW_WORKERS", "DELIVERY_POLL_INTERVAL",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "heuristic", cfg.ReviewScorer)
	assert.Equal(t, 4, cfg.ReviewWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.DeliveryPollInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REVIEW_WORKERS", "12")
	t.Setenv("DELIVERY_POLL_INTERVAL", "2s")
	t.Setenv("REVIEW_WORKERS_BOGUS", "x")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 12, cfg.ReviewWorkers)
	assert.Equal(t, 2*time.Second, cfg.DeliveryPollInterval)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("REVIEW_WORKERS", "not-a-number")
	t.Setenv("DELIVERY_POLL_INTERVAL", "soon")

	cfg := Load()
	assert.Equal(t, 4, cfg.ReviewWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.DeliveryPollInterval)
}

func writePolicy(t *testing.T, dir, tenant, body string) {
	t.Helper()
	path := filepath.Join(dir, "policy_"+tenant+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadTenantPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "acme", `
tenant_id: acme
always_approve_kinds: [create]
review_confidence_threshold: 0.8
`)

	policy, err := LoadTenantPolicy(dir, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", policy.TenantID)
	assert.Equal(t, []string{"create"}, policy.AlwaysApproveKinds)
	assert.InDelta(t, 0.8, policy.ReviewConfidenceThreshold, 1e-9)

	_, err = LoadTenantPolicy(dir, "missing")
	assert.Error(t, err)
}

func TestLoadTenantPolicyFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "globex", `
auto_approve_kinds: [update]
`)

	policy, err := LoadTenantPolicy(dir, "globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", policy.TenantID)
}

func TestSeedPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "acme", "tenant_id: acme\n")
	writePolicy(t, dir, "globex", "always_approve_kinds: [create]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	store := tenants.NewMemoryStore()
	n, err := SeedPolicies(context.Background(), dir, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	policy, err := store.GetPolicy(context.Background(), "globex")
	require.NoError(t, err)
	assert.Equal(t, []string{"create"}, policy.AlwaysApproveKinds)
}

func TestSeedPoliciesRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "bad", "tenant_id: [unclosed\n")

	_, err := SeedPolicies(context.Background(), dir, tenants.NewMemoryStore())
	assert.Error(t, err)
}
