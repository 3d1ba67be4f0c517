package tenants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.PutTenant(ctx, Tenant{ID: "t-1", Name: "Acme Media", Status: StatusActive}))
	got, err := s.GetTenant(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, got.IsActive())
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetTenant(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	policy := ApprovalPolicy{
		TenantID:           "t-1",
		AutoApproveKinds:   []string{"update"},
		AlwaysApproveKinds: []string{"create"},
	}
	require.NoError(t, s.PutPolicy(ctx, policy))
	gotPolicy, err := s.GetPolicy(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, policy, gotPolicy)

	_, err = s.GetPolicy(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequiresKind(t *testing.T) {
	p := ApprovalPolicy{
		AutoApproveKinds:   []string{"update", "create"},
		AlwaysApproveKinds: []string{"create"},
	}

	required, decided := p.RequiresKind("create")
	assert.True(t, required, "always_approve wins over auto_approve")
	assert.True(t, decided)

	required, decided = p.RequiresKind("update")
	assert.False(t, required)
	assert.True(t, decided)

	_, decided = p.RequiresKind("review")
	assert.False(t, decided, "unlisted kind leaves the decision to the CEL rule")
}

func TestParseProfiles(t *testing.T) {
	doc := []byte(`
tenants:
  - tenant:
      id: t-acme
      name: Acme Media
    policy:
      always_approve_kinds: [create]
      review_confidence_threshold: 0.8
  - tenant:
      id: t-globex
      name: Globex
      status: suspended
    policy:
      auto_approve_kinds: [create, update]
      rule: 'order.total_budget_cents > 100000000'
`)
	profiles, err := ParseProfiles(doc)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "t-acme", profiles[0].Policy.TenantID, "policy inherits the tenant id")
	assert.Equal(t, StatusActive, profiles[0].Tenant.Status, "status defaults to active")
	assert.Equal(t, 0.8, profiles[0].Policy.ReviewConfidenceThreshold)

	assert.Equal(t, StatusSuspended, profiles[1].Tenant.Status)
	assert.NotEmpty(t, profiles[1].Policy.Rule)

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, Seed(ctx, s, profiles))
	p, err := s.GetPolicy(ctx, "t-globex")
	require.NoError(t, err)
	assert.Contains(t, p.AutoApproveKinds, "update")
}

func TestParseProfilesRejectsMissingID(t *testing.T) {
	_, err := ParseProfiles([]byte("tenants:\n  - tenant:\n      name: nameless\n"))
	assert.Error(t, err)
}
