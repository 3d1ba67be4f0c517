package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openadex/salesagent/pkg/tenants"
)

// LoadTenantPolicy loads one tenant's approval policy YAML by tenant
// ID. It looks for policy_<tenant>.yaml in the profiles directory.
func LoadTenantPolicy(profilesDir, tenantID string) (tenants.ApprovalPolicy, error) {
	path := filepath.Join(profilesDir, fmt.Sprintf("policy_%s.yaml", strings.ToLower(tenantID)))

	data, err := os.ReadFile(path)
	if err != nil {
		return tenants.ApprovalPolicy{}, fmt.Errorf("config: load policy for %q: %w", tenantID, err)
	}

	var policy tenants.ApprovalPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return tenants.ApprovalPolicy{}, fmt.Errorf("config: parse policy for %q: %w", tenantID, err)
	}
	if policy.TenantID == "" {
		policy.TenantID = tenantID
	}
	return policy, nil
}

// LoadAllTenantPolicies loads every policy_*.yaml file from the
// profiles directory, keyed by tenant ID.
func LoadAllTenantPolicies(profilesDir string) (map[string]tenants.ApprovalPolicy, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "policy_*.yaml"))
	if err != nil {
		return nil, err
	}

	policies := make(map[string]tenants.ApprovalPolicy, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		var policy tenants.ApprovalPolicy
		if err := yaml.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if policy.TenantID == "" {
			// Fall back to the filename: policy_acme.yaml -> acme.
			base := filepath.Base(path)
			policy.TenantID = strings.TrimSuffix(strings.TrimPrefix(base, "policy_"), ".yaml")
		}
		policies[policy.TenantID] = policy
	}
	return policies, nil
}

// SeedPolicies loads every policy file and writes it into the store.
// Called once at startup so file-defined tenants are queryable through
// the same PolicyStore interface as database-backed ones.
func SeedPolicies(ctx context.Context, profilesDir string, store tenants.Store) (int, error) {
	policies, err := LoadAllTenantPolicies(profilesDir)
	if err != nil {
		return 0, err
	}
	for _, p := range policies {
		if err := store.PutPolicy(ctx, p); err != nil {
			return 0, fmt.Errorf("config: seed policy for %q: %w", p.TenantID, err)
		}
	}
	return len(policies), nil
}
