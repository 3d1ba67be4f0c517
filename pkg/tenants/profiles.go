package tenants

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one tenant fixture: the tenant plus its approval policy,
// loaded from a YAML file at bootstrap.
type Profile struct {
	Tenant Tenant         `yaml:"tenant"`
	Policy ApprovalPolicy `yaml:"policy"`
}

// profileFile is the top-level shape of a tenant profile YAML document.
type profileFile struct {
	Tenants []Profile `yaml:"tenants"`
}

// LoadProfiles parses a tenant profile YAML file.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tenant profiles %q: %w", path, err)
	}
	return ParseProfiles(data)
}

// ParseProfiles parses tenant profiles from YAML bytes.
func ParseProfiles(data []byte) ([]Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tenant profiles: %w", err)
	}
	for i, p := range f.Tenants {
		if p.Tenant.ID == "" {
			return nil, fmt.Errorf("tenant profile %d: tenant.id is required", i)
		}
		if p.Policy.TenantID == "" {
			f.Tenants[i].Policy.TenantID = p.Tenant.ID
		}
		if f.Tenants[i].Tenant.Status == "" {
			f.Tenants[i].Tenant.Status = StatusActive
		}
	}
	return f.Tenants, nil
}

// Seed writes the profiles into a store.
func Seed(ctx context.Context, store Store, profiles []Profile) error {
	for _, p := range profiles {
		if err := store.PutTenant(ctx, p.Tenant); err != nil {
			return fmt.Errorf("seed tenant %s: %w", p.Tenant.ID, err)
		}
		if err := store.PutPolicy(ctx, p.Policy); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.Tenant.ID, err)
		}
	}
	return nil
}
