package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/openadex/salesagent/pkg/adapters"
	"github.com/openadex/salesagent/pkg/auth"
	"github.com/openadex/salesagent/pkg/config"
)

// runDoctorCmd implements `salesagent doctor`, a local environment
// check.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"` // "ok", "warn", "fail"
		Detail string `json:"detail,omitempty"`
	}

	cfg := config.Load()
	var results []checkResult
	allOK := true

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	if cfg.DatabaseURL == "" {
		results = append(results, checkResult{
			Name:   "database_url",
			Status: "warn",
			Detail: "DATABASE_URL not set, server runs on in-memory state",
		})
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		st, err := openStores(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			results = append(results, checkResult{
				Name:   "database",
				Status: "fail",
				Detail: err.Error(),
			})
			allOK = false
		} else {
			if st.db != nil {
				_ = st.db.Close()
			}
			results = append(results, checkResult{Name: "database", Status: "ok"})
		}
	}

	if cfg.WebhookSigningKey == "" {
		results = append(results, checkResult{
			Name:   "webhook_signing_key",
			Status: "warn",
			Detail: "WEBHOOK_SIGNING_KEY not set, webhook delivery disabled",
		})
	} else {
		results = append(results, checkResult{Name: "webhook_signing_key", Status: "ok"})
	}

	if cfg.JWTSecret == "" {
		results = append(results, checkResult{
			Name:   "jwt_secret",
			Status: "warn",
			Detail: "JWT_SECRET not set, API runs on header identification",
		})
	} else {
		results = append(results, checkResult{Name: "jwt_secret", Status: "ok"})
	}

	if info, err := os.Stat(cfg.ProfilesDir); err != nil || !info.IsDir() {
		results = append(results, checkResult{
			Name:   "profiles_dir",
			Status: "warn",
			Detail: fmt.Sprintf("%s not found, no tenant policies will be seeded", cfg.ProfilesDir),
		})
	} else {
		policies, err := config.LoadAllTenantPolicies(cfg.ProfilesDir)
		if err != nil {
			results = append(results, checkResult{
				Name:   "profiles_dir",
				Status: "fail",
				Detail: err.Error(),
			})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "profiles_dir",
				Status: "ok",
				Detail: fmt.Sprintf("%d policies", len(policies)),
			})
		}
	}

	{
		registry := adapters.NewRegistry()
		regErr := registry.Register(adapters.NewInHouseAdapter(), "")
		if regErr == nil {
			regErr = registry.Register(adapters.NewReservationAdapter(), "")
		}
		if regErr == nil {
			_, regErr = registry.Resolve("inhouse", "")
		}
		if regErr != nil {
			results = append(results, checkResult{
				Name:   "adapters",
				Status: "fail",
				Detail: regErr.Error(),
			})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "adapters",
				Status: "ok",
				Detail: "inhouse, reservation",
			})
		}
	}

	if cfg.ReviewScorer == "wasm" {
		if _, err := os.Stat(cfg.ReviewWASMPath); err != nil {
			results = append(results, checkResult{
				Name:   "review_wasm",
				Status: "fail",
				Detail: fmt.Sprintf("REVIEW_WASM_PATH: %v", err),
			})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "review_wasm", Status: "ok"})
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	if !allOK {
		fmt.Fprintln(stderr, "doctor: one or more checks failed")
		return 1
	}
	return 0
}

// runMigrateCmd creates or updates the database tables and exits.
func runMigrateCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(stderr, "migrate: DATABASE_URL is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStores(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	if st.db != nil {
		_ = st.db.Close()
	}
	fmt.Fprintln(stdout, "migrations applied")
	return 0
}

// runTokenCmd mints a development JWT against the configured secret.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		fmt.Fprintln(stderr, "token: JWT_SECRET is required")
		return 2
	}
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: salesagent token <subject> <tenant-id> [role...]")
		return 2
	}

	validator, err := auth.NewValidator([]byte(cfg.JWTSecret))
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	roles := args[2:]
	token, err := validator.Issue(args[0], args[1], roles, 24*time.Hour)
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
