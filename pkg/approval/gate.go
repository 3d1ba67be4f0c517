// Package approval holds the Approval Gate: the side-effect-free
// policy decision for whether an orchestrated action needs a human
// checkpoint before execution. The mechanics of holding and resuming
// work live in the orchestrator; this package only answers the
// question.
package approval

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/openadex/salesagent/pkg/contracts"
	"github.com/openadex/salesagent/pkg/tenants"
)

// Gate evaluates approval policies. Static action-kind lists decide
// first; when they are silent, the tenant's CEL rule is evaluated
// against the order. Compiled programs are cached per rule source.
type Gate struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
	linter   *RuleLinter
}

// NewGate creates a gate with the order/action CEL environment.
func NewGate() (*Gate, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.DynType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("approval: create CEL environment: %w", err)
	}
	linter, err := NewRuleLinter()
	if err != nil {
		return nil, err
	}
	return &Gate{
		env:      env,
		prgCache: make(map[string]cel.Program),
		linter:   linter,
	}, nil
}

// Requires reports whether the action on the order needs human
// approval under the tenant policy. Pure: no side effects, no stored
// state beyond the program cache. A rule that fails to compile or
// evaluate requires approval (fail closed) alongside the error.
func (g *Gate) Requires(policy tenants.ApprovalPolicy, actionKind contracts.StepKind, order *contracts.Order) (bool, error) {
	if required, decided := policy.RequiresKind(string(actionKind)); decided {
		return required, nil
	}
	if policy.Rule == "" {
		return false, nil
	}

	prg, err := g.program(policy.Rule)
	if err != nil {
		return true, err
	}

	input := map[string]any{
		"action": string(actionKind),
		"order": map[string]any{
			"id":                 order.ID,
			"tenant_id":          order.TenantID,
			"buyer_ref":          order.BuyerRef,
			"backend":            order.Backend,
			"package_count":      len(order.Packages),
			"total_budget_cents": order.TotalBudgetCents(),
		},
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return true, fmt.Errorf("approval: rule evaluation failed: %w", err)
	}
	required, ok := out.Value().(bool)
	if !ok {
		return true, fmt.Errorf("approval: rule produced %T, want bool", out.Value())
	}
	return required, nil
}

// program returns the compiled program for a rule, linting and
// compiling on first use.
func (g *Gate) program(rule string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.prgCache[rule]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	if err := g.linter.Lint(rule); err != nil {
		return nil, err
	}

	ast, issues := g.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("approval: compile rule: %w", issues.Err())
	}
	compiled, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("approval: build rule program: %w", err)
	}

	g.mu.Lock()
	g.prgCache[rule] = compiled
	g.mu.Unlock()
	return compiled, nil
}
