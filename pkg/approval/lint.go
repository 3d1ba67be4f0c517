package approval

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// RuleLinter walks the parsed AST of a tenant-supplied CEL rule and
// rejects constructs whose evaluation depends on anything but the
// input: wall-clock access and map iteration order. Policy decisions
// must be reproducible from the order alone.
type RuleLinter struct {
	env *cel.Env
}

// NewRuleLinter creates a linter with a parse-only environment.
func NewRuleLinter() (*RuleLinter, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("approval: create lint environment: %w", err)
	}
	return &RuleLinter{env: env}, nil
}

// forbiddenFunctions are CEL calls a tenant rule may not make.
var forbiddenFunctions = map[string]string{
	"now":       "wall-clock access makes the decision unreproducible",
	"timestamp": "wall-clock construction is forbidden in approval rules",
	"keys":      "map iteration order is non-deterministic",
	"values":    "map iteration order is non-deterministic",
}

// Lint parses the rule and rejects it if a forbidden construct
// appears anywhere in the expression tree.
func (l *RuleLinter) Lint(rule string) error {
	parsed, issues := l.env.Parse(rule)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("approval: parse rule: %w", issues.Err())
	}
	//nolint:staticcheck // exprpb traversal has no non-deprecated equivalent
	return walkExpr(parsed.Expr())
}

func walkExpr(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if reason, forbidden := forbiddenFunctions[call.Function]; forbidden {
			return fmt.Errorf("approval: rule uses %s(): %s", call.Function, reason)
		}
		if err := walkExpr(call.Target); err != nil {
			return err
		}
		for _, arg := range call.Args {
			if err := walkExpr(arg); err != nil {
				return err
			}
		}
	case *exprpb.Expr_SelectExpr:
		return walkExpr(k.SelectExpr.Operand)
	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := walkExpr(el); err != nil {
				return err
			}
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if err := walkExpr(entry.GetMapKey()); err != nil {
				return err
			}
			if err := walkExpr(entry.GetValue()); err != nil {
				return err
			}
		}
	case *exprpb.Expr_ComprehensionExpr:
		c := k.ComprehensionExpr
		for _, sub := range []*exprpb.Expr{c.IterRange, c.AccuInit, c.LoopCondition, c.LoopStep, c.Result} {
			if err := walkExpr(sub); err != nil {
				return err
			}
		}
	}
	return nil
}
