// policy.go evaluates permission decisions with a CEL expression instead
// of a hardcoded "is caller in admin_list" check, so operators can widen
// the rule (e.g. per-directory ACLs) by changing configuration, not Go
// code. The default expression reproduces spec.md §4.7's documented rule
// exactly: `caller in admin_list`.
package control

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultAdminExpr is the CEL expression equivalent to "caller is an
// administrator", matching spec.md's hardcoded rule.
const DefaultAdminExpr = `caller in admin_list`

// PolicyInput is the variable binding available to an admin/permission
// expression.
type PolicyInput struct {
	Caller    string
	AdminList []string
	LockedBy  string
}

// PolicyEvaluator compiles and runs a single CEL expression against a
// PolicyInput, used for the lock/unlock/lockdir/unlockdir admin-override
// check (spec.md §4.7): "current lockedby is unset, equals the caller, or
// the caller is an administrator".
type PolicyEvaluator struct {
	program cel.Program
}

// NewPolicyEvaluator compiles expr (pass DefaultAdminExpr for the
// spec-documented default) against an environment exposing caller,
// admin_list and locked_by.
func NewPolicyEvaluator(expr string) (*PolicyEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("caller", cel.StringType),
		cel.Variable("admin_list", cel.ListType(cel.StringType)),
		cel.Variable("locked_by", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("control: building CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("control: compiling policy expression %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("control: building CEL program: %w", err)
	}
	return &PolicyEvaluator{program: prg}, nil
}

// IsAdmin evaluates whether in.Caller satisfies the compiled expression.
func (p *PolicyEvaluator) IsAdmin(in PolicyInput) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"caller":     in.Caller,
		"admin_list": in.AdminList,
		"locked_by":  in.LockedBy,
	})
	if err != nil {
		return false, fmt.Errorf("control: evaluating policy: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("control: policy expression did not evaluate to bool (got %T)", out.Value())
	}
	return b, nil
}

// CanLock implements spec.md §4.7's lock/lockdir permission rule: allowed
// if lockedBy is unset, equals caller, or caller is an administrator per
// the compiled policy.
func (p *PolicyEvaluator) CanLock(caller string, adminList []string, lockedBy string) (bool, error) {
	if lockedBy == "" || lockedBy == caller {
		return true, nil
	}
	return p.IsAdmin(PolicyInput{Caller: caller, AdminList: adminList, LockedBy: lockedBy})
}
