package decision

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEnv compiles and evaluates CEL expression conditions. Programs
// are compiled once per expression and cached; the cache is safe for
// concurrent readers.
type ExpressionEnv struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewExpressionEnv creates a CEL environment exposing the evaluation inputs
// as two dynamic variables: "state" (entity attributes) and "trigger" (the
// trigger payload).
func NewExpressionEnv() (*ExpressionEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("state", cel.DynType),
		cel.Variable("trigger", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ExpressionEnv{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates an expression and caches the compiled program. Used at
// the rule-management boundary to reject bad expressions before storage.
func (x *ExpressionEnv) Compile(expr string) error {
	_, err := x.program(expr)
	return err
}

func (x *ExpressionEnv) program(expr string) (cel.Program, error) {
	x.mu.RLock()
	prog, ok := x.programs[expr]
	x.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := x.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	// Cost limit bounds runaway expressions from operator input.
	prog, err := x.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	x.mu.Lock()
	x.programs[expr] = prog
	x.mu.Unlock()

	return prog, nil
}

// Eval evaluates an expression against the given state and trigger payload.
// Non-boolean results are treated as false.
func (x *ExpressionEnv) Eval(expr string, state, trigger map[string]any) (bool, error) {
	prog, err := x.program(expr)
	if err != nil {
		return false, err
	}

	if state == nil {
		state = map[string]any{}
	}
	if trigger == nil {
		trigger = map[string]any{}
	}

	out, _, err := prog.Eval(map[string]any{
		"state":   state,
		"trigger": trigger,
	})
	if err != nil {
		return false, err
	}

	matched, _ := out.Value().(bool)
	return matched, nil
}
