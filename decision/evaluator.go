package decision

import (
	"fmt"
	"reflect"
	"strings"
)

// Notes attached to failed condition checks.
const (
	NoteMissingField = "MissingField"
	NoteTypeMismatch = "TypeMismatch"
)

// EvalContext carries the read-only inputs of one rule evaluation.
type EvalContext struct {
	State   map[string]any
	Trigger *TriggerEvent
}

// Evaluator evaluates condition trees against entity state and trigger
// payloads. It is deterministic and side-effect free; one Evaluator may be
// shared across concurrent rule evaluations.
type Evaluator struct {
	exprs *ExpressionEnv
}

// NewEvaluator returns an evaluator. exprs may be nil, in which case
// expression conditions fail validation at evaluation time.
func NewEvaluator(exprs *ExpressionEnv) *Evaluator {
	return &Evaluator{exprs: exprs}
}

// EvaluateRule parses the rule's condition tree and evaluates it. Malformed
// condition specs return a *ConditionError; evaluation itself never errors.
// Every atomic condition is evaluated and recorded, in tree order, with no
// short-circuiting, so the audit trail is always complete.
func (e *Evaluator) EvaluateRule(rule *DecisionRule, ectx *EvalContext) (*Evaluation, error) {
	root, err := ParseConditions(rule.Conditions, rule.LogicOperator)
	if err != nil {
		return nil, &ConditionError{RuleID: rule.ID, Msg: "malformed condition spec", Err: err}
	}

	ev := &Evaluation{Checks: make([]ConditionCheck, 0, 4)}
	ev.Overall = e.evalNode(root, ectx, &ev.Checks)

	// Confidence gate: recorded distinctly from a condition failure.
	if rule.ConfidenceThreshold != nil && ectx.Trigger != nil && ectx.Trigger.Confidence != nil {
		if *ectx.Trigger.Confidence < *rule.ConfidenceThreshold {
			ev.Overall = false
			ev.ConfidenceGated = true
		}
	}

	return ev, nil
}

func (e *Evaluator) evalNode(c *Condition, ectx *EvalContext, checks *[]ConditionCheck) bool {
	switch c.Kind() {
	case KindGroup:
		results := make([]bool, len(c.Conditions))
		for i, child := range c.Conditions {
			results[i] = e.evalNode(child, ectx, checks)
		}
		switch strings.ToLower(c.Logic) {
		case LogicOr:
			for _, r := range results {
				if r {
					return true
				}
			}
			return false
		case LogicNot:
			return !results[0]
		default: // and
			for _, r := range results {
				if !r {
					return false
				}
			}
			return true
		}

	case KindExpression:
		check := e.evalExpression(c, ectx)
		*checks = append(*checks, check)
		return check.Passed

	default:
		check := evalAtomic(c, ectx)
		*checks = append(*checks, check)
		return check.Passed
	}
}

func (e *Evaluator) evalExpression(c *Condition, ectx *EvalContext) ConditionCheck {
	check := ConditionCheck{Path: c.Expression, Operator: "cel"}
	if e.exprs == nil {
		check.Note = "no expression environment configured"
		return check
	}

	var trigger map[string]any
	if ectx.Trigger != nil {
		trigger = ectx.Trigger.Data
	}
	matched, err := e.exprs.Eval(c.Expression, ectx.State, trigger)
	if err != nil {
		check.Note = fmt.Sprintf("EvalError: %v", err)
		return check
	}
	check.Passed = matched
	check.Actual = matched
	return check
}

// evalAtomic evaluates a single field/operator/value condition. Missing
// fields and type mismatches fail the condition, never abort the evaluation.
func evalAtomic(c *Condition, ectx *EvalContext) ConditionCheck {
	check := ConditionCheck{
		Path:     c.Field,
		Operator: c.Operator,
		Expected: c.Value,
	}

	actual, found := resolvePath(c.Field, ectx)
	check.Actual = actual

	if c.Operator == OpExists {
		check.Passed = found && actual != nil
		return check
	}

	if !found {
		check.Note = NoteMissingField
		return check
	}

	passed, note := compare(actual, c.Operator, c.Value)
	check.Passed = passed
	check.Note = note
	return check
}

// resolvePath resolves a dotted field path. Paths prefixed "trigger." read
// the trigger payload and "state." the entity state; bare paths read entity
// state first, then fall back to the trigger payload.
func resolvePath(path string, ectx *EvalContext) (any, bool) {
	var trigger map[string]any
	if ectx.Trigger != nil {
		trigger = ectx.Trigger.Data
	}

	switch {
	case strings.HasPrefix(path, "trigger."):
		return lookup(trigger, strings.TrimPrefix(path, "trigger."))
	case strings.HasPrefix(path, "state."):
		return lookup(ectx.State, strings.TrimPrefix(path, "state."))
	default:
		if v, ok := lookup(ectx.State, path); ok {
			return v, true
		}
		return lookup(trigger, path)
	}
}

func lookup(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// compare applies a comparison operator. The returned note is empty on a
// clean comparison and NoteTypeMismatch when operand types are
// incompatible with the operator (the condition then fails closed).
func compare(actual any, operator string, expected any) (bool, string) {
	switch operator {
	case OpEq:
		return valuesEqual(actual, expected), ""
	case OpNeq:
		return !valuesEqual(actual, expected), ""

	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, NoteTypeMismatch
		}
		switch operator {
		case OpGt:
			return a > b, ""
		case OpGte:
			return a >= b, ""
		case OpLt:
			return a < b, ""
		default:
			return a <= b, ""
		}

	case OpContains:
		switch v := actual.(type) {
		case string:
			s, ok := expected.(string)
			if !ok {
				return false, NoteTypeMismatch
			}
			return strings.Contains(v, s), ""
		case []any:
			for _, item := range v {
				if valuesEqual(item, expected) {
					return true, ""
				}
			}
			return false, ""
		default:
			return false, NoteTypeMismatch
		}

	case OpIn:
		list, ok := expected.([]any)
		if !ok {
			return false, NoteTypeMismatch
		}
		for _, item := range list {
			if valuesEqual(actual, item) {
				return true, ""
			}
		}
		return false, ""

	default:
		return false, NoteTypeMismatch
	}
}

// valuesEqual compares with numeric normalization so 2 == 2.0 across the
// int/float representations JSON decoding produces.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
