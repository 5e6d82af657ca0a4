package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Logic combinators for condition groups.
const (
	LogicAnd = "and"
	LogicOr  = "or"
	LogicNot = "not"
)

// Comparison operators for atomic conditions.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpIn       = "in"
	OpExists   = "exists"
)

// ConditionKind discriminates the condition node variants.
type ConditionKind int

const (
	KindInvalid ConditionKind = iota
	KindAtomic
	KindGroup
	KindExpression
)

// Condition is one node of a rule's condition tree. Exactly one variant is
// populated per node:
//
//   - atomic: Field + Operator (+ Value)
//   - group: Logic + Conditions, nesting allowed
//   - expression: a CEL expression over the variables "state" and "trigger"
type Condition struct {
	Logic      string       `json:"logic,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`

	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`

	Expression string `json:"expression,omitempty"`
}

// Kind reports which variant this node is, or KindInvalid when the node
// mixes variants or populates none.
func (c *Condition) Kind() ConditionKind {
	group := c.Logic != "" || len(c.Conditions) > 0
	atomic := c.Field != "" || c.Operator != ""
	expr := c.Expression != ""

	switch {
	case group && !atomic && !expr:
		return KindGroup
	case atomic && !group && !expr:
		return KindAtomic
	case expr && !group && !atomic:
		return KindExpression
	default:
		return KindInvalid
	}
}

var validOperators = map[string]bool{
	OpEq: true, OpNeq: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpContains: true, OpIn: true, OpExists: true,
}

// ParseConditions decodes a rule's serialized condition tree. A bare JSON
// array is treated as a flat list combined by the rule's logicOperator
// (AND when unset); a JSON object is a single node. The returned tree is
// validated.
func ParseConditions(raw json.RawMessage, logicOperator string) (*Condition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("conditions are empty")
	}

	var root *Condition
	if trimmed[0] == '[' {
		var list []*Condition
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode condition list: %w", err)
		}
		logic := strings.ToLower(logicOperator)
		if logic == "" {
			logic = LogicAnd
		}
		root = &Condition{Logic: logic, Conditions: list}
	} else {
		root = &Condition{}
		if err := json.Unmarshal(trimmed, root); err != nil {
			return nil, fmt.Errorf("failed to decode condition: %w", err)
		}
	}

	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}

// Validate checks that the condition tree is well formed: no dangling
// operators, known comparison operators, NOT groups with exactly one child.
func (c *Condition) Validate() error {
	switch c.Kind() {
	case KindGroup:
		logic := strings.ToLower(c.Logic)
		if logic != LogicAnd && logic != LogicOr && logic != LogicNot {
			return fmt.Errorf("unknown logic operator %q (must be and, or, not)", c.Logic)
		}
		if len(c.Conditions) == 0 {
			return fmt.Errorf("logic operator %q requires at least one condition", c.Logic)
		}
		if logic == LogicNot && len(c.Conditions) != 1 {
			return fmt.Errorf("logic operator %q requires exactly one condition, got %d", c.Logic, len(c.Conditions))
		}
		for i, child := range c.Conditions {
			if child == nil {
				return fmt.Errorf("condition %d under %q is null", i, c.Logic)
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil

	case KindAtomic:
		if c.Field == "" {
			return fmt.Errorf("condition with operator %q is missing a field", c.Operator)
		}
		if c.Operator == "" {
			return fmt.Errorf("condition on field %q is missing an operator", c.Field)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("unknown operator %q on field %q", c.Operator, c.Field)
		}
		if c.Operator != OpExists && c.Value == nil {
			return fmt.Errorf("operator %q on field %q requires a value", c.Operator, c.Field)
		}
		return nil

	case KindExpression:
		if strings.TrimSpace(c.Expression) == "" {
			return fmt.Errorf("expression condition is empty")
		}
		return nil

	default:
		return fmt.Errorf("condition must have either logic/conditions, field/operator, or expression")
	}
}
