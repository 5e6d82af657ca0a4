package decision

import (
	"fmt"
	"strings"
)

const maxNameLength = 100

// ValidateRule checks a rule definition at the management boundary: name
// bounds, root combinator, priority, threshold range, and a well-formed
// condition tree. Expression conditions are compiled against exprs when
// provided, so bad CEL is rejected before storage.
func ValidateRule(rule *DecisionRule, exprs *ExpressionEnv) error {
	if err := validateName(rule.Name); err != nil {
		return fmt.Errorf("invalid rule name: %w", err)
	}
	if rule.EntityTypeID == "" {
		return fmt.Errorf("entityTypeId is required")
	}

	switch strings.ToUpper(rule.LogicOperator) {
	case "", "AND", "OR":
	default:
		return fmt.Errorf("logicOperator must be AND or OR, got %q", rule.LogicOperator)
	}

	if rule.Priority < 1 {
		return fmt.Errorf("priority must be >= 1, got %d", rule.Priority)
	}
	if rule.ConfidenceThreshold != nil {
		if t := *rule.ConfidenceThreshold; t < 0 || t > 1 {
			return fmt.Errorf("confidenceThreshold must be between 0 and 1, got %v", t)
		}
	}

	root, err := ParseConditions(rule.Conditions, rule.LogicOperator)
	if err != nil {
		return fmt.Errorf("invalid conditions: %w", err)
	}
	if exprs != nil {
		if err := compileExpressions(root, exprs); err != nil {
			return fmt.Errorf("invalid conditions: %w", err)
		}
	}
	return nil
}

func compileExpressions(c *Condition, exprs *ExpressionEnv) error {
	if c.Kind() == KindExpression {
		if err := exprs.Compile(c.Expression); err != nil {
			return fmt.Errorf("expression %q: %w", c.Expression, err)
		}
	}
	for _, child := range c.Conditions {
		if err := compileExpressions(child, exprs); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAction checks an action definition. Action types are free-form
// strings resolved by the dispatcher registry at run time, so only shape is
// checked here.
func ValidateAction(action *ActionDefinition) error {
	if err := validateName(action.Name); err != nil {
		return fmt.Errorf("invalid action name: %w", err)
	}
	if action.Type == "" {
		return fmt.Errorf("action type is required")
	}
	if action.Config == nil {
		return fmt.Errorf("action config is required")
	}
	return nil
}

// ValidatePlanStep checks an execution plan step.
func ValidatePlanStep(step *ExecutionPlanStep) error {
	if step.DecisionRuleID == "" {
		return fmt.Errorf("decisionRuleId is required")
	}
	if step.ActionDefinitionID == "" {
		return fmt.Errorf("actionDefinitionId is required")
	}
	if step.StepOrder < 1 {
		return fmt.Errorf("stepOrder must be >= 1, got %d", step.StepOrder)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name length %d exceeds maximum of %d characters", len(name), maxNameLength)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name has leading or trailing whitespace: %q", name)
	}
	return nil
}
