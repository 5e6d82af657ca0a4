package decision

import (
	"encoding/json"
	"strings"
	"testing"
)

func validTestRule() *DecisionRule {
	return &DecisionRule{
		Name:          "valid rule",
		EntityTypeID:  "sensor",
		Conditions:    json.RawMessage(`{"field": "temp", "operator": "gt", "value": 90}`),
		LogicOperator: "AND",
		Priority:      1,
		Enabled:       true,
	}
}

func TestValidateRule(t *testing.T) {
	exprs, err := NewExpressionEnv()
	if err != nil {
		t.Fatalf("NewExpressionEnv: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*DecisionRule)
		wantErr string
	}{
		{
			name:   "valid rule",
			mutate: func(r *DecisionRule) {},
		},
		{
			name:    "empty name",
			mutate:  func(r *DecisionRule) { r.Name = "" },
			wantErr: "name cannot be empty",
		},
		{
			name:    "name too long",
			mutate:  func(r *DecisionRule) { r.Name = strings.Repeat("x", 101) },
			wantErr: "exceeds maximum",
		},
		{
			name:    "name with surrounding whitespace",
			mutate:  func(r *DecisionRule) { r.Name = " padded " },
			wantErr: "whitespace",
		},
		{
			name:    "missing entity type",
			mutate:  func(r *DecisionRule) { r.EntityTypeID = "" },
			wantErr: "entityTypeId is required",
		},
		{
			name:    "bad logic operator",
			mutate:  func(r *DecisionRule) { r.LogicOperator = "XOR" },
			wantErr: "logicOperator must be AND or OR",
		},
		{
			name:    "zero priority",
			mutate:  func(r *DecisionRule) { r.Priority = 0 },
			wantErr: "priority must be >= 1",
		},
		{
			name: "threshold out of range",
			mutate: func(r *DecisionRule) {
				v := 1.5
				r.ConfidenceThreshold = &v
			},
			wantErr: "confidenceThreshold must be between 0 and 1",
		},
		{
			name: "threshold at bounds",
			mutate: func(r *DecisionRule) {
				v := 1.0
				r.ConfidenceThreshold = &v
			},
		},
		{
			name:    "bad conditions",
			mutate:  func(r *DecisionRule) { r.Conditions = json.RawMessage(`{"operator": "eq"}`) },
			wantErr: "invalid conditions",
		},
		{
			name: "bad CEL expression",
			mutate: func(r *DecisionRule) {
				r.Conditions = json.RawMessage(`{"expression": "state.temp >"}`)
			},
			wantErr: "invalid conditions",
		},
		{
			name: "nested expression compiled",
			mutate: func(r *DecisionRule) {
				r.Conditions = json.RawMessage(`{"logic": "and", "conditions": [
					{"field": "temp", "operator": "gt", "value": 1},
					{"expression": "trigger.mode == 'auto'"}
				]}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validTestRule()
			tt.mutate(rule)

			err := ValidateRule(rule, exprs)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateAction(t *testing.T) {
	tests := []struct {
		name    string
		action  *ActionDefinition
		wantErr bool
	}{
		{
			name:   "valid",
			action: &ActionDefinition{Name: "notify", Type: "webhook", Config: map[string]any{"url": "http://example.com"}},
		},
		{
			name:    "missing name",
			action:  &ActionDefinition{Type: "webhook", Config: map[string]any{}},
			wantErr: true,
		},
		{
			name:    "missing type",
			action:  &ActionDefinition{Name: "notify", Config: map[string]any{}},
			wantErr: true,
		},
		{
			name:    "nil config",
			action:  &ActionDefinition{Name: "notify", Type: "webhook"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAction(tt.action)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAction() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePlanStep(t *testing.T) {
	tests := []struct {
		name    string
		step    *ExecutionPlanStep
		wantErr bool
	}{
		{
			name: "valid",
			step: &ExecutionPlanStep{DecisionRuleID: "r1", ActionDefinitionID: "a1", StepOrder: 1},
		},
		{
			name:    "missing rule",
			step:    &ExecutionPlanStep{ActionDefinitionID: "a1", StepOrder: 1},
			wantErr: true,
		},
		{
			name:    "missing action",
			step:    &ExecutionPlanStep{DecisionRuleID: "r1", StepOrder: 1},
			wantErr: true,
		},
		{
			name:    "zero step order",
			step:    &ExecutionPlanStep{DecisionRuleID: "r1", ActionDefinitionID: "a1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlanStep(tt.step)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePlanStep() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
