package main

import (
	"encoding/json"

	"github.com/calebsw/verdict/decision"
)

// API request models.

// RuleRequest is the request body for creating or updating a decision rule.
type RuleRequest struct {
	Name                string          `json:"name"`
	EntityTypeID        string          `json:"entityTypeId"`
	Conditions          json.RawMessage `json:"conditions"`
	LogicOperator       string          `json:"logicOperator"`
	Priority            int             `json:"priority"`
	AutoExecute         bool            `json:"autoExecute"`
	ConfidenceThreshold *float64        `json:"confidenceThreshold,omitempty"`
	Enabled             *bool           `json:"enabled,omitempty"`
}

func (r *RuleRequest) toRule(id string) *decision.DecisionRule {
	rule := &decision.DecisionRule{
		ID:                  id,
		Name:                r.Name,
		EntityTypeID:        r.EntityTypeID,
		Conditions:          r.Conditions,
		LogicOperator:       r.LogicOperator,
		Priority:            r.Priority,
		AutoExecute:         r.AutoExecute,
		ConfidenceThreshold: r.ConfidenceThreshold,
		Enabled:             true,
	}
	if rule.LogicOperator == "" {
		rule.LogicOperator = "AND"
	}
	if rule.Priority == 0 {
		rule.Priority = 1
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	return rule
}

// ActionRequest is the request body for registering an action definition.
type ActionRequest struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// PlanStepRequest is the request body for attaching a step to a rule's
// execution plan.
type PlanStepRequest struct {
	ActionDefinitionID string `json:"actionDefinitionId"`
	StepOrder          int    `json:"stepOrder"`
	ContinueOnFailure  bool   `json:"continueOnFailure"`
}

// TriggerRequest is the request body for the evaluate and simulate
// endpoints. All fields are optional; ruleId narrows evaluation to one rule.
type TriggerRequest struct {
	EntityTypeID string         `json:"entityTypeId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	RuleID       string         `json:"ruleId,omitempty"`
}
