package decision

import (
	"encoding/json"
	"time"
)

// Trigger types accepted by the engine.
const (
	TriggerEntityChange = "entity_change"
	TriggerSchedule     = "schedule"
	TriggerManual       = "manual"
	TriggerSimulation   = "simulation"
	TriggerConfirmation = "confirmation"
)

// Decision values recorded per rule evaluation.
const (
	DecisionFired    = "fired"
	DecisionNotFired = "not_fired"
	DecisionError    = "error"
)

// Terminal status values for a decision log entry.
const (
	StatusNotFired      = "not_fired"
	StatusFiredPending  = "fired_pending"
	StatusFiredExecuted = "fired_executed"
	StatusFiredAborted  = "fired_aborted"
	StatusError         = "error"
	StatusSimulated     = "simulated"
)

// Execution outcome status values.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeAborted   = "aborted"
)

// DecisionRule is an operator-authored rule evaluated against entity state.
// Conditions holds the serialized condition tree; LogicOperator is the root
// combinator when Conditions is a flat list.
type DecisionRule struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	EntityTypeID        string          `json:"entityTypeId"`
	Conditions          json.RawMessage `json:"conditions"`
	LogicOperator       string          `json:"logicOperator"`
	Priority            int             `json:"priority"`
	AutoExecute         bool            `json:"autoExecute"`
	ConfidenceThreshold *float64        `json:"confidenceThreshold,omitempty"`
	Enabled             bool            `json:"enabled"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// ActionDefinition is a reusable action template. Type selects the dispatcher
// implementation; Config carries action-type-specific parameters.
type ActionDefinition struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ExecutionPlanStep is one ordered step of a rule's execution plan.
// (DecisionRuleID, StepOrder) is unique; StepOrder is 1-based and dense.
type ExecutionPlanStep struct {
	ID                 string    `json:"id"`
	DecisionRuleID     string    `json:"decisionRuleId"`
	ActionDefinitionID string    `json:"actionDefinitionId"`
	StepOrder          int       `json:"stepOrder"`
	ContinueOnFailure  bool      `json:"continueOnFailure"`
	CreatedAt          time.Time `json:"createdAt"`
}

// EntityState is the current attribute snapshot of one entity instance.
type EntityState struct {
	LogicalID    string         `json:"logicalId"`
	EntityTypeID string         `json:"entityTypeId"`
	Data         map[string]any `json:"data"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// TriggerEvent initiates rule evaluation for an entity. Confidence is set
// when the trigger carries a model confidence score (e.g. an inference
// result); rules with a ConfidenceThreshold gate on it.
type TriggerEvent struct {
	Type         string         `json:"type"`
	LogicalID    string         `json:"logicalId"`
	EntityTypeID string         `json:"entityTypeId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// ConditionCheck is the recorded result of one atomic condition.
type ConditionCheck struct {
	Path     string `json:"path"`
	Operator string `json:"operator"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Passed   bool   `json:"passed"`
	Note     string `json:"note,omitempty"`
}

// Evaluation is the outcome of evaluating a rule's conditions.
// ConfidenceGated is set when the trigger confidence fell below the rule's
// threshold; in that case Overall is false regardless of the checks.
type Evaluation struct {
	Overall         bool             `json:"overall"`
	ConfidenceGated bool             `json:"confidenceGated,omitempty"`
	Checks          []ConditionCheck `json:"checks"`
}

// StepResult captures one execution plan step's dispatch result.
type StepResult struct {
	StepOrder  int            `json:"stepOrder"`
	ActionID   string         `json:"actionId"`
	ActionName string         `json:"actionName"`
	ActionType string         `json:"actionType"`
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// ExecutionOutcome aggregates the step results of one plan run.
type ExecutionOutcome struct {
	Status     string       `json:"status"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Failed reports whether any step in the outcome failed.
func (o *ExecutionOutcome) Failed() bool {
	for _, s := range o.Steps {
		if !s.Success {
			return true
		}
	}
	return false
}

// DecisionLog is the immutable audit record of one rule evaluation attempt.
// Created exactly once per evaluated rule per trigger, never mutated.
// ConfirmsLogID is set on confirmation records only; it references the
// fired_pending entry whose plan the confirmation ran, and at most one
// confirmation exists per pending entry.
type DecisionLog struct {
	ID               string            `json:"id"`
	DecisionRuleID   string            `json:"decisionRuleId"`
	RuleName         string            `json:"ruleName,omitempty"`
	LogicalID        string            `json:"logicalId"`
	TriggerType      string            `json:"triggerType"`
	TriggerData      map[string]any    `json:"triggerData,omitempty"`
	ConditionResults *Evaluation       `json:"conditionResults,omitempty"`
	Decision         string            `json:"decision"`
	ExecutionResults *ExecutionOutcome `json:"executionResults,omitempty"`
	Status           string            `json:"status"`
	Error            string            `json:"error,omitempty"`
	ConfirmsLogID    string            `json:"confirmsLogId,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// RuleEvaluation is the matcher's per-rule verdict for one trigger.
type RuleEvaluation struct {
	Rule       *DecisionRule `json:"rule"`
	Evaluation *Evaluation   `json:"evaluation,omitempty"`
	Decision   string        `json:"decision"`
	Pending    bool          `json:"pending,omitempty"`
	Err        error         `json:"-"`
}

// Fired reports whether the rule's conditions were met.
func (re *RuleEvaluation) Fired() bool {
	return re.Decision == DecisionFired
}

// DecisionResult is the engine's per-rule pipeline result, including the
// persisted log ID.
type DecisionResult struct {
	RuleID     string            `json:"ruleId"`
	RuleName   string            `json:"ruleName"`
	LogID      string            `json:"logId"`
	Decision   string            `json:"decision"`
	Status     string            `json:"status"`
	Evaluation *Evaluation       `json:"evaluation,omitempty"`
	Outcome    *ExecutionOutcome `json:"outcome,omitempty"`
}

// TriggerResult summarizes one full matcher pass over a trigger.
type TriggerResult struct {
	LogicalID      string            `json:"logicalId"`
	TriggerType    string            `json:"triggerType"`
	RulesEvaluated int               `json:"rulesEvaluated"`
	RulesFired     int               `json:"rulesFired"`
	Results        []*DecisionResult `json:"results"`
}
