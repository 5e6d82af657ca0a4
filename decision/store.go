package decision

import "context"

// RuleRegistry is the engine's read-only view of rule configuration. Backed
// by the surrounding application's data layer; the engine treats all of
// these as pure reads.
type RuleRegistry interface {
	// GetRule returns a rule by ID, or ErrRuleNotFound.
	GetRule(ctx context.Context, id string) (*DecisionRule, error)

	// ListEnabledRules returns the enabled rules for one entity type,
	// ordered by priority ascending, then createdAt, then ID.
	ListEnabledRules(ctx context.Context, entityTypeID string) ([]*DecisionRule, error)

	// GetExecutionPlan returns a rule's steps ordered by stepOrder ascending.
	GetExecutionPlan(ctx context.Context, ruleID string) ([]*ExecutionPlanStep, error)

	// GetActionDefinition returns an action template by ID, or
	// ErrActionNotFound.
	GetActionDefinition(ctx context.Context, id string) (*ActionDefinition, error)
}

// RuleStore extends the registry with the management operations the API
// layer needs. Engine code depends only on RuleRegistry.
type RuleStore interface {
	RuleRegistry

	AddRule(ctx context.Context, rule *DecisionRule) error
	UpdateRule(ctx context.Context, rule *DecisionRule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context) ([]*DecisionRule, error)

	AddAction(ctx context.Context, action *ActionDefinition) error
	ListActions(ctx context.Context) ([]*ActionDefinition, error)

	AddPlanStep(ctx context.Context, step *ExecutionPlanStep) error
}

// EntityStateStore reads current attribute values per entity instance.
type EntityStateStore interface {
	// GetState returns the current state for a logical ID, or
	// ErrEntityNotFound.
	GetState(ctx context.Context, logicalID string) (*EntityState, error)
}

// EntityStateWriter mutates entity state. Kept separate from
// EntityStateStore because the engine core only reads; only the
// update-entity action needs writes.
type EntityStateWriter interface {
	PutState(ctx context.Context, state *EntityState) error
}

// LogFilter narrows decision log queries. Zero values match everything.
type LogFilter struct {
	LogicalID     string
	RuleID        string
	Status        string
	ConfirmsLogID string
	Limit         int
}

// LogSink persists decision log records. Append-only: records are never
// mutated after creation.
type LogSink interface {
	// Append persists one record and returns its ID.
	Append(ctx context.Context, log *DecisionLog) (string, error)

	// GetLog returns a record by ID, or ErrLogNotFound.
	GetLog(ctx context.Context, id string) (*DecisionLog, error)

	// ListLogs returns records matching the filter, newest first.
	ListLogs(ctx context.Context, filter LogFilter) ([]*DecisionLog, error)
}
