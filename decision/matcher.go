package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Matcher selects and evaluates the enabled rules for a trigger event.
// Rules are evaluated in priority order; a malformed rule is reported with
// decision "error" and does not abort evaluation of the remaining rules.
type Matcher struct {
	registry  RuleRegistry
	states    EntityStateStore
	evaluator *Evaluator
	cache     RulesCache
	logger    *slog.Logger
}

// NewMatcher creates a matcher. cache may be nil to read the registry on
// every trigger.
func NewMatcher(registry RuleRegistry, states EntityStateStore, evaluator *Evaluator, cache RulesCache, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		registry:  registry,
		states:    states,
		evaluator: evaluator,
		cache:     cache,
		logger:    logger.With("component", "rule-matcher"),
	}
}

// Match evaluates all enabled rules for the trigger's entity type, in
// priority order. Fired rules with autoExecute=false are marked Pending;
// the engine never runs those automatically.
func (m *Matcher) Match(ctx context.Context, trigger *TriggerEvent) ([]*RuleEvaluation, error) {
	ectx, entityTypeID, err := m.resolveContext(ctx, trigger)
	if err != nil {
		return nil, err
	}

	rules, err := m.loadRules(ctx, entityTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for entity type %s: %w", entityTypeID, err)
	}

	evaluations := make([]*RuleEvaluation, 0, len(rules))
	for _, rule := range rules {
		if ctx.Err() != nil {
			return evaluations, ctx.Err()
		}
		evaluations = append(evaluations, m.evaluateRule(rule, ectx))
	}
	return evaluations, nil
}

// EvaluateOne evaluates a single rule against a trigger, bypassing the
// enabled-rules listing. Disabled rules are rejected.
func (m *Matcher) EvaluateOne(ctx context.Context, rule *DecisionRule, trigger *TriggerEvent) (*RuleEvaluation, error) {
	if !rule.Enabled {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, ErrRuleDisabled)
	}
	ectx, _, err := m.resolveContext(ctx, trigger)
	if err != nil {
		return nil, err
	}
	return m.evaluateRule(rule, ectx), nil
}

func (m *Matcher) evaluateRule(rule *DecisionRule, ectx *EvalContext) *RuleEvaluation {
	re := &RuleEvaluation{Rule: rule}

	ev, err := m.evaluator.EvaluateRule(rule, ectx)
	if err != nil {
		m.logger.Warn("rule evaluation errored", "rule", rule.Name, "error", err)
		re.Decision = DecisionError
		re.Err = err
		return re
	}

	re.Evaluation = ev
	if ev.Overall {
		re.Decision = DecisionFired
		re.Pending = !rule.AutoExecute
	} else {
		re.Decision = DecisionNotFired
	}
	return re
}

// resolveContext loads the entity state and determines the entity type for
// rule selection. A trigger that names its entity type may be evaluated
// even when no current state exists (conditions then see only the trigger
// payload).
func (m *Matcher) resolveContext(ctx context.Context, trigger *TriggerEvent) (*EvalContext, string, error) {
	ectx := &EvalContext{Trigger: trigger}
	entityTypeID := trigger.EntityTypeID

	state, err := m.states.GetState(ctx, trigger.LogicalID)
	switch {
	case err == nil:
		ectx.State = state.Data
		if entityTypeID == "" {
			entityTypeID = state.EntityTypeID
		}
	case errors.Is(err, ErrEntityNotFound) && entityTypeID != "":
		// No snapshot yet; evaluate against the trigger payload alone.
	default:
		return nil, "", fmt.Errorf("failed to load entity state for %s: %w", trigger.LogicalID, err)
	}

	return ectx, entityTypeID, nil
}

func (m *Matcher) loadRules(ctx context.Context, entityTypeID string) ([]*DecisionRule, error) {
	if m.cache != nil {
		if rules := m.cache.Get(entityTypeID); rules != nil {
			return rules, nil
		}
	}

	rules, err := m.registry.ListEnabledRules(ctx, entityTypeID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Set(entityTypeID, rules)
	}
	return rules, nil
}
