package decision

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements RuleStore with maps. Thread-safe; used in tests
// and single-process deployments.
type InMemoryStore struct {
	rules   map[string]*DecisionRule
	actions map[string]*ActionDefinition
	steps   map[string][]*ExecutionPlanStep // ruleID -> steps
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory rule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules:   make(map[string]*DecisionRule),
		actions: make(map[string]*ActionDefinition),
		steps:   make(map[string][]*ExecutionPlanStep),
	}
}

func (s *InMemoryStore) AddRule(_ context.Context, rule *DecisionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}
	for _, r := range s.rules {
		if r.Name == rule.Name {
			return fmt.Errorf("rule with name %q already exists", rule.Name)
		}
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryStore) GetRule(_ context.Context, id string) (*DecisionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

func (s *InMemoryStore) UpdateRule(_ context.Context, rule *DecisionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	// Preserve the original creation timestamp.
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	delete(s.rules, id)
	delete(s.steps, id)
	return nil
}

func (s *InMemoryStore) ListRules(_ context.Context) ([]*DecisionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*DecisionRule, 0, len(s.rules))
	for _, r := range s.rules {
		list = append(list, r)
	}
	sortRules(list)
	return list, nil
}

func (s *InMemoryStore) ListEnabledRules(_ context.Context, entityTypeID string) ([]*DecisionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*DecisionRule
	for _, r := range s.rules {
		if r.Enabled && r.EntityTypeID == entityTypeID {
			list = append(list, r)
		}
	}
	sortRules(list)
	return list, nil
}

// sortRules orders by priority ascending with a stable tie-break on
// createdAt, then ID.
func sortRules(list []*DecisionRule) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func (s *InMemoryStore) AddAction(_ context.Context, action *ActionDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	for _, a := range s.actions {
		if a.Name == action.Name {
			return fmt.Errorf("action with name %q already exists", action.Name)
		}
	}
	action.CreatedAt = time.Now()
	s.actions[action.ID] = action
	return nil
}

func (s *InMemoryStore) GetActionDefinition(_ context.Context, id string) (*ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	action, exists := s.actions[id]
	if !exists {
		return nil, fmt.Errorf("action %s: %w", id, ErrActionNotFound)
	}
	return action, nil
}

func (s *InMemoryStore) ListActions(_ context.Context) ([]*ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*ActionDefinition, 0, len(s.actions))
	for _, a := range s.actions {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (s *InMemoryStore) AddPlanStep(_ context.Context, step *ExecutionPlanStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[step.DecisionRuleID]; !exists {
		return fmt.Errorf("rule %s: %w", step.DecisionRuleID, ErrRuleNotFound)
	}
	if _, exists := s.actions[step.ActionDefinitionID]; !exists {
		return fmt.Errorf("action %s: %w", step.ActionDefinitionID, ErrActionNotFound)
	}
	for _, existing := range s.steps[step.DecisionRuleID] {
		if existing.StepOrder == step.StepOrder {
			return fmt.Errorf("step order %d already taken for rule %s", step.StepOrder, step.DecisionRuleID)
		}
	}

	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	step.CreatedAt = time.Now()
	s.steps[step.DecisionRuleID] = append(s.steps[step.DecisionRuleID], step)
	return nil
}

func (s *InMemoryStore) GetExecutionPlan(_ context.Context, ruleID string) ([]*ExecutionPlanStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]*ExecutionPlanStep, len(s.steps[ruleID]))
	copy(steps, s.steps[ruleID])
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

// InMemoryStateStore implements EntityStateStore and EntityStateWriter.
type InMemoryStateStore struct {
	states map[string]*EntityState
	mu     sync.RWMutex
}

// NewInMemoryStateStore creates an empty in-memory entity state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]*EntityState)}
}

func (s *InMemoryStateStore) GetState(_ context.Context, logicalID string) (*EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[logicalID]
	if !exists {
		return nil, fmt.Errorf("entity %s: %w", logicalID, ErrEntityNotFound)
	}
	return state, nil
}

func (s *InMemoryStateStore) PutState(_ context.Context, state *EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	s.states[state.LogicalID] = state
	return nil
}

// InMemoryLogSink implements LogSink with an append-only slice.
type InMemoryLogSink struct {
	logs []*DecisionLog
	byID map[string]*DecisionLog
	mu   sync.RWMutex
}

// NewInMemoryLogSink creates an empty in-memory decision log sink.
func NewInMemoryLogSink() *InMemoryLogSink {
	return &InMemoryLogSink{byID: make(map[string]*DecisionLog)}
}

func (s *InMemoryLogSink) Append(_ context.Context, log *DecisionLog) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, log)
	s.byID[log.ID] = log
	return log.ID, nil
}

func (s *InMemoryLogSink) GetLog(_ context.Context, id string) (*DecisionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, exists := s.byID[id]
	if !exists {
		return nil, fmt.Errorf("decision log %s: %w", id, ErrLogNotFound)
	}
	return log, nil
}

func (s *InMemoryLogSink) ListLogs(_ context.Context, filter LogFilter) ([]*DecisionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*DecisionLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		log := s.logs[i]
		if filter.LogicalID != "" && log.LogicalID != filter.LogicalID {
			continue
		}
		if filter.RuleID != "" && log.DecisionRuleID != filter.RuleID {
			continue
		}
		if filter.Status != "" && log.Status != filter.Status {
			continue
		}
		if filter.ConfirmsLogID != "" && log.ConfirmsLogID != filter.ConfirmsLogID {
			continue
		}
		list = append(list, log)
		if filter.Limit > 0 && len(list) >= filter.Limit {
			break
		}
	}
	return list, nil
}
