package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements RuleStore backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed RuleStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AddRule inserts a new rule.
func (s *PostgresStore) AddRule(ctx context.Context, rule *DecisionRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_rules
			(id, name, entity_type_id, conditions, logic_operator, priority,
			 auto_execute, confidence_threshold, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.Name, rule.EntityTypeID, []byte(rule.Conditions),
		rule.LogicOperator, rule.Priority, rule.AutoExecute,
		nullFloat(rule.ConfidenceThreshold), rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *PostgresStore) GetRule(ctx context.Context, id string) (*DecisionRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type_id, conditions, logic_operator, priority,
		       auto_execute, confidence_threshold, enabled, created_at, updated_at
		FROM decision_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListEnabledRules returns enabled rules for an entity type in evaluation
// order: priority ascending, then createdAt, then ID.
func (s *PostgresStore) ListEnabledRules(ctx context.Context, entityTypeID string) ([]*DecisionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, entity_type_id, conditions, logic_operator, priority,
		       auto_execute, confidence_threshold, enabled, created_at, updated_at
		FROM decision_rules
		WHERE entity_type_id = $1 AND enabled = true
		ORDER BY priority ASC, created_at ASC, id ASC
	`, entityTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// ListRules returns all rules, enabled or not.
func (s *PostgresStore) ListRules(ctx context.Context) ([]*DecisionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, entity_type_id, conditions, logic_operator, priority,
		       auto_execute, confidence_threshold, enabled, created_at, updated_at
		FROM decision_rules
		ORDER BY priority ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// UpdateRule modifies an existing rule.
func (s *PostgresStore) UpdateRule(ctx context.Context, rule *DecisionRule) error {
	rule.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE decision_rules
		SET name = $1, entity_type_id = $2, conditions = $3, logic_operator = $4,
		    priority = $5, auto_execute = $6, confidence_threshold = $7,
		    enabled = $8, updated_at = $9
		WHERE id = $10
	`, rule.Name, rule.EntityTypeID, []byte(rule.Conditions), rule.LogicOperator,
		rule.Priority, rule.AutoExecute, nullFloat(rule.ConfidenceThreshold),
		rule.Enabled, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}
	return nil
}

// DeleteRule removes a rule and, via cascade, its execution plan.
func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM decision_rules
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

// AddAction inserts a new action definition.
func (s *PostgresStore) AddAction(ctx context.Context, action *ActionDefinition) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}

	config, err := json.Marshal(action.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal action config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_definitions (id, name, action_type, config, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, action.ID, action.Name, action.Type, config, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// GetActionDefinition retrieves an action template by ID.
func (s *PostgresStore) GetActionDefinition(ctx context.Context, id string) (*ActionDefinition, error) {
	var (
		action ActionDefinition
		config []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, action_type, config, created_at
		FROM action_definitions
		WHERE id = $1
	`, id).Scan(&action.ID, &action.Name, &action.Type, &config, &action.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("action %s: %w", id, ErrActionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, &action.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action config: %w", err)
		}
	}
	return &action, nil
}

// ListActions returns all registered action definitions.
func (s *PostgresStore) ListActions(ctx context.Context) ([]*ActionDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, action_type, config, created_at
		FROM action_definitions
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*ActionDefinition
	for rows.Next() {
		var (
			action ActionDefinition
			config []byte
		)
		if err := rows.Scan(&action.ID, &action.Name, &action.Type, &config, &action.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &action.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal action config: %w", err)
			}
		}
		actions = append(actions, &action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// AddPlanStep attaches one step to a rule's execution plan. The unique
// constraint on (decision_rule_id, step_order) rejects duplicate orders.
func (s *PostgresStore) AddPlanStep(ctx context.Context, step *ExecutionPlanStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_plans
			(id, decision_rule_id, action_definition_id, step_order,
			 continue_on_failure, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, step.ID, step.DecisionRuleID, step.ActionDefinitionID,
		step.StepOrder, step.ContinueOnFailure, step.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert plan step: %w", err)
	}
	return nil
}

// GetExecutionPlan returns a rule's steps ordered by stepOrder ascending.
func (s *PostgresStore) GetExecutionPlan(ctx context.Context, ruleID string) ([]*ExecutionPlanStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_rule_id, action_definition_id, step_order,
		       continue_on_failure, created_at
		FROM execution_plans
		WHERE decision_rule_id = $1
		ORDER BY step_order ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan steps: %w", err)
	}
	defer rows.Close()

	var steps []*ExecutionPlanStep
	for rows.Next() {
		var step ExecutionPlanStep
		if err := rows.Scan(&step.ID, &step.DecisionRuleID, &step.ActionDefinitionID,
			&step.StepOrder, &step.ContinueOnFailure, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan step: %w", err)
		}
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan steps: %w", err)
	}
	return steps, nil
}

// PostgresStateStore reads and writes current entity state snapshots.
type PostgresStateStore struct {
	db *sql.DB
}

// NewPostgresStateStore creates a PostgreSQL-backed entity state store.
func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

// GetState returns the current state for a logical ID.
func (s *PostgresStateStore) GetState(ctx context.Context, logicalID string) (*EntityState, error) {
	var (
		state EntityState
		data  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT logical_id, entity_type_id, data, updated_at
		FROM current_entity_state
		WHERE logical_id = $1
	`, logicalID).Scan(&state.LogicalID, &state.EntityTypeID, &data, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s: %w", logicalID, ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity state: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &state.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity state: %w", err)
		}
	}
	return &state, nil
}

// PutState upserts the current snapshot for a logical ID.
func (s *PostgresStateStore) PutState(ctx context.Context, state *EntityState) error {
	data, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal entity state: %w", err)
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO current_entity_state (logical_id, entity_type_id, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (logical_id)
		DO UPDATE SET entity_type_id = EXCLUDED.entity_type_id,
		              data = EXCLUDED.data,
		              updated_at = EXCLUDED.updated_at
	`, state.LogicalID, state.EntityTypeID, data, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert entity state: %w", err)
	}
	return nil
}

// PostgresLogSink persists decision logs. Append-only: no update or delete
// statements exist here on purpose.
type PostgresLogSink struct {
	db *sql.DB
}

// NewPostgresLogSink creates a PostgreSQL-backed decision log sink.
func NewPostgresLogSink(db *sql.DB) *PostgresLogSink {
	return &PostgresLogSink{db: db}
}

// Append persists one decision record and returns its ID.
func (s *PostgresLogSink) Append(ctx context.Context, log *DecisionLog) (string, error) {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	triggerData, err := json.Marshal(log.TriggerData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger data: %w", err)
	}
	conditionResults, err := marshalNullable(log.ConditionResults)
	if err != nil {
		return "", fmt.Errorf("failed to marshal condition results: %w", err)
	}
	executionResults, err := marshalNullable(log.ExecutionResults)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_logs
			(id, decision_rule_id, rule_name, logical_id, trigger_type,
			 trigger_data, condition_results, decision, execution_results,
			 status, error, confirms_log_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, log.ID, log.DecisionRuleID, log.RuleName, log.LogicalID, log.TriggerType,
		triggerData, conditionResults, log.Decision, executionResults,
		log.Status, nullString(log.Error), nullString(log.ConfirmsLogID), log.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert decision log: %w", err)
	}
	return log.ID, nil
}

// GetLog returns a decision record by ID.
func (s *PostgresLogSink) GetLog(ctx context.Context, id string) (*DecisionLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, decision_rule_id, rule_name, logical_id, trigger_type,
		       trigger_data, condition_results, decision, execution_results,
		       status, error, confirms_log_id, created_at
		FROM decision_logs
		WHERE id = $1
	`, id)

	log, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("decision log %s: %w", id, ErrLogNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision log: %w", err)
	}
	return log, nil
}

// ListLogs returns decision records matching the filter, newest first.
func (s *PostgresLogSink) ListLogs(ctx context.Context, filter LogFilter) ([]*DecisionLog, error) {
	query := `
		SELECT id, decision_rule_id, rule_name, logical_id, trigger_type,
		       trigger_data, condition_results, decision, execution_results,
		       status, error, confirms_log_id, created_at
		FROM decision_logs
		WHERE ($1 = '' OR logical_id = $1)
		  AND ($2 = '' OR decision_rule_id = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4 = '' OR confirms_log_id = $4)
		ORDER BY created_at DESC, id DESC
	`
	args := []any{filter.LogicalID, filter.RuleID, filter.Status, filter.ConfirmsLogID}
	if filter.Limit > 0 {
		query += " LIMIT $5"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decision logs: %w", err)
	}
	defer rows.Close()

	var logs []*DecisionLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision logs: %w", err)
	}
	return logs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*DecisionRule, error) {
	var (
		rule       DecisionRule
		conditions []byte
		threshold  sql.NullFloat64
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.EntityTypeID, &conditions,
		&rule.LogicOperator, &rule.Priority, &rule.AutoExecute,
		&threshold, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rule.Conditions = json.RawMessage(conditions)
	if threshold.Valid {
		rule.ConfidenceThreshold = &threshold.Float64
	}
	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*DecisionRule, error) {
	var rules []*DecisionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func scanLog(row rowScanner) (*DecisionLog, error) {
	var (
		log              DecisionLog
		triggerData      []byte
		conditionResults []byte
		executionResults []byte
		errMsg           sql.NullString
		confirms         sql.NullString
	)
	err := row.Scan(&log.ID, &log.DecisionRuleID, &log.RuleName, &log.LogicalID,
		&log.TriggerType, &triggerData, &conditionResults, &log.Decision,
		&executionResults, &log.Status, &errMsg, &confirms, &log.CreatedAt)
	if err != nil {
		return nil, err
	}
	if confirms.Valid {
		log.ConfirmsLogID = confirms.String
	}

	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &log.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}
	if len(conditionResults) > 0 {
		if err := json.Unmarshal(conditionResults, &log.ConditionResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal condition results: %w", err)
		}
	}
	if len(executionResults) > 0 {
		if err := json.Unmarshal(executionResults, &log.ExecutionResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution results: %w", err)
		}
	}
	if errMsg.Valid {
		log.Error = errMsg.String
	}
	return &log, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *Evaluation:
		if x == nil {
			return nil, nil
		}
	case *ExecutionOutcome:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
