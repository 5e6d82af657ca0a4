package decision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func testRule(name string, priority int) *DecisionRule {
	return &DecisionRule{
		Name:          name,
		EntityTypeID:  "sensor",
		Conditions:    json.RawMessage(`{"field": "x", "operator": "exists"}`),
		LogicOperator: "AND",
		Priority:      priority,
		Enabled:       true,
	}
}

func TestInMemoryStoreRuleCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rule := testRule("crud rule", 1)
	if err := store.AddRule(ctx, rule); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("AddRule should assign an ID")
	}
	if rule.CreatedAt.IsZero() {
		t.Error("AddRule should set CreatedAt")
	}

	got, err := store.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Name != "crud rule" {
		t.Errorf("unexpected name %q", got.Name)
	}

	got.Priority = 5
	if err := store.UpdateRule(ctx, got); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	updated, _ := store.GetRule(ctx, rule.ID)
	if updated.Priority != 5 {
		t.Errorf("expected priority 5, got %d", updated.Priority)
	}
	if !updated.CreatedAt.Equal(rule.CreatedAt) {
		t.Error("UpdateRule must preserve CreatedAt")
	}

	if err := store.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if _, err := store.GetRule(ctx, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
	if err := store.DeleteRule(ctx, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound on double delete, got %v", err)
	}
}

func TestInMemoryStoreDuplicateName(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.AddRule(ctx, testRule("dup", 1)); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if err := store.AddRule(ctx, testRule("dup", 2)); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestInMemoryStoreListEnabledRulesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.AddRule(ctx, testRule("second", 5)); err != nil {
		t.Fatal(err)
	}
	if err := store.AddRule(ctx, testRule("first", 1)); err != nil {
		t.Fatal(err)
	}
	disabled := testRule("disabled", 1)
	disabled.Enabled = false
	if err := store.AddRule(ctx, disabled); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListEnabledRules(ctx, "sensor")
	if err != nil {
		t.Fatalf("ListEnabledRules: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(list))
	}
	if list[0].Name != "first" || list[1].Name != "second" {
		t.Errorf("unexpected order: %s, %s", list[0].Name, list[1].Name)
	}
}

func TestInMemoryStorePlanSteps(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rule := testRule("planned", 1)
	if err := store.AddRule(ctx, rule); err != nil {
		t.Fatal(err)
	}
	action := &ActionDefinition{Name: "act", Type: "log_only", Config: map[string]any{}}
	if err := store.AddAction(ctx, action); err != nil {
		t.Fatal(err)
	}

	// Steps added out of order come back sorted by stepOrder.
	for _, order := range []int{2, 1} {
		err := store.AddPlanStep(ctx, &ExecutionPlanStep{
			DecisionRuleID:     rule.ID,
			ActionDefinitionID: action.ID,
			StepOrder:          order,
		})
		if err != nil {
			t.Fatalf("AddPlanStep(%d): %v", order, err)
		}
	}

	err := store.AddPlanStep(ctx, &ExecutionPlanStep{
		DecisionRuleID:     rule.ID,
		ActionDefinitionID: action.ID,
		StepOrder:          1,
	})
	if err == nil {
		t.Error("expected duplicate step order error")
	}

	err = store.AddPlanStep(ctx, &ExecutionPlanStep{
		DecisionRuleID:     rule.ID,
		ActionDefinitionID: "missing",
		StepOrder:          3,
	})
	if !errors.Is(err, ErrActionNotFound) {
		t.Errorf("expected ErrActionNotFound, got %v", err)
	}

	steps, err := store.GetExecutionPlan(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetExecutionPlan: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].StepOrder != 1 || steps[1].StepOrder != 2 {
		t.Errorf("steps not ordered: %d, %d", steps[0].StepOrder, steps[1].StepOrder)
	}

	if err := store.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatal(err)
	}
	steps, _ = store.GetExecutionPlan(ctx, rule.ID)
	if len(steps) != 0 {
		t.Error("deleting a rule should drop its plan")
	}
}

func TestInMemoryLogSinkAppendOnly(t *testing.T) {
	ctx := context.Background()
	sink := NewInMemoryLogSink()

	for _, status := range []string{StatusNotFired, StatusFiredExecuted, StatusNotFired} {
		_, err := sink.Append(ctx, &DecisionLog{
			DecisionRuleID: "rule-1",
			LogicalID:      "dev-1",
			TriggerType:    TriggerEntityChange,
			Decision:       DecisionNotFired,
			Status:         status,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := sink.Append(ctx, &DecisionLog{
		DecisionRuleID: "rule-2",
		LogicalID:      "dev-2",
		TriggerType:    TriggerEntityChange,
		Decision:       DecisionNotFired,
		Status:         StatusNotFired,
	}); err != nil {
		t.Fatal(err)
	}

	all, err := sink.ListLogs(ctx, LogFilter{})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 logs, got %d", len(all))
	}
	// Newest first.
	if all[0].LogicalID != "dev-2" {
		t.Errorf("expected newest log first, got %s", all[0].LogicalID)
	}

	byEntity, _ := sink.ListLogs(ctx, LogFilter{LogicalID: "dev-1"})
	if len(byEntity) != 3 {
		t.Errorf("expected 3 logs for dev-1, got %d", len(byEntity))
	}
	byStatus, _ := sink.ListLogs(ctx, LogFilter{Status: StatusFiredExecuted})
	if len(byStatus) != 1 {
		t.Errorf("expected 1 fired_executed log, got %d", len(byStatus))
	}
	limited, _ := sink.ListLogs(ctx, LogFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected 2 logs with limit, got %d", len(limited))
	}

	if _, err := sink.Append(ctx, &DecisionLog{
		DecisionRuleID: "rule-1",
		LogicalID:      "dev-1",
		TriggerType:    TriggerConfirmation,
		Decision:       DecisionFired,
		Status:         StatusFiredExecuted,
		ConfirmsLogID:  all[1].ID,
	}); err != nil {
		t.Fatal(err)
	}
	confirms, _ := sink.ListLogs(ctx, LogFilter{ConfirmsLogID: all[1].ID})
	if len(confirms) != 1 {
		t.Errorf("expected 1 confirmation log for %s, got %d", all[1].ID, len(confirms))
	}
	confirms, _ = sink.ListLogs(ctx, LogFilter{ConfirmsLogID: "unconfirmed"})
	if len(confirms) != 0 {
		t.Errorf("expected no confirmation logs, got %d", len(confirms))
	}

	if _, err := sink.GetLog(ctx, "missing"); !errors.Is(err, ErrLogNotFound) {
		t.Errorf("expected ErrLogNotFound, got %v", err)
	}
}

func TestInMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStateStore()

	if _, err := store.GetState(ctx, "missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}

	state := &EntityState{LogicalID: "dev-1", EntityTypeID: "sensor", Data: map[string]any{"temp": 20.0}}
	if err := store.PutState(ctx, state); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err := store.GetState(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.Data["temp"] != 20.0 {
		t.Errorf("unexpected data: %v", got.Data)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("PutState should stamp UpdatedAt")
	}
}
