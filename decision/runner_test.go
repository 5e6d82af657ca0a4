package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

type plannedAction struct {
	name              string
	continueOnFailure bool
}

// buildPlan seeds a store with one rule and a sequence of actions, one plan
// step each, in order.
func buildPlan(t *testing.T, actions ...plannedAction) (*InMemoryStore, *DecisionRule, []*ExecutionPlanStep) {
	t.Helper()
	ctx := context.Background()
	store := NewInMemoryStore()

	rule := &DecisionRule{
		Name:          "test rule",
		EntityTypeID:  "sensor",
		Conditions:    json.RawMessage(`{"field": "x", "operator": "exists"}`),
		LogicOperator: "AND",
		Priority:      1,
		Enabled:       true,
	}
	if err := store.AddRule(ctx, rule); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	for i, a := range actions {
		action := &ActionDefinition{Name: a.name, Type: a.name, Config: map[string]any{}}
		if err := store.AddAction(ctx, action); err != nil {
			t.Fatalf("AddAction: %v", err)
		}
		step := &ExecutionPlanStep{
			DecisionRuleID:     rule.ID,
			ActionDefinitionID: action.ID,
			StepOrder:          i + 1,
			ContinueOnFailure:  a.continueOnFailure,
		}
		if err := store.AddPlanStep(ctx, step); err != nil {
			t.Fatalf("AddPlanStep: %v", err)
		}
	}

	steps, err := store.GetExecutionPlan(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetExecutionPlan: %v", err)
	}
	return store, rule, steps
}

func TestRunnerAllStepsSucceed(t *testing.T) {
	store, rule, steps := buildPlan(t,
		plannedAction{name: "first"},
		plannedAction{name: "second"},
	)

	dispatcher := DispatcherFunc(func(_ context.Context, action *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		return map[string]any{"ran": action.Name}, nil
	})

	runner := NewRunner(dispatcher, store, 0, nil)
	outcome := runner.Run(context.Background(), rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomeCompleted {
		t.Errorf("expected status %q, got %q", OutcomeCompleted, outcome.Status)
	}
	if len(outcome.Steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(outcome.Steps))
	}
	for i, sr := range outcome.Steps {
		if !sr.Success {
			t.Errorf("step %d should have succeeded: %s", i, sr.Error)
		}
		if sr.StepOrder != i+1 {
			t.Errorf("step %d has order %d", i, sr.StepOrder)
		}
	}
}

func TestRunnerAbortsOnFailure(t *testing.T) {
	store, rule, steps := buildPlan(t,
		plannedAction{name: "fails"},
		plannedAction{name: "never-runs"},
	)

	dispatcher := DispatcherFunc(func(_ context.Context, action *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		if action.Name == "fails" {
			return nil, fmt.Errorf("boom")
		}
		return nil, nil
	})

	runner := NewRunner(dispatcher, store, 0, nil)
	outcome := runner.Run(context.Background(), rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomeAborted {
		t.Errorf("expected status %q, got %q", OutcomeAborted, outcome.Status)
	}
	// The second step never dispatched.
	if len(outcome.Steps) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(outcome.Steps))
	}
	if outcome.Steps[0].Error != "boom" {
		t.Errorf("expected error %q, got %q", "boom", outcome.Steps[0].Error)
	}
}

func TestRunnerContinueOnFailure(t *testing.T) {
	store, rule, steps := buildPlan(t,
		plannedAction{name: "fails", continueOnFailure: true},
		plannedAction{name: "runs"},
	)

	dispatcher := DispatcherFunc(func(_ context.Context, action *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		if action.Name == "fails" {
			return nil, fmt.Errorf("boom")
		}
		return nil, nil
	})

	runner := NewRunner(dispatcher, store, 0, nil)
	outcome := runner.Run(context.Background(), rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomePartial {
		t.Errorf("expected status %q, got %q", OutcomePartial, outcome.Status)
	}
	if len(outcome.Steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(outcome.Steps))
	}
	if outcome.Steps[0].Success || !outcome.Steps[1].Success {
		t.Errorf("expected failure then success, got %v then %v", outcome.Steps[0].Success, outcome.Steps[1].Success)
	}
}

func TestRunnerStepTimeout(t *testing.T) {
	store, rule, steps := buildPlan(t, plannedAction{name: "slow"})

	dispatcher := DispatcherFunc(func(ctx context.Context, _ *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	})

	runner := NewRunner(dispatcher, store, 20*time.Millisecond, nil)
	outcome := runner.Run(context.Background(), rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomeAborted {
		t.Errorf("expected status %q, got %q", OutcomeAborted, outcome.Status)
	}
	if outcome.Steps[0].Error != "timeout" {
		t.Errorf("expected error %q, got %q", "timeout", outcome.Steps[0].Error)
	}
}

func TestRunnerDispatcherPanic(t *testing.T) {
	store, rule, steps := buildPlan(t, plannedAction{name: "panics", continueOnFailure: true})

	dispatcher := DispatcherFunc(func(_ context.Context, _ *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		panic("unexpected")
	})

	runner := NewRunner(dispatcher, store, 0, nil)
	outcome := runner.Run(context.Background(), rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomePartial {
		t.Errorf("expected status %q, got %q", OutcomePartial, outcome.Status)
	}
	if outcome.Steps[0].Error != "dispatcher panic: unexpected" {
		t.Errorf("unexpected error: %q", outcome.Steps[0].Error)
	}
}

func TestRunnerMissingAction(t *testing.T) {
	store, rule, steps := buildPlan(t, plannedAction{name: "real"})
	// Point the step at an action that does not exist.
	steps[0].ActionDefinitionID = "missing-action"

	dispatcher := DispatcherFunc(func(_ context.Context, _ *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		t.Fatal("dispatcher should not be called")
		return nil, nil
	})

	runner := NewRunner(dispatcher, store, 0, nil)
	outcome := runner.Run(context.Background(), rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomeAborted {
		t.Errorf("expected status %q, got %q", OutcomeAborted, outcome.Status)
	}
	if outcome.Steps[0].Success {
		t.Error("step with missing action should fail")
	}
}

func TestRunnerCancelledContext(t *testing.T) {
	store, rule, steps := buildPlan(t, plannedAction{name: "never"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dispatcher := DispatcherFunc(func(_ context.Context, _ *ActionDefinition, _ *DispatchRequest) (map[string]any, error) {
		t.Fatal("dispatcher should not be called")
		return nil, nil
	})

	runner := NewRunner(dispatcher, store, 0, nil)
	outcome := runner.Run(ctx, rule, steps, &DispatchRequest{LogicalID: "dev-1"})

	if outcome.Status != OutcomeAborted {
		t.Errorf("expected status %q, got %q", OutcomeAborted, outcome.Status)
	}
	if len(outcome.Steps) != 0 {
		t.Errorf("expected no step results, got %d", len(outcome.Steps))
	}
}
