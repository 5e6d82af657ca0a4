package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner executes a fired rule's plan: steps strictly in ascending
// stepOrder, sequential, with per-step timeout and continue-on-failure
// policy. Dispatcher errors and panics become failed step results; nothing
// propagates out of a run except through the outcome.
type Runner struct {
	dispatcher  ActionDispatcher
	registry    RuleRegistry
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewRunner creates a plan runner. stepTimeout bounds each dispatch; 0
// disables the per-step deadline.
func NewRunner(dispatcher ActionDispatcher, registry RuleRegistry, stepTimeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatcher:  dispatcher,
		registry:    registry,
		stepTimeout: stepTimeout,
		logger:      logger.With("component", "plan-runner"),
	}
}

// Run executes the plan steps for one fired rule. Once a step has begun
// dispatch it runs to completion or timeout; ctx cancellation is only
// observed between steps.
func (r *Runner) Run(ctx context.Context, rule *DecisionRule, steps []*ExecutionPlanStep, req *DispatchRequest) *ExecutionOutcome {
	outcome := &ExecutionOutcome{
		Status:    OutcomeCompleted,
		Steps:     make([]StepResult, 0, len(steps)),
		StartedAt: time.Now(),
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			outcome.Status = OutcomeAborted
			break
		}

		result := r.runStep(ctx, step, req)
		outcome.Steps = append(outcome.Steps, result)

		if !result.Success {
			r.logger.Warn("plan step failed",
				"rule", rule.Name,
				"step_order", step.StepOrder,
				"action", result.ActionName,
				"error", result.Error,
				"continue_on_failure", step.ContinueOnFailure)

			if !step.ContinueOnFailure {
				outcome.Status = OutcomeAborted
				break
			}
		}
	}

	if outcome.Status != OutcomeAborted && outcome.Failed() {
		outcome.Status = OutcomePartial
	}
	outcome.FinishedAt = time.Now()
	return outcome
}

func (r *Runner) runStep(ctx context.Context, step *ExecutionPlanStep, req *DispatchRequest) StepResult {
	started := time.Now()
	result := StepResult{StepOrder: step.StepOrder, ActionID: step.ActionDefinitionID}

	action, err := r.registry.GetActionDefinition(ctx, step.ActionDefinitionID)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(started)
		return result
	}
	result.ActionName = action.Name
	result.ActionType = action.Type

	stepCtx := ctx
	if r.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.stepTimeout)
		defer cancel()
	}

	output, err := r.dispatch(stepCtx, action, req)
	result.Output = output
	result.Duration = time.Since(started)

	switch {
	case err == nil:
		result.Success = true
	case errors.Is(err, context.DeadlineExceeded):
		result.Error = "timeout"
	default:
		result.Error = err.Error()
	}
	return result
}

// dispatch calls the dispatcher, converting panics into failed results.
func (r *Runner) dispatch(ctx context.Context, action *ActionDefinition, req *DispatchRequest) (output map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			output = nil
			err = fmt.Errorf("dispatcher panic: %v", rec)
		}
	}()
	return r.dispatcher.Dispatch(ctx, action, req)
}
