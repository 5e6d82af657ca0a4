package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebsw/verdict/internal/retry"
)

// Engine runs the full decision pipeline for a trigger: match enabled rules,
// evaluate conditions, execute plans for fired auto-execute rules, and
// record one decision log per evaluated rule.
//
// Evaluation is pure, so independent triggers may be processed concurrently.
// Cross-rule serialization for the same entity is opt-in via
// WithEntityLocks.
type Engine struct {
	registry RuleRegistry
	states   EntityStateStore
	matcher  *Matcher
	runner   *Runner
	recorder *Recorder
	exprs    *ExpressionEnv
	cache    RulesCache
	locks    *keyedMutex
	metrics  *Metrics
	logger   *slog.Logger
}

type engineOptions struct {
	cache       RulesCache
	stepTimeout time.Duration
	retryCfg    retry.Config
	metrics     *Metrics
	entityLocks bool
	logger      *slog.Logger
}

// Option configures engine construction.
type Option func(*engineOptions)

// WithCache sets the enabled-rules cache. Pass nil to disable caching.
func WithCache(cache RulesCache) Option {
	return func(o *engineOptions) { o.cache = cache }
}

// WithStepTimeout bounds each action dispatch. 0 disables the per-step
// deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.stepTimeout = d }
}

// WithRetryConfig overrides the audit-write retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *engineOptions) { o.retryCfg = cfg }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithEntityLocks serializes full pipeline passes per logicalId, so two
// triggers racing on the same entity cannot interleave action side effects.
func WithEntityLocks() Option {
	return func(o *engineOptions) { o.entityLocks = true }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// NewEngine creates a decision engine over the given collaborators.
func NewEngine(registry RuleRegistry, states EntityStateStore, dispatcher ActionDispatcher, sink LogSink, opts ...Option) (*Engine, error) {
	o := engineOptions{
		cache:       NewInMemoryRulesCache(DefaultCacheConfig()),
		stepTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	exprs, err := NewExpressionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}

	e := &Engine{
		registry: registry,
		states:   states,
		exprs:    exprs,
		cache:    o.cache,
		metrics:  o.metrics,
		logger:   o.logger.With("component", "decision-engine"),
	}
	e.matcher = NewMatcher(registry, states, NewEvaluator(exprs), o.cache, o.logger)
	e.runner = NewRunner(dispatcher, registry, o.stepTimeout, o.logger)
	e.recorder = NewRecorder(sink, o.retryCfg, o.logger)
	if o.entityLocks {
		e.locks = newKeyedMutex()
	}
	return e, nil
}

// ValidateRule validates a rule definition, compiling any CEL expression
// conditions against the engine's environment.
func (e *Engine) ValidateRule(rule *DecisionRule) error {
	return ValidateRule(rule, e.exprs)
}

// InvalidateCache drops the cached enabled-rules lists. Call after rule
// mutations.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.Invalidate()
	}
}

// Process runs one matcher pass for a trigger. All enabled rules for the
// entity type are evaluated and logged; fired autoExecute rules run their
// plans. Per-rule errors are captured in the results. Only entity/registry
// load failures, audit write failures, and cancellation return an error.
func (e *Engine) Process(ctx context.Context, trigger *TriggerEvent) (*TriggerResult, error) {
	return e.process(ctx, trigger, false)
}

// Simulate runs the same pipeline as Process but never dispatches actions:
// fired rules report the steps that would run and are logged with status
// "simulated".
func (e *Engine) Simulate(ctx context.Context, trigger *TriggerEvent) (*TriggerResult, error) {
	return e.process(ctx, trigger, true)
}

func (e *Engine) process(ctx context.Context, trigger *TriggerEvent, simulate bool) (*TriggerResult, error) {
	if trigger.LogicalID == "" {
		return nil, fmt.Errorf("trigger is missing a logicalId")
	}
	trigger = normalizeTrigger(trigger, simulate)

	if e.locks != nil {
		unlock := e.locks.Lock(trigger.LogicalID)
		defer unlock()
	}

	evaluations, err := e.matcher.Match(ctx, trigger)
	if err != nil {
		return nil, err
	}

	result := &TriggerResult{
		LogicalID:   trigger.LogicalID,
		TriggerType: trigger.Type,
		Results:     make([]*DecisionResult, 0, len(evaluations)),
	}

	for _, re := range evaluations {
		dr, err := e.finalize(ctx, trigger, re, simulate)
		if dr != nil {
			result.Results = append(result.Results, dr)
			result.RulesEvaluated++
			if dr.Decision == DecisionFired {
				result.RulesFired++
			}
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// normalizeTrigger stamps the trigger type and timestamp on a copy, leaving
// the caller's event untouched.
func normalizeTrigger(trigger *TriggerEvent, simulate bool) *TriggerEvent {
	t := *trigger
	if simulate {
		t.Type = TriggerSimulation
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now()
	}
	return &t
}

// ProcessRule evaluates a single rule for a trigger, the caller-directed
// variant of Process. The rule must exist and be enabled.
func (e *Engine) ProcessRule(ctx context.Context, ruleID string, trigger *TriggerEvent, simulate bool) (*DecisionResult, error) {
	rule, err := e.registry.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	trigger = normalizeTrigger(trigger, simulate)

	if e.locks != nil {
		unlock := e.locks.Lock(trigger.LogicalID)
		defer unlock()
	}

	re, err := e.matcher.EvaluateOne(ctx, rule, trigger)
	if err != nil {
		return nil, err
	}
	return e.finalize(ctx, trigger, re, simulate)
}

// ExecutePending runs the execution plan for a previously logged
// fired_pending decision, the confirmation half of the autoExecute=false
// policy. The original log row stays untouched; the confirmed run is
// recorded as a new log entry with trigger type "confirmation" that
// references the pending entry. A pending decision is confirmed at most
// once; repeats return ErrAlreadyConfirmed.
func (e *Engine) ExecutePending(ctx context.Context, logID string) (*DecisionResult, error) {
	pending, err := e.recorder.sink.GetLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if pending.Status != StatusFiredPending {
		return nil, fmt.Errorf("decision log %s has status %q: %w", logID, pending.Status, ErrNotPending)
	}

	rule, err := e.registry.GetRule(ctx, pending.DecisionRuleID)
	if err != nil {
		return nil, err
	}

	trigger := &TriggerEvent{
		Type:       TriggerConfirmation,
		LogicalID:  pending.LogicalID,
		Data:       pending.TriggerData,
		OccurredAt: time.Now(),
	}

	if e.locks != nil {
		unlock := e.locks.Lock(trigger.LogicalID)
		defer unlock()
	}

	// Checked under the entity lock so concurrent confirmations of the
	// same pending entry cannot both pass.
	prior, err := e.recorder.sink.ListLogs(ctx, LogFilter{ConfirmsLogID: logID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to check prior confirmations for log %s: %w", logID, err)
	}
	if len(prior) > 0 {
		return nil, fmt.Errorf("decision log %s was confirmed by log %s: %w", logID, prior[0].ID, ErrAlreadyConfirmed)
	}

	req := e.dispatchRequest(ctx, trigger)
	outcome, err := e.runPlan(ctx, rule, req)
	if err != nil {
		return nil, err
	}

	status := StatusFiredExecuted
	if outcome.Status == OutcomeAborted {
		status = StatusFiredAborted
	}

	logEntry := &DecisionLog{
		DecisionRuleID:   rule.ID,
		RuleName:         rule.Name,
		LogicalID:        trigger.LogicalID,
		TriggerType:      trigger.Type,
		TriggerData:      trigger.Data,
		ConditionResults: pending.ConditionResults,
		Decision:         DecisionFired,
		ExecutionResults: outcome,
		Status:           status,
		ConfirmsLogID:    pending.ID,
	}
	id, err := e.record(ctx, logEntry)
	if err != nil {
		return nil, err
	}

	e.metrics.observeFired(rule.Name, status)
	e.metrics.observeSteps(outcome)

	return &DecisionResult{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		LogID:      id,
		Decision:   DecisionFired,
		Status:     status,
		Evaluation: pending.ConditionResults,
		Outcome:    outcome,
	}, nil
}

// finalize turns one matcher verdict into an executed (or skipped) and
// recorded decision. Exactly one log row is written per call, whatever the
// outcome.
func (e *Engine) finalize(ctx context.Context, trigger *TriggerEvent, re *RuleEvaluation, simulate bool) (*DecisionResult, error) {
	started := time.Now()
	rule := re.Rule

	logEntry := &DecisionLog{
		DecisionRuleID:   rule.ID,
		RuleName:         rule.Name,
		LogicalID:        trigger.LogicalID,
		TriggerType:      trigger.Type,
		TriggerData:      trigger.Data,
		ConditionResults: re.Evaluation,
		Decision:         re.Decision,
	}

	var outcome *ExecutionOutcome
	switch {
	case re.Decision == DecisionError:
		logEntry.Status = StatusError
		if re.Err != nil {
			logEntry.Error = re.Err.Error()
		}

	case re.Decision == DecisionNotFired:
		logEntry.Status = StatusNotFired

	case simulate:
		outcome = e.simulatePlan(ctx, rule)
		logEntry.Status = StatusSimulated
		logEntry.ExecutionResults = outcome

	case re.Pending:
		logEntry.Status = StatusFiredPending

	default:
		req := e.dispatchRequest(ctx, trigger)
		var err error
		outcome, err = e.runPlan(ctx, rule, req)
		if err != nil {
			// The evaluation still gets its audit row; only the write
			// itself failing may leave the attempt unrecorded.
			logEntry.Status = StatusError
			logEntry.Error = err.Error()
			if _, recErr := e.record(ctx, logEntry); recErr != nil {
				return nil, recErr
			}
			return nil, err
		}
		logEntry.ExecutionResults = outcome
		if outcome.Status == OutcomeAborted {
			logEntry.Status = StatusFiredAborted
		} else {
			logEntry.Status = StatusFiredExecuted
		}
	}

	id, err := e.record(ctx, logEntry)
	if err != nil {
		return nil, err
	}

	e.metrics.observeEvaluation(rule.Name, re.Decision, time.Since(started))
	if re.Decision == DecisionFired {
		e.metrics.observeFired(rule.Name, logEntry.Status)
		e.metrics.observeSteps(outcome)
	}

	return &DecisionResult{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		LogID:      id,
		Decision:   re.Decision,
		Status:     logEntry.Status,
		Evaluation: re.Evaluation,
		Outcome:    outcome,
	}, nil
}

func (e *Engine) runPlan(ctx context.Context, rule *DecisionRule, req *DispatchRequest) (*ExecutionOutcome, error) {
	steps, err := e.registry.GetExecutionPlan(ctx, rule.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution plan for rule %s: %w", rule.ID, err)
	}
	return e.runner.Run(ctx, rule, steps, req), nil
}

// simulatePlan reports the steps a fired rule would run, without
// dispatching any of them.
func (e *Engine) simulatePlan(ctx context.Context, rule *DecisionRule) *ExecutionOutcome {
	now := time.Now()
	outcome := &ExecutionOutcome{Status: OutcomeCompleted, StartedAt: now, FinishedAt: now}

	steps, err := e.registry.GetExecutionPlan(ctx, rule.ID)
	if err != nil {
		e.logger.Warn("failed to load execution plan for simulation", "rule", rule.Name, "error", err)
		return outcome
	}

	for _, step := range steps {
		sr := StepResult{StepOrder: step.StepOrder, ActionID: step.ActionDefinitionID, Success: true}
		if action, err := e.registry.GetActionDefinition(ctx, step.ActionDefinitionID); err == nil {
			sr.ActionName = action.Name
			sr.ActionType = action.Type
			sr.Output = map[string]any{"simulated": true, "wouldExecute": action.Type}
		}
		outcome.Steps = append(outcome.Steps, sr)
	}
	return outcome
}

// dispatchRequest snapshots the entity state for action execution. A
// missing snapshot is tolerated; actions then see only the trigger payload.
func (e *Engine) dispatchRequest(ctx context.Context, trigger *TriggerEvent) *DispatchRequest {
	req := &DispatchRequest{LogicalID: trigger.LogicalID, Trigger: trigger}
	if state, err := e.states.GetState(ctx, trigger.LogicalID); err == nil {
		req.State = state.Data
	}
	return req
}

func (e *Engine) record(ctx context.Context, logEntry *DecisionLog) (string, error) {
	id, err := e.recorder.Record(ctx, logEntry)
	if err != nil {
		e.metrics.observeAuditFailure()
		return "", err
	}
	return id, nil
}
