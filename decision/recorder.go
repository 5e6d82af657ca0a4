package decision

import (
	"context"
	"log/slog"

	"github.com/calebsw/verdict/internal/retry"
)

// Recorder persists decision logs through a LogSink with bounded retry.
// Audit completeness is a correctness property: a write that still fails
// after retries surfaces as *AuditWriteError to the pipeline caller instead
// of being dropped.
type Recorder struct {
	sink   LogSink
	cfg    retry.Config
	logger *slog.Logger
}

// NewRecorder creates a recorder using the given retry config; a zero
// config gets the defaults.
func NewRecorder(sink LogSink, cfg retry.Config, logger *slog.Logger) *Recorder {
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "decision-recorder"),
	}
}

// Record appends exactly one log row for a rule evaluation attempt and
// returns its ID.
func (r *Recorder) Record(ctx context.Context, log *DecisionLog) (string, error) {
	id, err := retry.DoWithResult(ctx, r.cfg, func() (string, error) {
		return r.sink.Append(ctx, log)
	})
	if err != nil {
		r.logger.Error("decision log write failed",
			"rule_id", log.DecisionRuleID,
			"logical_id", log.LogicalID,
			"status", log.Status,
			"error", err)
		return "", &AuditWriteError{RuleID: log.DecisionRuleID, Attempts: r.cfg.MaxAttempts, Err: err}
	}
	return id, nil
}
