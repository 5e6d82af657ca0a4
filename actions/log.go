package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/calebsw/verdict/decision"
)

// LogOnlyExecutor has no side effects beyond a structured log line. Useful
// for auditing a rule before attaching real actions to it. Config key
// "message" overrides the logged message.
type LogOnlyExecutor struct {
	logger *slog.Logger
}

// NewLogOnlyExecutor creates a log-only executor.
func NewLogOnlyExecutor(logger *slog.Logger) *LogOnlyExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOnlyExecutor{logger: logger.With("component", "log-action")}
}

func (e *LogOnlyExecutor) Execute(_ context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error) {
	message := stringOr(config, "message", "action logged")
	e.logger.Info(message, "logicalId", req.LogicalID)
	return map[string]any{
		"message":  message,
		"loggedAt": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
