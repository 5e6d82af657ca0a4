// Package actions provides the built-in action executors and the registry
// that maps action definition types onto them.
package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calebsw/verdict/decision"
)

// Built-in action types.
const (
	TypeWebhook      = "webhook"
	TypeUpdateEntity = "update_entity"
	TypeCreateAlert  = "create_alert"
	TypeLogOnly      = "log_only"
)

// Executor runs one action type. Config comes from the action definition,
// req from the firing trigger.
type Executor interface {
	Execute(ctx context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error) {
	return f(ctx, config, req)
}

// Registry dispatches actions to type-specific executors. It implements
// decision.ActionDispatcher.
type Registry struct {
	executors map[string]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger.With("component", "action-registry"),
	}
}

// Register binds an executor to an action type, replacing any previous
// binding for that type.
func (r *Registry) Register(actionType string, executor Executor) {
	r.executors[actionType] = executor
}

// Types returns the registered action types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Dispatch routes an action to its executor. An unregistered type is an
// error; the step runner records it as a failed step.
func (r *Registry) Dispatch(ctx context.Context, action *decision.ActionDefinition, req *decision.DispatchRequest) (map[string]any, error) {
	executor, ok := r.executors[action.Type]
	if !ok {
		return nil, fmt.Errorf("unknown action type: %s", action.Type)
	}

	r.logger.Debug("dispatching action",
		"action", action.Name,
		"type", action.Type,
		"logicalId", req.LogicalID)
	return executor.Execute(ctx, action.Config, req)
}

// NewDefaultRegistry wires the built-in executors: webhooks, entity state
// updates, alert creation, and log-only.
func NewDefaultRegistry(states decision.EntityStateStore, writer decision.EntityStateWriter, alerts AlertSink, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(TypeWebhook, NewWebhookExecutor(nil))
	r.Register(TypeUpdateEntity, NewUpdateEntityExecutor(states, writer))
	r.Register(TypeCreateAlert, NewCreateAlertExecutor(alerts))
	r.Register(TypeLogOnly, NewLogOnlyExecutor(logger))
	return r
}
