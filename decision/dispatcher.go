package decision

import "context"

// DispatchRequest carries the evaluation context into an action.
type DispatchRequest struct {
	LogicalID string
	Trigger   *TriggerEvent
	State     map[string]any
}

// ActionDispatcher maps an action definition's type and config to a concrete
// side-effecting operation. A non-nil error marks the step failed; the
// returned output is recorded in the step result either way. Dispatchers
// must honor ctx cancellation and deadlines; the runner sets a per-step
// timeout on ctx.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action *ActionDefinition, req *DispatchRequest) (map[string]any, error)
}

// DispatcherFunc adapts a function to the ActionDispatcher interface.
type DispatcherFunc func(ctx context.Context, action *ActionDefinition, req *DispatchRequest) (map[string]any, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, action *ActionDefinition, req *DispatchRequest) (map[string]any, error) {
	return f(ctx, action, req)
}
