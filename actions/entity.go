package actions

import (
	"context"
	"fmt"

	"github.com/calebsw/verdict/decision"
)

// UpdateEntityExecutor merges the config "fields" map into the entity's
// current state snapshot. The entity must already exist; decision actions
// never create entities.
type UpdateEntityExecutor struct {
	states decision.EntityStateStore
	writer decision.EntityStateWriter
}

// NewUpdateEntityExecutor creates an update-entity executor over the given
// state store pair.
func NewUpdateEntityExecutor(states decision.EntityStateStore, writer decision.EntityStateWriter) *UpdateEntityExecutor {
	return &UpdateEntityExecutor{states: states, writer: writer}
}

func (e *UpdateEntityExecutor) Execute(ctx context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error) {
	fields, ok := config["fields"].(map[string]any)
	if !ok || len(fields) == 0 {
		return nil, fmt.Errorf(`update_entity config missing "fields"`)
	}

	current, err := e.states.GetState(ctx, req.LogicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", req.LogicalID, err)
	}

	merged := make(map[string]any, len(current.Data)+len(fields))
	for k, v := range current.Data {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	current.Data = merged

	if err := e.writer.PutState(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to update entity %s: %w", req.LogicalID, err)
	}

	return map[string]any{"updatedFields": fields}, nil
}
