package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebsw/verdict/decision"
)

func TestRegistryDispatchUnknownType(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Dispatch(context.Background(), &decision.ActionDefinition{
		Name: "mystery",
		Type: "teleport",
	}, &decision.DispatchRequest{LogicalID: "dev-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")
}

func TestRegistryDispatchRoutesByType(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("custom", ExecutorFunc(func(_ context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error) {
		return map[string]any{"saw": req.LogicalID, "key": config["key"]}, nil
	}))

	output, err := r.Dispatch(context.Background(), &decision.ActionDefinition{
		Name:   "custom action",
		Type:   "custom",
		Config: map[string]any{"key": "value"},
	}, &decision.DispatchRequest{LogicalID: "dev-1"})

	require.NoError(t, err)
	assert.Equal(t, "dev-1", output["saw"])
	assert.Equal(t, "value", output["key"])
}

func TestDefaultRegistryTypes(t *testing.T) {
	states := decision.NewInMemoryStateStore()
	r := NewDefaultRegistry(states, states, NewInMemoryAlertSink(), nil)

	assert.ElementsMatch(t,
		[]string{TypeWebhook, TypeUpdateEntity, TypeCreateAlert, TypeLogOnly},
		r.Types())
}

func TestUpdateEntityExecutorMergesFields(t *testing.T) {
	ctx := context.Background()
	states := decision.NewInMemoryStateStore()
	require.NoError(t, states.PutState(ctx, &decision.EntityState{
		LogicalID:    "dev-1",
		EntityTypeID: "sensor",
		Data:         map[string]any{"temp": 95.0, "mode": "auto"},
	}))

	e := NewUpdateEntityExecutor(states, states)
	output, err := e.Execute(ctx, map[string]any{
		"fields": map[string]any{"mode": "safe", "flagged": true},
	}, &decision.DispatchRequest{LogicalID: "dev-1"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "safe", "flagged": true}, output["updatedFields"])

	state, err := states.GetState(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 95.0, state.Data["temp"])
	assert.Equal(t, "safe", state.Data["mode"])
	assert.Equal(t, true, state.Data["flagged"])
}

func TestUpdateEntityExecutorMissingEntity(t *testing.T) {
	states := decision.NewInMemoryStateStore()
	e := NewUpdateEntityExecutor(states, states)

	_, err := e.Execute(context.Background(), map[string]any{
		"fields": map[string]any{"mode": "safe"},
	}, &decision.DispatchRequest{LogicalID: "unseen"})

	require.Error(t, err)
	assert.ErrorIs(t, err, decision.ErrEntityNotFound)
}

func TestUpdateEntityExecutorMissingFields(t *testing.T) {
	states := decision.NewInMemoryStateStore()
	e := NewUpdateEntityExecutor(states, states)

	_, err := e.Execute(context.Background(), map[string]any{}, &decision.DispatchRequest{LogicalID: "dev-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing "fields"`)
}

func TestCreateAlertExecutor(t *testing.T) {
	sink := NewInMemoryAlertSink()
	e := NewCreateAlertExecutor(sink)

	output, err := e.Execute(context.Background(), map[string]any{
		"severity": "high",
		"message":  "temperature runaway",
	}, &decision.DispatchRequest{
		LogicalID: "dev-1",
		Trigger:   &decision.TriggerEvent{LogicalID: "dev-1", Data: map[string]any{"temp": 110.0}},
	})

	require.NoError(t, err)
	assert.Equal(t, "high", output["severity"])
	assert.NotEmpty(t, output["alertId"])

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "dev-1", alerts[0].LogicalID)
	assert.Equal(t, "temperature runaway", alerts[0].Message)
	assert.Equal(t, "decision_action", alerts[0].AlertType)
	assert.False(t, alerts[0].Acknowledged)
}

func TestCreateAlertExecutorDefaults(t *testing.T) {
	sink := NewInMemoryAlertSink()
	e := NewCreateAlertExecutor(sink)

	_, err := e.Execute(context.Background(), map[string]any{}, &decision.DispatchRequest{LogicalID: "dev-1"})
	require.NoError(t, err)

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestLogOnlyExecutor(t *testing.T) {
	e := NewLogOnlyExecutor(nil)

	output, err := e.Execute(context.Background(), map[string]any{"message": "noted"}, &decision.DispatchRequest{LogicalID: "dev-1"})
	require.NoError(t, err)
	assert.Equal(t, "noted", output["message"])
	assert.NotEmpty(t, output["loggedAt"])
}
