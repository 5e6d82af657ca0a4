package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebsw/verdict/decision"
)

func TestWebhookExecutorPostsPayload(t *testing.T) {
	var received webhookPayload
	var gotHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotHeader = r.Header.Get("X-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewWebhookExecutor(nil)
	output, err := e.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Token": "secret"},
	}, &decision.DispatchRequest{
		LogicalID: "dev-1",
		Trigger:   &decision.TriggerEvent{LogicalID: "dev-1", Data: map[string]any{"temp": 95.0}},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, output["status"])
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, "dev-1", received.LogicalID)
	assert.Equal(t, map[string]any{"temp": 95.0}, received.TriggerData)
	assert.False(t, received.Timestamp.IsZero())
}

func TestWebhookExecutorNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewWebhookExecutor(nil)
	output, err := e.Execute(context.Background(), map[string]any{"url": srv.URL}, &decision.DispatchRequest{LogicalID: "dev-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	// Status details are still reported for the step result.
	assert.Equal(t, http.StatusBadGateway, output["status"])
}

func TestWebhookExecutorMissingURL(t *testing.T) {
	e := NewWebhookExecutor(nil)
	_, err := e.Execute(context.Background(), map[string]any{}, &decision.DispatchRequest{LogicalID: "dev-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing "url"`)
}

func TestWebhookExecutorHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewWebhookExecutor(nil)
	_, err := e.Execute(ctx, map[string]any{"url": srv.URL}, &decision.DispatchRequest{LogicalID: "dev-1"})
	require.Error(t, err)
}
