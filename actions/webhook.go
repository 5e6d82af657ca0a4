package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calebsw/verdict/decision"
)

// WebhookExecutor POSTs a JSON notification to the URL named in the action
// config. Config keys:
//
//	url     (required) destination URL
//	headers (optional) map of extra request headers
type WebhookExecutor struct {
	client *http.Client
}

// NewWebhookExecutor creates a webhook executor. A nil client gets a
// 10-second-timeout default; the runner's per-step deadline still applies
// through ctx.
func NewWebhookExecutor(client *http.Client) *WebhookExecutor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookExecutor{client: client}
}

type webhookPayload struct {
	LogicalID   string         `json:"logicalId"`
	TriggerData map[string]any `json:"triggerData"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (e *WebhookExecutor) Execute(ctx context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf(`webhook config missing "url"`)
	}

	var triggerData map[string]any
	if req.Trigger != nil {
		triggerData = req.Trigger.Data
	}
	body, err := json.Marshal(webhookPayload{
		LogicalID:   req.LogicalID,
		TriggerData: triggerData,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	output := map[string]any{
		"status":     resp.StatusCode,
		"statusText": resp.Status,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return output, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return output, nil
}
