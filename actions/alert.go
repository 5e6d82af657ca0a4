package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebsw/verdict/decision"
)

// Alert is a notification record produced by the create_alert action.
type Alert struct {
	ID           string         `json:"id"`
	AlertType    string         `json:"alertType"`
	Severity     string         `json:"severity"`
	LogicalID    string         `json:"logicalId"`
	Message      string         `json:"message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AlertSink persists alerts.
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *Alert) error
}

// CreateAlertExecutor records an alert from the action config. Config keys
// alertType, severity and message are all optional and defaulted.
type CreateAlertExecutor struct {
	sink AlertSink
}

// NewCreateAlertExecutor creates a create-alert executor over the given
// sink.
func NewCreateAlertExecutor(sink AlertSink) *CreateAlertExecutor {
	return &CreateAlertExecutor{sink: sink}
}

func (e *CreateAlertExecutor) Execute(ctx context.Context, config map[string]any, req *decision.DispatchRequest) (map[string]any, error) {
	alert := &Alert{
		ID:        uuid.New().String(),
		AlertType: stringOr(config, "alertType", "decision_action"),
		Severity:  stringOr(config, "severity", "medium"),
		LogicalID: req.LogicalID,
		Message:   stringOr(config, "message", ""),
		CreatedAt: time.Now(),
	}
	if req.Trigger != nil {
		alert.Payload = map[string]any{
			"source":      "decision-engine",
			"triggerData": req.Trigger.Data,
		}
	}

	if err := e.sink.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	return map[string]any{"alertId": alert.ID, "severity": alert.Severity}, nil
}

func stringOr(config map[string]any, key, fallback string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// InMemoryAlertSink stores alerts in memory, newest last.
type InMemoryAlertSink struct {
	mu     sync.Mutex
	alerts []*Alert
}

// NewInMemoryAlertSink creates an empty in-memory alert sink.
func NewInMemoryAlertSink() *InMemoryAlertSink {
	return &InMemoryAlertSink{}
}

func (s *InMemoryAlertSink) CreateAlert(_ context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// Alerts returns a snapshot of all recorded alerts.
func (s *InMemoryAlertSink) Alerts() []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// PostgresAlertSink persists alerts to the alerts table.
type PostgresAlertSink struct {
	db *sql.DB
}

// NewPostgresAlertSink creates a PostgreSQL-backed alert sink.
func NewPostgresAlertSink(db *sql.DB) *PostgresAlertSink {
	return &PostgresAlertSink{db: db}
}

func (s *PostgresAlertSink) CreateAlert(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, alert_type, severity, logical_id, message, payload,
			 acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, alert.ID, alert.AlertType, alert.Severity, alert.LogicalID,
		alert.Message, payload, alert.Acknowledged, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}
