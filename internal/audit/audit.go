package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backtest-drift-monitor/internal/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventDriftDetected is emitted after a detection pass that produced alerts.
const EventDriftDetected = "drift.detected"

// Event is an audit record describing one state-changing action.
type Event struct {
	ID               string             `json:"id"`
	Type             string             `json:"type"`
	DeploymentID     string             `json:"deployment_id"`
	Timestamp        time.Time          `json:"timestamp"`
	BeforeAlertCount int                `json:"before_alert_count"`
	AfterAlertCount  int                `json:"after_alert_count"`
	DriftTypes       []models.DriftType `json:"drift_types"`
	Severities       []models.Severity  `json:"severities"`
}

// Emitter delivers audit events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogEmitter writes audit events to a zap logger.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.Named("audit")}
}

func (e *LogEmitter) Emit(_ context.Context, event Event) error {
	types := make([]string, len(event.DriftTypes))
	for i, t := range event.DriftTypes {
		types[i] = string(t)
	}
	severities := make([]string, len(event.Severities))
	for i, s := range event.Severities {
		severities[i] = string(s)
	}
	e.logger.Info("audit event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("deployment_id", event.DeploymentID),
		zap.Time("timestamp", event.Timestamp),
		zap.Int("before_alert_count", event.BeforeAlertCount),
		zap.Int("after_alert_count", event.AfterAlertCount),
		zap.Strings("drift_types", types),
		zap.Strings("severities", severities),
	)
	return nil
}

// publisher is the subset of *nats.Conn used by NATSEmitter.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSEmitter publishes audit events as JSON on a NATS subject.
type NATSEmitter struct {
	pub     publisher
	conn    *nats.Conn
	subject string
}

// NewNATSEmitter 连接 NATS 并创建发布者
func NewNATSEmitter(url, subject string) (*NATSEmitter, error) {
	conn, err := nats.Connect(url, nats.Name("driftmon-audit"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSEmitter{pub: conn, conn: conn, subject: subject}, nil
}

func (e *NATSEmitter) Emit(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := e.pub.Publish(e.subject, data); err != nil {
		return fmt.Errorf("publish audit event to %s: %w", e.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (e *NATSEmitter) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Drain()
}

// MultiEmitter fans an event out to several emitters. Every emitter is
// attempted; the errors are joined.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }
