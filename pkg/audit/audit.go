// Package audit records teacher actions that change what students can see
// or who can see it. Events are logged as structured JSON under the "audit"
// logger so they can be shipped to a log pipeline and filtered there.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/auth"
)

// EventType categorizes audit events for filtering.
type EventType string

const (
	EventAssistantCreated   EventType = "assistant_created"
	EventAssistantUpdated   EventType = "assistant_updated"
	EventStudentAdded       EventType = "student_added"
	EventStudentRemoved     EventType = "student_removed"
	EventContentDeleted     EventType = "content_deleted"
	EventDigestionStarted   EventType = "digestion_started"
	EventDigestionCancelled EventType = "digestion_cancelled"
)

// severity of each event type; access changes are warnings so they stand
// out in alerting.
var severities = map[EventType]string{
	EventStudentAdded:   "warning",
	EventStudentRemoved: "warning",
	EventContentDeleted: "warning",
}

// Event is one audited action.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   EventType         `json:"event_type"`
	AssistantID string            `json:"assistant_id"`
	UserID      string            `json:"user_id,omitempty"`
	ClientIP    string            `json:"client_ip,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	Severity    string            `json:"severity"`
}

// Auditor logs audit events.
type Auditor struct {
	logger *zap.Logger
}

// NewAuditor creates an auditor with a dedicated "audit" logger namespace.
func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{logger: logger.Named("audit")}
}

// Record logs one event performed by sess. A nil Auditor records nothing.
//
// Example usage:
//
//	auditor.Record(sess, audit.EventStudentAdded, assistantID,
//	    map[string]string{"student_id": studentID},
//	    r.RemoteAddr,
//	)
func (a *Auditor) Record(sess *auth.SessionContext, eventType EventType, assistantID string, details map[string]string, clientIP string) {
	if a == nil {
		return
	}

	severity, ok := severities[eventType]
	if !ok {
		severity = "info"
	}

	event := Event{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		AssistantID: assistantID,
		UserID:      sess.UserID(),
		ClientIP:    clientIP,
		Details:     details,
		Severity:    severity,
	}

	// Marshaling a struct of strings cannot fail
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(eventType)),
		zap.String("assistant_id", assistantID),
		zap.String("user_id", event.UserID),
		zap.String("client_ip", clientIP),
		zap.String("severity", severity),
	}
	if severity == "warning" {
		a.logger.Warn("Audit event", fields...)
		return
	}
	a.logger.Info("Audit event", fields...)
}
