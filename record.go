package telemex // import "github.com/durastream/telemex"

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrorInfo captures an error attached to a log record.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// SpanStatus is the terminal status of an execution span.
type SpanStatus struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// LogRecord is an immutable log entry as buffered and exported. Records are
// created by ExportLog and destroyed either by successful backend persistence
// or by eviction.
type LogRecord struct {
	Timestamp     time.Time         `json:"timestamp"`
	Level         zapcore.Level     `json:"level"`
	Message       string            `json:"message"`
	Component     string            `json:"component,omitempty"`
	CorrelationID string            `json:"correlationId"`
	TenantID      string            `json:"tenantId,omitempty"`
	ExecutionID   string            `json:"executionId,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Attributes    *Map              `json:"attributes,omitempty"`
	Error         *ErrorInfo        `json:"error,omitempty"`
}

// document renders the record as a backend store document.
func (r *LogRecord) document() map[string]any {
	doc := map[string]any{
		"timestamp":     r.Timestamp,
		"level":         r.Level.String(),
		"message":       r.Message,
		"correlationId": r.CorrelationID,
	}
	if r.Component != "" {
		doc["component"] = r.Component
	}
	if r.TenantID != "" {
		doc["tenantId"] = r.TenantID
	}
	if r.ExecutionID != "" {
		doc["executionId"] = r.ExecutionID
	}
	if r.SessionID != "" {
		doc["sessionId"] = r.SessionID
	}
	if len(r.Metadata) > 0 {
		doc["metadata"] = r.Metadata
	}
	if r.Attributes.Len() > 0 {
		doc["attributes"] = r.Attributes.AsRaw()
	}
	if r.Error != nil {
		doc["error"] = map[string]any{
			"name":    r.Error.Name,
			"message": r.Error.Message,
			"stack":   r.Error.Stack,
		}
	}
	return doc
}

// SpanRecord is an execution span as accepted by ExportSpan. DurationMS,
// CorrelationID and Critical are derived during ingestion; callers may leave
// them zero.
type SpanRecord struct {
	Name          string     `json:"name"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	DurationMS    int64      `json:"durationMs"`
	CorrelationID string     `json:"correlationId"`
	TenantID      string     `json:"tenantId,omitempty"`
	ExecutionID   string     `json:"executionId,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	AgentName     string     `json:"agentName,omitempty"`
	ToolName      string     `json:"toolName,omitempty"`
	Phase         string     `json:"phase,omitempty"`
	Attributes    *Map       `json:"attributes,omitempty"`
	Status        SpanStatus `json:"status"`
	Critical      bool       `json:"critical,omitempty"`
}

// document renders the span as a backend store document.
func (s *SpanRecord) document() map[string]any {
	doc := map[string]any{
		"name":          s.Name,
		"startTime":     s.StartTime,
		"endTime":       s.EndTime,
		"durationMs":    s.DurationMS,
		"correlationId": s.CorrelationID,
		"status":        map[string]any{"code": s.Status.Code, "message": s.Status.Message},
		"critical":      s.Critical,
	}
	if s.TenantID != "" {
		doc["tenantId"] = s.TenantID
	}
	if s.ExecutionID != "" {
		doc["executionId"] = s.ExecutionID
	}
	if s.SessionID != "" {
		doc["sessionId"] = s.SessionID
	}
	if s.AgentName != "" {
		doc["agentName"] = s.AgentName
	}
	if s.ToolName != "" {
		doc["toolName"] = s.ToolName
	}
	if s.Phase != "" {
		doc["phase"] = s.Phase
	}
	if s.Attributes.Len() > 0 {
		doc["attributes"] = s.Attributes.AsRaw()
	}
	return doc
}
