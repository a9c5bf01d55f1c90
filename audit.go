package tokenward

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Audit event vocabulary. Sinks switch on [AuditEvent].EventType; values are
// stable strings. AuditEventRegistration is never emitted by the Engine, which
// does not own account creation: embedder registration flows emit it through
// their own sink so one stream covers the whole credential lifecycle.
const (
	AuditEventAuthSuccess     = "auth_success"
	AuditEventAuthFailure     = "auth_failure"
	AuditEventTokenRefresh    = "token_refresh"
	AuditEventTokenRevocation = "token_revocation"
	AuditEventSessionEvicted  = "session_evicted"
	AuditEventReuseDetected   = "reuse_detected"
	AuditEventLogout          = "logout"
	AuditEventRegistration    = "registration"
	AuditEventSweep           = "sweep"
)

// AuditEvent is the record handed to an [AuditSink]. Timestamp is set by the
// Engine at emission time; Metadata is optional and sink-owned after delivery.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives security events from the Engine. Delivery is
// fire-and-forget: a sink that blocks or fails never fails the operation that
// produced the event.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for consumption by caller code.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the wrapped writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
