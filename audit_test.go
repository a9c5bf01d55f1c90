package tokenward

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &recordingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditEventAuthSuccess, UserID: "u1"})
	}
	d.Close()

	events := sink.snapshot()
	if len(events) != 10 {
		t.Fatalf("expected 10 events after close, got %d", len(events))
	}
	for _, event := range events {
		if event.Timestamp.IsZero() {
			t.Fatal("dispatcher must stamp events")
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 8; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: AuditEventAuthFailure})
	}

	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected drops under backpressure")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
}

func TestDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &recordingSink{})
	if d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestEngineAuditFlow(t *testing.T) {
	sink := &recordingSink{}

	cfg := testConfig()
	cfg.Audit.Enabled = true

	engine, _ := newTestEngineWithSink(t, cfg, sink)
	ctx := WithClientIP(context.Background(), "198.51.100.9")

	if _, err := engine.Login(ctx, "alice", "correct-password-123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := engine.Login(ctx, "alice", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}

	engine.Close()

	var types []string
	for _, event := range sink.snapshot() {
		types = append(types, event.EventType)
		if event.IP != "198.51.100.9" {
			t.Fatalf("expected client ip on event, got %q", event.IP)
		}
	}

	joined := strings.Join(types, ",")
	if !strings.Contains(joined, AuditEventAuthSuccess) {
		t.Fatalf("missing auth_success in %q", joined)
	}
	if !strings.Contains(joined, AuditEventAuthFailure) {
		t.Fatalf("missing auth_failure in %q", joined)
	}
}

func TestRevocationEventCarriesUserID(t *testing.T) {
	sink := &recordingSink{}

	cfg := testConfig()
	cfg.Audit.Enabled = true

	engine, _ := newTestEngineWithSink(t, cfg, sink)
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := engine.RevokeRefreshToken(ctx, pair.RefreshToken, "test"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	engine.Close()

	found := false
	for _, event := range sink.snapshot() {
		if event.EventType != AuditEventTokenRevocation {
			continue
		}
		found = true
		if event.UserID != "u1" {
			t.Fatalf("expected revocation event bound to u1, got %q", event.UserID)
		}
	}
	if !found {
		t.Fatal("missing token_revocation event")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventLogout,
		UserID:    "u1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventTokenRefresh,
		UserID:    "u1",
		Success:   true,
	})

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not valid json: %v", lines, err)
		}
		if event.UserID != "u1" {
			t.Fatalf("unexpected user id %q", event.UserID)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 json lines, got %d", lines)
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(4)

	sink.Emit(context.Background(), AuditEvent{EventType: AuditEventRegistration})

	select {
	case event := <-sink.Events():
		if event.EventType != AuditEventRegistration {
			t.Fatalf("unexpected event %q", event.EventType)
		}
	default:
		t.Fatal("expected buffered event")
	}
}
