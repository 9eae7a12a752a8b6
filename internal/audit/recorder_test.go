package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"monitordb.io/internal/auth"
)

// memSink collects events; optionally fails or blocks.
type memSink struct {
	mu      sync.Mutex
	events  []auth.AuditEvent
	failing bool
	gate    chan struct{}
}

func (s *memSink) Append(ctx context.Context, ev auth.AuditEvent) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) collected() []auth.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestRecorderPreservesOrder(t *testing.T) {
	sink := &memSink{}
	rec := NewRecorder(sink)

	const n = 100
	for i := 0; i < n; i++ {
		rec.Record(auth.AuditEvent{Kind: auth.EventLogin, Detail: fmt.Sprintf("%03d", i)})
	}
	if err := rec.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := sink.collected()
	if len(got) != n {
		t.Fatalf("delivered %d events, want %d", len(got), n)
	}
	for i, ev := range got {
		if ev.Detail != fmt.Sprintf("%03d", i) {
			t.Fatalf("order broken at %d: %q", i, ev.Detail)
		}
	}
}

func TestRecordStampsIDAndTimestamp(t *testing.T) {
	sink := &memSink{}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(sink, WithClock(func() time.Time { return at }))

	rec.Record(auth.AuditEvent{Kind: auth.EventLogout})
	if err := rec.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := sink.collected()
	if len(got) != 1 {
		t.Fatalf("delivered %d events", len(got))
	}
	if got[0].ID == "" {
		t.Fatal("event delivered without id")
	}
	if !got[0].At.Equal(at) {
		t.Fatalf("timestamp not stamped: %v", got[0].At)
	}
}

func TestRecordNeverBlocksOnFullQueue(t *testing.T) {
	sink := &memSink{gate: make(chan struct{})}
	rec := NewRecorder(sink, WithQueueSize(1), WithAppendTimeout(50*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			rec.Record(auth.AuditEvent{Kind: auth.EventLogin})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled sink")
	}
	close(sink.gate)
	_ = rec.Close(context.Background())
}

func TestSinkFailuresStayOperational(t *testing.T) {
	sink := &memSink{failing: true}
	rec := NewRecorder(sink)

	// Record has no error return; a failing sink must not panic or
	// wedge the worker.
	rec.Record(auth.AuditEvent{Kind: auth.EventLogin})
	rec.Record(auth.AuditEvent{Kind: auth.EventLogout})
	if err := rec.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	a := &memSink{}
	b := &memSink{failing: true}
	c := &memSink{}
	sink := Fanout(a, b, c)

	err := sink.Append(context.Background(), auth.AuditEvent{Kind: auth.EventLockout})
	if err == nil {
		t.Fatal("failing member's error swallowed")
	}
	if len(a.collected()) != 1 || len(c.collected()) != 1 {
		t.Fatal("healthy sinks skipped after a failure")
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	var s LogSink
	err := s.Append(context.Background(), auth.AuditEvent{
		ID: "01C", At: time.Now(), Kind: auth.EventLogin, Outcome: auth.OutcomeSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}
}
