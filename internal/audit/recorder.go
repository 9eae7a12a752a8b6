// Package audit delivers security events to a sink without ever
// blocking the authentication or authorization decision that produced
// them.
package audit

import (
	"context"
	"time"

	"monitordb.io/internal/auth"
	"monitordb.io/internal/ids"
	"monitordb.io/internal/obs"
)

// Sink persists audit events. The Postgres sink lives in internal/auth;
// LogSink writes JSON lines through the shared logger.
type Sink interface {
	Append(ctx context.Context, ev auth.AuditEvent) error
}

// Recorder queues events onto a single worker goroutine, which
// preserves per-process delivery order to the sink. Record never blocks
// the caller: when the queue is full the event is dropped and counted,
// and sink failures are reported operationally, never to the request
// that triggered the event.
type Recorder struct {
	sink    Sink
	ch      chan auth.AuditEvent
	done    chan struct{}
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithQueueSize overrides the default queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan auth.AuditEvent, n)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAppendTimeout bounds each sink write.
func WithAppendTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

var _ auth.Recorder = (*Recorder)(nil)

// NewRecorder starts the delivery worker.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:    sink,
		ch:      make(chan auth.AuditEvent, 1024),
		done:    make(chan struct{}),
		now:     time.Now,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues the event, stamping id and timestamp if unset.
func (r *Recorder) Record(ev auth.AuditEvent) {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}
	select {
	case r.ch <- ev:
	default:
		obs.ObserveAuditFailure()
		obs.LogEntry(map[string]any{
			"level": "error",
			"msg":   "audit queue full, event dropped",
			"kind":  ev.Kind,
		})
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.sink.Append(ctx, ev)
		cancel()
		if err != nil {
			obs.ObserveAuditFailure()
			obs.LogEntry(map[string]any{
				"level": "error",
				"msg":   "audit append failed",
				"kind":  ev.Kind,
				"error": err.Error(),
			})
		}
	}
}

// Close drains the queue and stops the worker. Waits up to the context
// deadline for in-flight deliveries.
func (r *Recorder) Close(ctx context.Context) error {
	close(r.ch)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fanout returns a sink that appends to every given sink. The first
// error wins, but every sink still sees the event.
func Fanout(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Append(ctx context.Context, ev auth.AuditEvent) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes audit events as JSON lines through the shared logger.
// Used when no database sink is configured.
type LogSink struct{}

func (LogSink) Append(ctx context.Context, ev auth.AuditEvent) error {
	obs.LogAudit(ev.At, ev.ID, ev.Kind, ev.Outcome, ev.Username, ev.Detail)
	return nil
}
