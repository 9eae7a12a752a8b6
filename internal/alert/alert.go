// Package alert fan-outs security-significant auth events (lockouts,
// refresh token replays, permission denials) to live subscribers such
// as SSE clients.
package alert

import (
	"context"
	"sync"
	"time"

	"monitordb.io/internal/auth"
)

// Event is one security-significant occurrence.
type Event struct {
	At       time.Time `json:"at"`
	Username string    `json:"username,omitempty"`
	Kind     string    `json:"kind"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
}

// Stream fan-outs events to all active subscribers. Slow subscribers
// lose events rather than stalling the publisher.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will
// receive events. The channel is closed when the context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// Publish delivers ev to every subscriber that can take it right now.
func (s *Stream) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Sink adapts the stream to the audit pipeline, forwarding only the
// kinds operators want to watch live.
type Sink struct {
	stream *Stream
}

func NewSink(s *Stream) Sink {
	return Sink{stream: s}
}

func (k Sink) Append(_ context.Context, ev auth.AuditEvent) error {
	switch ev.Kind {
	case auth.EventLockout, auth.EventTokenReplay, auth.EventSignatureAbuse, auth.EventPermissionDenied:
		k.stream.Publish(Event{
			At:       ev.At,
			Username: ev.Username,
			Kind:     ev.Kind,
			Outcome:  ev.Outcome,
			Detail:   ev.Detail,
		})
	}
	return nil
}
