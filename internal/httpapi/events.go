package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"monitordb.io/internal/alert"
)

// WithAlertStream enables the live security event feed.
func WithAlertStream(s *alert.Stream) Option {
	return func(a *API) { a.alerts = s }
}

// Events handles Server-Sent Events for security alerts: lockouts,
// refresh token replays, permission denials.
func (a *API) Events(w http.ResponseWriter, r *http.Request) {
	if a.alerts == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.alerts.Subscribe(ctx)

	// Establish the stream before the first event arrives.
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for ev := range ch {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
