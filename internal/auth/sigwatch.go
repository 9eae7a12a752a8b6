package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSigAbuseThreshold = 5
	defaultSigAbuseWindow    = 10 * time.Minute
)

// sigWatch counts invalid-signature failures grouped by the token's
// claimed subject. One bad signature is noise; a burst against the same
// subject looks like token forgery and is worth an audit record. The
// subject comes from the unverified payload, attacker-controlled, so it
// only groups events and is never trusted as an identity.
type sigWatch struct {
	mu        sync.Mutex
	streaks   map[string]sigStreak
	threshold int
	window    time.Duration
	now       func() time.Time
}

type sigStreak struct {
	n     int
	since time.Time
}

func newSigWatch(threshold int, window time.Duration) *sigWatch {
	if threshold <= 0 {
		threshold = defaultSigAbuseThreshold
	}
	if window <= 0 {
		window = defaultSigAbuseWindow
	}
	return &sigWatch{
		streaks:   make(map[string]sigStreak),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// note registers one failure for the subject and reports whether the
// threshold was just crossed. The streak resets after reporting, so a
// sustained attack surfaces once per threshold-sized burst instead of
// on every subsequent failure.
func (w *sigWatch) note(subject string) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	s := w.streaks[subject]
	if s.n == 0 || now.Sub(s.since) > w.window {
		s = sigStreak{since: now}
	}
	s.n++
	if s.n >= w.threshold {
		delete(w.streaks, subject)
		return s.n, true
	}
	w.streaks[subject] = s
	return s.n, false
}

// claimedSubject pulls sub out of the payload without verifying the
// signature. Unparseable tokens group under the empty subject.
func claimedSubject(token string) string {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}
