// Package ids generates lexicographically sortable identifiers for
// identity and audit records.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a fresh ULID. Sorting by id equals sorting by creation
// time, which keeps audit scans ordered without a secondary index.
func New() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// At returns a ULID bound to the given timestamp. Used by tests that
// need deterministic ordering.
func At(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
