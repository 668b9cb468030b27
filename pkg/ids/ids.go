// Package ids centralizes identifier generation for EchoGarden.
//
// Time-ordered entities (jobs, traces, exec nodes, turns — anything that is
// primarily listed/paged in creation order) use ULIDs so that lexical sort
// order matches creation order without a separate timestamp column.
// Sources and blobs, which are looked up by URI or sha256 rather than listed
// in order, use random UUIDs. Graph node ids ("mem:<memory_id>",
// "ent:<slug>") are built by their callers, not by this package.
package ids

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a new, time-ordered, lexically sortable identifier.
func NewULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewUUID returns a new random UUID (v4) string.
func NewUUID() string {
	return uuid.NewString()
}

// Prefixed returns a prefixed ULID, e.g. Prefixed("job") -> "job_01H...".
func Prefixed(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, NewULID())
}
