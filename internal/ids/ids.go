// Package ids mints identifiers for business records. ULIDs keep messages
// and engagements sortable by creation time in the store.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single monotonic reader keeps ids strictly increasing within the process
// even when several records are minted in the same millisecond.
var (
	mu     sync.Mutex
	reader = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New mints a ULID string. Safe for concurrent use.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Now(), reader).String()
}
