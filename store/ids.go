package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idEntropy is process-wide and mutex-guarded: ulid.New is not safe for
// concurrent use over a shared io.Reader, and the writer actor plus
// readers minting history_chat/doc_knl IDs can race otherwise.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a fresh, lexicographically-sortable 128-bit identifier
// timestamped at the current moment, per the store's identifier scheme.
func NewID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}
