package bus

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReplyQueuePrefix starts every private reply queue name.
const ReplyQueuePrefix = "reply."

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewReplyQueueName returns a fresh private queue name. ULIDs sort by
// creation time which keeps broker listings readable.
func NewReplyQueueName() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ReplyQueuePrefix + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
