package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Event ids use it so ids generated by one process sort in creation order.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// ConsumerTagPrefix is prepended to generated consumer tags.
const ConsumerTagPrefix = "consumer-"

// NewConsumerTag returns a broker consumer tag of the form consumer-<uuid>.
func NewConsumerTag() string {
	return ConsumerTagPrefix + uuid.NewString()
}
