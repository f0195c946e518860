package runtime

import (
	"time"

	"github.com/cosmic-horizons/eventbus/internal/runtime/envelope"
)

// Violation is one adjacent pair delivered out of timestamp order.
type Violation struct {
	// Index is the position of the later, earlier-stamped event.
	Index             int
	EventID           string
	Timestamp         time.Time
	PreviousEventID   string
	PreviousTimestamp time.Time
}

// VerifyOrdering reports whether timestamps never decrease across envs, taken
// in delivery order. Equal timestamps are ordered. Empty and single-element
// sequences are trivially ordered. It checks, it does not enforce.
func VerifyOrdering(envs []envelope.Envelope) bool {
	for i := 1; i < len(envs); i++ {
		if envs[i].Timestamp.Before(envs[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// OrderingViolations lists every adjacent pair that breaks VerifyOrdering.
func OrderingViolations(envs []envelope.Envelope) []Violation {
	var out []Violation
	for i := 1; i < len(envs); i++ {
		prev, cur := envs[i-1], envs[i]
		if cur.Timestamp.Before(prev.Timestamp) {
			out = append(out, Violation{
				Index:             i,
				EventID:           cur.EventID,
				Timestamp:         cur.Timestamp,
				PreviousEventID:   prev.EventID,
				PreviousTimestamp: prev.Timestamp,
			})
		}
	}
	return out
}

// VerifyOrderingByKey splits envs by correlation id, keeping delivery order
// within each chain, and verifies each chain on its own. Ordering across
// chains is not guaranteed and not checked.
func VerifyOrderingByKey(envs []envelope.Envelope) map[string]bool {
	chains := make(map[string][]envelope.Envelope)
	for _, env := range envs {
		chains[env.CorrelationID] = append(chains[env.CorrelationID], env)
	}
	out := make(map[string]bool, len(chains))
	for key, chain := range chains {
		out[key] = VerifyOrdering(chain)
	}
	return out
}
