// Package room derives the shared per-day room identifier.
//
// Both participants configure the same secret; the identifier they derive
// from it changes at every UTC calendar-day boundary, so a fresh room is
// used each day without any coordination between the two sides.
package room

import (
	"fmt"
	"time"
)

// dateLayout is the UTC calendar date format mixed into the hash.
const dateLayout = "2006-01-02"

// DailyID returns the deterministic room identifier for the given secret
// and calendar day. The day is taken in UTC, so both sides agree on the
// boundary regardless of local timezone.
//
// The identifier is a rolling 32-bit hash of secret+date reduced to a
// positive integer with a fixed "room-" prefix. It only needs to be stable
// and collision-resistant enough for two-party use; it is not a secret and
// not cryptographically strong.
func DailyID(secret string, day time.Time) string {
	text := secret + day.UTC().Format(dateLayout)

	// h = h*31 + c with int32 wraparound at every step.
	var h int32
	for _, c := range text {
		h = (h << 5) - h + int32(c)
	}

	n := int64(h)
	if n < 0 {
		n = -n
	}
	return fmt.Sprintf("room-%d", n)
}

// TodayID returns the room identifier for the current UTC day.
func TodayID(secret string) string {
	return DailyID(secret, time.Now())
}
