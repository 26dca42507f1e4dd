package event

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies event timestamps. The runtime takes a Clock instead of
// calling time.Now so tests can pin time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDSource produces unique opaque identifiers for events and commands.
// Ids need not be ordered, only unique.
type IDSource interface {
	NewID() string
}

// UUIDSource generates random UUID strings.
type UUIDSource struct{}

// NewID returns a new UUIDv4 string.
func (UUIDSource) NewID() string {
	return uuid.New().String()
}
