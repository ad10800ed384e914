package clock

import "time"

// Clock provides wall-clock time to services that stamp records (profile updates,
// login state). Tests substitute a controllable implementation.
type Clock interface {
	Now() time.Time
}
