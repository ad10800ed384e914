package clock

import "time"

// SystemClock reads wall-clock time in UTC, truncated to the microsecond
// precision Postgres keeps for timestamptz so that created_at values stamped
// in memory compare equal after a round trip through the database.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
