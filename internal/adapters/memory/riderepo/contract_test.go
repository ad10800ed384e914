package riderepo

import (
	"testing"
	"time"

	"github.com/campus-carpool/rides-api/internal/adapters/contracttest"
	memclock "github.com/campus-carpool/rides-api/internal/adapters/memory/clock"
	riderepoport "github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

func TestContract_RideRepo(t *testing.T) {
	contracttest.RunRideRepo(t, func(t *testing.T) (riderepoport.Repository, func()) {
		t.Helper()
		return NewRepo(memclock.NewManualClock(time.Unix(1_700_000_000, 0))), nil
	})
}
