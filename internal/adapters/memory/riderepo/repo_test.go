package riderepo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/campus-carpool/rides-api/internal/adapters/contracttest"
	memclock "github.com/campus-carpool/rides-api/internal/adapters/memory/clock"
	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
)

func TestRepo_ListNewestFirstOrdersByCreatedAt(t *testing.T) {
	t.Parallel()

	clk := memclock.NewManualClock(time.Unix(1_700_000_000, 0))
	repo := NewRepo(clk)
	ids := []domain.RideID{"r1", "r2", "r3"}
	i := 0
	repo.SetNewRideIDForTest(func() domain.RideID {
		id := ids[i]
		i++
		return id
	})

	creator := contracttest.NewUserID()
	for range ids {
		contracttest.SeedRide(t, repo, creator, 1)
		clk.Advance(time.Minute)
	}

	got, err := repo.ListNewestFirst(context.Background())
	if err != nil {
		t.Fatalf("ListNewestFirst: %v", err)
	}
	if len(got) != 3 || got[0].ID != "r3" || got[1].ID != "r2" || got[2].ID != "r1" {
		t.Fatalf("order=%v, want r3 r2 r1", []domain.RideID{got[0].ID, got[1].ID, got[2].ID})
	}
}

func TestRepo_NotifiesOnWrites(t *testing.T) {
	t.Parallel()

	repo := NewRepo(memclock.NewManualClock(time.Unix(0, 0)))
	var (
		mu  sync.Mutex
		got []changefeed.Event
	)
	repo.SetNotifier(func(ev changefeed.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	r := contracttest.SeedRide(t, repo, contracttest.NewUserID(), 1)
	if _, err := repo.DecrementSeat(context.Background(), r.ID); err != nil {
		t.Fatalf("DecrementSeat: %v", err)
	}
	// A rejected decrement is not a write.
	_, _ = repo.DecrementSeat(context.Background(), r.ID)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("events=%d, want 2", len(got))
	}
	if got[0].Op != changefeed.OpInsert || got[1].Op != changefeed.OpUpdate {
		t.Fatalf("ops=%v,%v want INSERT,UPDATE", got[0].Op, got[1].Op)
	}
	if got[0].Table != Table || got[0].RecordID != string(r.ID) {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestRepo_DecrementSeatConcurrentNeverNegative(t *testing.T) {
	t.Parallel()

	repo := NewRepo(memclock.NewManualClock(time.Unix(0, 0)))
	r := contracttest.SeedRide(t, repo, contracttest.NewUserID(), 3)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementSeat(context.Background(), r.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 3 {
		t.Fatalf("successful decrements=%d, want 3", ok)
	}
	list, _ := repo.ListNewestFirst(context.Background())
	if list[0].SeatsAvailable != 0 {
		t.Fatalf("seats=%d, want 0", list[0].SeatsAvailable)
	}
}

func TestRepo_CanceledContext(t *testing.T) {
	t.Parallel()

	repo := NewRepo(memclock.NewManualClock(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := repo.ListNewestFirst(ctx); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
