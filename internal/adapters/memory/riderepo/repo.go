package riderepo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
	"github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

// Table is the change-feed table name used for notifications.
const Table = "rides"

// Repo is an in-memory implementation of riderepo.Repository.
// It is safe for concurrent use. When a notifier is set, every successful write
// is reported to it after the lock is released, mimicking a database change feed.
type Repo struct {
	mu   sync.RWMutex
	byID map[domain.RideID]riderepo.Ride

	clk    clockport.Clock
	newID  func() domain.RideID
	notify func(changefeed.Event)
}

func NewRepo(clk clockport.Clock) *Repo {
	return &Repo{
		byID: make(map[domain.RideID]riderepo.Ride),
		clk:  clk,
		newID: func() domain.RideID {
			return domain.RideID(uuid.NewString())
		},
	}
}

// SetNotifier registers fn to receive change events. Pass nil to disable.
func (r *Repo) SetNotifier(fn func(changefeed.Event)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

func (r *Repo) ListNewestFirst(ctx context.Context) ([]riderepo.Ride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]riderepo.Ride, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, cloneRide(v))
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Repo) Create(ctx context.Context, in riderepo.NewRide) (riderepo.Ride, error) {
	if err := ctx.Err(); err != nil {
		return riderepo.Ride{}, err
	}
	r.mu.Lock()
	row := riderepo.Ride{
		ID:              r.newID(),
		Source:          in.Source,
		Destination:     in.Destination,
		Date:            in.Date,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		SeatsAvailable:  in.SeatsAvailable,
		CreatorID:       in.CreatorID,
		CreatorName:     in.CreatorName,
		CreatorEmail:    in.CreatorEmail,
		CreatorWhatsApp: cloneStringPtr(in.CreatorWhatsApp),
		CreatedAt:       r.clk.Now().UTC(),
	}
	r.byID[row.ID] = row
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(changefeed.Event{Table: Table, Op: changefeed.OpInsert, RecordID: string(row.ID)})
	}
	return cloneRide(row), nil
}

func (r *Repo) DecrementSeat(ctx context.Context, id domain.RideID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	row, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return 0, riderepo.ErrNotFound
	}
	if row.SeatsAvailable <= 0 {
		r.mu.Unlock()
		return 0, riderepo.ErrNoSeats
	}
	row.SeatsAvailable--
	r.byID[id] = row
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(changefeed.Event{Table: Table, Op: changefeed.OpUpdate, RecordID: string(id)})
	}
	return row.SeatsAvailable, nil
}

// SetNewRideIDForTest overrides ride ID generation for deterministic tests.
// It should not be used in production code.
func (r *Repo) SetNewRideIDForTest(fn func() domain.RideID) {
	if fn != nil {
		r.mu.Lock()
		r.newID = fn
		r.mu.Unlock()
	}
}

func sortNewestFirst(rs []riderepo.Ride) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID > rs[j].ID
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}

func cloneRide(r riderepo.Ride) riderepo.Ride {
	out := r
	out.CreatorWhatsApp = cloneStringPtr(r.CreatorWhatsApp)
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
