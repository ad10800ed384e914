package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campus-carpool/rides-api/internal/app/apperr"
	"github.com/campus-carpool/rides-api/internal/domain"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
	"github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
	"github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

const (
	DefaultReloadTimeout = 15 * time.Second
	compensationTimeout  = 5 * time.Second
)

// IdentitySource exposes the signed-in user. *session.Store implements it.
type IdentitySource interface {
	User() (domain.User, bool)
}

type Options struct {
	ReloadTimeout time.Duration
	Logger        *slog.Logger
}

// Repository is the local mirror of the rides table and of the signed-in
// user's join records.
type Repository struct {
	rides    riderepo.Repository
	parts    participantrepo.Repository
	identity IdentitySource
	clk      clockport.Clock
	log      *slog.Logger
	timeout  time.Duration

	mu       sync.RWMutex
	list     []domain.Ride
	joined   map[domain.RideID]struct{}
	inflight int
	err      error
	loadedAt time.Time
	// epoch advances on Reset so reloads started before it are discarded.
	epoch uint64

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Change)
}

func NewRepository(rides riderepo.Repository, parts participantrepo.Repository, identity IdentitySource, clk clockport.Clock, opts Options) *Repository {
	timeout := opts.ReloadTimeout
	if timeout <= 0 {
		timeout = DefaultReloadTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Repository{
		rides:    rides,
		parts:    parts,
		identity: identity,
		clk:      clk,
		log:      log,
		timeout:  timeout,
		joined:   make(map[domain.RideID]struct{}),
		subs:     make(map[int]func(Change)),
	}
}

// Reload fetches all rides, and the user's join records when signed in, and
// replaces local state in one step. On failure prior data is kept and the
// error is recorded. Overlapping reloads apply in completion order.
func (r *Repository) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	epoch := r.beginLoad()
	user, signedIn := r.identity.User()

	var (
		rows   []riderepo.Ride
		joined []domain.RideID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = r.rides.ListNewestFirst(gctx)
		return err
	})
	if signedIn {
		g.Go(func() error {
			var err error
			joined, err = r.parts.ListRideIDsByUser(gctx, user.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		ae := apperr.RemoteRead("could not load rides", err)
		if r.endLoad(epoch, nil, nil, ae) {
			r.log.Warn("rides reload failed", "error", err, "timeout", errors.Is(ae, apperr.ErrTimeout))
			r.notify(Change{Kind: ChangeReloadFailed})
		}
		return ae
	}

	list := make([]domain.Ride, 0, len(rows))
	for _, row := range rows {
		list = append(list, toDomain(row))
	}
	set := make(map[domain.RideID]struct{}, len(joined))
	for _, id := range joined {
		set[id] = struct{}{}
	}
	if r.endLoad(epoch, list, set, nil) {
		r.log.Debug("rides reloaded", "count", len(list), "joined", len(set))
		r.notify(Change{Kind: ChangeReloaded})
	}
	return nil
}

func (r *Repository) beginLoad() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight++
	return r.epoch
}

// endLoad applies a finished reload and reports whether it was still current.
func (r *Repository) endLoad(epoch uint64, list []domain.Ride, joined map[domain.RideID]struct{}, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	if r.inflight > 0 {
		r.inflight--
	}
	if err != nil {
		r.err = err
		return true
	}
	r.list = list
	r.joined = joined
	r.err = nil
	r.loadedAt = r.clk.Now()
	return true
}

// CreateRide validates draft, stamps the creator from the signed-in identity
// and inserts the ride. The canonical row is prepended locally only after the
// store confirms the insert.
func (r *Repository) CreateRide(ctx context.Context, draft domain.RideDraft) (domain.Ride, error) {
	user, ok := r.identity.User()
	if !ok {
		return domain.Ride{}, apperr.Unauthenticated("sign in to offer a ride")
	}
	clean, fe := draft.Normalize()
	if len(fe) > 0 {
		details := make(map[string]any, len(fe))
		for k, v := range fe {
			details[k] = v
		}
		return domain.Ride{}, apperr.Validation("invalid ride", details)
	}

	row, err := r.rides.Create(ctx, riderepo.NewRide{
		Source:          clean.Source,
		Destination:     clean.Destination,
		Date:            clean.Date,
		StartTime:       clean.StartTime,
		EndTime:         clean.EndTime,
		SeatsAvailable:  clean.SeatsAvailable,
		CreatorID:       user.ID,
		CreatorName:     user.Name,
		CreatorEmail:    user.Email,
		CreatorWhatsApp: cloneStringPtr(user.ContactHandle),
	})
	if err != nil {
		r.log.Warn("ride insert failed", "userId", user.ID, "error", err)
		return domain.Ride{}, apperr.RemoteWrite("could not create ride", err)
	}

	ride := toDomain(row)
	r.mu.Lock()
	if _, exists := r.indexLocked(ride.ID); !exists {
		r.list = append([]domain.Ride{ride.Clone()}, r.list...)
	}
	r.mu.Unlock()

	r.log.Info("ride created", "rideId", ride.ID, "userId", user.ID)
	r.notify(Change{Kind: ChangeCreated, RideID: ride.ID})
	return ride, nil
}

// JoinRide reserves a seat for the signed-in user. The returned error is only
// set when nobody is signed in; every other result is described by the
// JoinResult outcome.
//
// The join record is inserted first and the seat is decremented second. If
// the decrement fails, the join record is deleted again.
func (r *Repository) JoinRide(ctx context.Context, id domain.RideID) (JoinResult, error) {
	user, ok := r.identity.User()
	if !ok {
		return JoinResult{}, apperr.Unauthenticated("sign in to join a ride")
	}

	r.mu.RLock()
	i, found := r.indexLocked(id)
	_, joined := r.joined[id]
	seats := 0
	if found {
		seats = r.list[i].SeatsAvailable
	}
	r.mu.RUnlock()

	switch {
	case !found:
		return JoinResult{Outcome: OutcomeNotFound}, nil
	case joined:
		return JoinResult{Outcome: OutcomeAlreadyJoined, SeatsAvailable: seats}, nil
	case seats <= 0:
		return JoinResult{Outcome: OutcomeFull}, nil
	}

	p := participantrepo.Participant{RideID: id, UserID: user.ID}
	log := r.log.With("rideId", id, "userId", user.ID)

	if err := r.parts.Insert(ctx, p); err != nil {
		if errors.Is(err, participantrepo.ErrAlreadyJoined) {
			r.mu.Lock()
			r.joined[id] = struct{}{}
			r.mu.Unlock()
			return JoinResult{Outcome: OutcomeAlreadyJoined, SeatsAvailable: seats}, nil
		}
		log.Warn("join record insert failed", "error", err)
		return JoinResult{
			Outcome: OutcomeParticipantInsertFailed,
			Err:     apperr.RemoteWrite("could not join ride", err),
		}, nil
	}

	remaining, err := r.rides.DecrementSeat(ctx, id)
	if err != nil {
		if errors.Is(err, riderepo.ErrNoSeats) {
			r.setSeats(id, 0)
		}
		res := JoinResult{
			Outcome: OutcomeSeatDecrementFailed,
			Err:     apperr.RemoteWrite("could not reserve seat", err),
		}

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		defer cancel()
		if derr := r.parts.Delete(cctx, p); derr != nil && !errors.Is(derr, participantrepo.ErrNotFound) {
			log.Error("join compensation failed; orphan join record may remain", "decrementError", err, "error", derr)
			res.Outcome = OutcomeCompensationFailed
			res.Err = apperr.RemoteWrite("could not reserve seat", errors.Join(err, derr))
			return res, nil
		}
		log.Warn("seat decrement failed; join record removed", "error", err)
		return res, nil
	}

	r.mu.Lock()
	if i, ok := r.indexLocked(id); ok {
		r.list[i].SeatsAvailable = remaining
	}
	r.joined[id] = struct{}{}
	r.mu.Unlock()

	log.Info("ride joined", "seatsAvailable", remaining)
	r.notify(Change{Kind: ChangeJoined, RideID: id})
	return JoinResult{Outcome: OutcomeJoined, SeatsAvailable: remaining}, nil
}

func (r *Repository) setSeats(id domain.RideID, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.indexLocked(id); ok {
		r.list[i].SeatsAvailable = n
	}
}

// Rides returns the local rides, newest first.
func (r *Repository) Rides() []domain.Ride {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Ride, 0, len(r.list))
	for _, ride := range r.list {
		out = append(out, ride.Clone())
	}
	return out
}

func (r *Repository) RideByID(id domain.RideID) (domain.Ride, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.indexLocked(id)
	if !ok {
		return domain.Ride{}, false
	}
	return r.list[i].Clone(), true
}

func (r *Repository) HasJoined(id domain.RideID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[id]
	return ok
}

// JoinedRideIDs returns the joined ride ids in ascending order.
func (r *Repository) JoinedRideIDs() []domain.RideID {
	r.mu.RLock()
	out := make([]domain.RideID, 0, len(r.joined))
	for id := range r.joined {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Repository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State{Loading: r.inflight > 0, Err: r.err, LoadedAt: r.loadedAt}
}

// SearchRides filters the local rides.
func (r *Repository) SearchRides(f domain.SearchFilter) []domain.Ride {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.FilterRides(r.list, f)
}

// Reset discards all local state. Reloads still in flight are ignored when they finish.
func (r *Repository) Reset() {
	r.mu.Lock()
	r.epoch++
	r.list = nil
	r.joined = make(map[domain.RideID]struct{})
	r.inflight = 0
	r.err = nil
	r.loadedAt = time.Time{}
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeReset})
}

func (r *Repository) Subscribe(fn func(Change)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Repository) notify(c Change) {
	r.subMu.Lock()
	fns := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (r *Repository) indexLocked(id domain.RideID) (int, bool) {
	for i := range r.list {
		if r.list[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func toDomain(row riderepo.Ride) domain.Ride {
	return domain.Ride{
		ID:                   row.ID,
		Source:               row.Source,
		Destination:          row.Destination,
		Date:                 row.Date,
		StartTime:            row.StartTime,
		EndTime:              row.EndTime,
		SeatsAvailable:       row.SeatsAvailable,
		CreatorID:            row.CreatorID,
		CreatorName:          row.CreatorName,
		CreatorEmail:         row.CreatorEmail,
		CreatorContactHandle: cloneStringPtr(row.CreatorWhatsApp),
		CreatedAt:            row.CreatedAt,
	}
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
