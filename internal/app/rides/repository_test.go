package rides

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	memclock "github.com/campus-carpool/rides-api/internal/adapters/memory/clock"
	memparticipants "github.com/campus-carpool/rides-api/internal/adapters/memory/participantrepo"
	memrides "github.com/campus-carpool/rides-api/internal/adapters/memory/riderepo"
	"github.com/campus-carpool/rides-api/internal/app/apperr"
	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/platform/logging"
	"github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
	"github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

type staticIdentity struct {
	mu   sync.Mutex
	user *domain.User
}

func (s *staticIdentity) User() (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return s.user.Clone(), true
}

func (s *staticIdentity) set(u *domain.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func strPtr(s string) *string { return &s }

func userNamed(id string) *domain.User {
	return &domain.User{
		ID:            domain.UserID(id),
		Name:          "User " + id,
		Email:         id + "@vitstudent.ac.in",
		ContactHandle: strPtr("9876543210"),
	}
}

type fixture struct {
	clk   *memclock.ManualClock
	rides *memrides.Repo
	parts *memparticipants.Repo
	who   *staticIdentity
	repo  *Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := memclock.NewManualClock(time.Unix(1_700_000_000, 0).UTC())
	f := fixture{
		clk:   clk,
		rides: memrides.NewRepo(clk),
		parts: memparticipants.NewRepo(),
		who:   &staticIdentity{user: userNamed("u1")},
	}
	f.repo = NewRepository(f.rides, f.parts, f.who, clk, Options{Logger: logging.Discard()})
	return f
}

func (f fixture) seed(t *testing.T, src, dst, date, start, end string, seats int) domain.RideID {
	t.Helper()
	row, err := f.rides.Create(context.Background(), riderepo.NewRide{
		Source: src, Destination: dst, Date: date, StartTime: start, EndTime: end,
		SeatsAvailable: seats, CreatorID: "creator", CreatorName: "Creator", CreatorEmail: "c@vitstudent.ac.in",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.clk.Advance(time.Minute)
	return row.ID
}

func validDraft() domain.RideDraft {
	return domain.RideDraft{
		Source:         "VIT Vellore Campus",
		Destination:    "Chennai Airport",
		Date:           "2024-12-21",
		StartTime:      "14:00",
		EndTime:        "15:30",
		SeatsAvailable: 3,
	}
}

func TestReload_NewestFirstWithJoinedSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	older := f.seed(t, "A", "B", "2024-12-20", "08:00", "09:00", 2)
	newer := f.seed(t, "C", "D", "2024-12-21", "10:00", "11:00", 2)
	require.NoError(t, f.parts.Insert(context.Background(), participantrepo.Participant{RideID: older, UserID: "u1"}))

	require.NoError(t, f.repo.Reload(context.Background()))

	rides := f.repo.Rides()
	require.Len(t, rides, 2)
	assert.Equal(t, newer, rides[0].ID)
	assert.Equal(t, older, rides[1].ID)
	assert.True(t, f.repo.HasJoined(older))
	assert.False(t, f.repo.HasJoined(newer))
	assert.Equal(t, []domain.RideID{older}, f.repo.JoinedRideIDs())

	st := f.repo.State()
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.False(t, st.LoadedAt.IsZero())
}

func TestReload_SignedOutSkipsJoinRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, "A", "B", "2024-12-20", "08:00", "09:00", 2)
	require.NoError(t, f.parts.Insert(context.Background(), participantrepo.Participant{RideID: id, UserID: "u1"}))
	f.who.set(nil)

	require.NoError(t, f.repo.Reload(context.Background()))
	assert.Len(t, f.repo.Rides(), 1)
	assert.Empty(t, f.repo.JoinedRideIDs())
}

type mockRides struct {
	mock.Mock
}

func (m *mockRides) ListNewestFirst(ctx context.Context) ([]riderepo.Ride, error) {
	args := m.Called(ctx)
	rows, _ := args.Get(0).([]riderepo.Ride)
	return rows, args.Error(1)
}

func (m *mockRides) Create(ctx context.Context, in riderepo.NewRide) (riderepo.Ride, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(riderepo.Ride), args.Error(1)
}

func (m *mockRides) DecrementSeat(ctx context.Context, id domain.RideID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

type mockParticipants struct {
	mock.Mock
}

func (m *mockParticipants) Insert(ctx context.Context, p participantrepo.Participant) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockParticipants) Delete(ctx context.Context, p participantrepo.Participant) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockParticipants) ListRideIDsByUser(ctx context.Context, id domain.UserID) ([]domain.RideID, error) {
	args := m.Called(ctx, id)
	ids, _ := args.Get(0).([]domain.RideID)
	return ids, args.Error(1)
}

func rideRow(id string, seats int) riderepo.Ride {
	return riderepo.Ride{
		ID: domain.RideID(id), Source: "VIT Vellore Campus", Destination: "Chennai Airport",
		Date: "2024-12-21", StartTime: "14:00", EndTime: "15:30", SeatsAvailable: seats,
		CreatorID: "creator", CreatorName: "Creator", CreatorEmail: "c@vitstudent.ac.in",
	}
}

func TestReload_FailureKeepsPriorData(t *testing.T) {
	t.Parallel()

	rides := &mockRides{}
	parts := &mockParticipants{}
	rides.On("ListNewestFirst", mock.Anything).Return([]riderepo.Ride{rideRow("r1", 2)}, nil).Once()
	rides.On("ListNewestFirst", mock.Anything).Return(nil, errors.New("connection refused")).Once()
	parts.On("ListRideIDsByUser", mock.Anything, domain.UserID("u1")).Return([]domain.RideID{"r1"}, nil)

	var changes []ChangeKind
	repo := NewRepository(rides, parts, &staticIdentity{user: userNamed("u1")}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})
	repo.Subscribe(func(c Change) { changes = append(changes, c.Kind) })

	require.NoError(t, repo.Reload(context.Background()))
	err := repo.Reload(context.Background())
	require.ErrorIs(t, err, apperr.ErrRemoteRead)

	assert.Len(t, repo.Rides(), 1)
	assert.True(t, repo.HasJoined("r1"))
	assert.ErrorIs(t, repo.State().Err, apperr.ErrRemoteRead)
	assert.Equal(t, []ChangeKind{ChangeReloaded, ChangeReloadFailed}, changes)
}

type slowRides struct {
	riderepo.Repository
	release chan struct{}
	started chan struct{}
}

func (s *slowRides) ListNewestFirst(ctx context.Context) ([]riderepo.Ride, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
		return []riderepo.Ride{rideRow("late", 1)}, nil
	}
}

func TestReload_TimeoutBecomesTimeoutError(t *testing.T) {
	t.Parallel()

	slow := &slowRides{release: make(chan struct{}), started: make(chan struct{}, 1)}
	repo := NewRepository(slow, memparticipants.NewRepo(), &staticIdentity{}, memclock.NewManualClock(time.Unix(0, 0)), Options{
		ReloadTimeout: 20 * time.Millisecond,
		Logger:        logging.Discard(),
	})

	err := repo.Reload(context.Background())
	require.ErrorIs(t, err, apperr.ErrTimeout)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "TIMEOUT", ae.Code)
	assert.ErrorIs(t, repo.State().Err, apperr.ErrTimeout)
	assert.False(t, repo.State().Loading)
}

func TestReset_DiscardsInFlightReload(t *testing.T) {
	t.Parallel()

	slow := &slowRides{release: make(chan struct{}), started: make(chan struct{}, 1)}
	repo := NewRepository(slow, memparticipants.NewRepo(), &staticIdentity{}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})

	done := make(chan error, 1)
	go func() { done <- repo.Reload(context.Background()) }()
	<-slow.started
	assert.True(t, repo.State().Loading)

	repo.Reset()
	close(slow.release)
	require.NoError(t, <-done)

	assert.Empty(t, repo.Rides())
	assert.False(t, repo.State().Loading)
}

func TestCreateRide_RoundTripAtHead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "A", "B", "2024-12-20", "08:00", "09:00", 2)
	require.NoError(t, f.repo.Reload(context.Background()))

	created, err := f.repo.CreateRide(context.Background(), validDraft())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.UserID("u1"), created.CreatorID)
	assert.Equal(t, "User u1", created.CreatorName)
	require.NotNil(t, created.CreatorContactHandle)
	assert.Equal(t, "9876543210", *created.CreatorContactHandle)
	assert.Equal(t, created.ID, f.repo.Rides()[0].ID)

	require.NoError(t, f.repo.Reload(context.Background()))
	head := f.repo.Rides()[0]
	assert.Equal(t, created.ID, head.ID)
	assert.Equal(t, "VIT Vellore Campus", head.Source)
	assert.Equal(t, "Chennai Airport", head.Destination)
	assert.Equal(t, "2024-12-21", head.Date)
	assert.Equal(t, "14:00", head.StartTime)
	assert.Equal(t, "15:30", head.EndTime)
	assert.Equal(t, 3, head.SeatsAvailable)
}

func TestCreateRide_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	bad := validDraft()
	bad.Destination = bad.Source
	bad.SeatsAvailable = 0
	_, err := f.repo.CreateRide(context.Background(), bad)
	require.ErrorIs(t, err, apperr.ErrValidation)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Details, "destination")
	assert.Contains(t, ae.Details, "seatsAvailable")

	f.who.set(nil)
	_, err = f.repo.CreateRide(context.Background(), validDraft())
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Empty(t, f.repo.Rides())
}

func TestCreateRide_RemoteFailureNotPrepended(t *testing.T) {
	t.Parallel()

	rides := &mockRides{}
	rides.On("Create", mock.Anything, mock.Anything).Return(riderepo.Ride{}, errors.New("insert failed"))
	repo := NewRepository(rides, &mockParticipants{}, &staticIdentity{user: userNamed("u1")}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})

	_, err := repo.CreateRide(context.Background(), validDraft())
	require.ErrorIs(t, err, apperr.ErrRemoteWrite)
	assert.Empty(t, repo.Rides())
}

func TestJoinRide_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.seed(t, "A", "B", "2024-12-20", "08:00", "09:00", 2)
	require.NoError(t, f.repo.Reload(context.Background()))

	var changes []Change
	f.repo.Subscribe(func(c Change) { changes = append(changes, c) })

	res, err := f.repo.JoinRide(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 1, res.SeatsAvailable)

	ride, ok := f.repo.RideByID(id)
	require.True(t, ok)
	assert.Equal(t, 1, ride.SeatsAvailable)
	assert.True(t, f.repo.HasJoined(id))
	assert.Equal(t, []Change{{Kind: ChangeJoined, RideID: id}}, changes)

	// Joining again is a local short-circuit and changes nothing.
	res, err = f.repo.JoinRide(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, OutcomeAlreadyJoined, res.Outcome)
	rows, _ := f.rides.ListNewestFirst(context.Background())
	assert.Equal(t, 1, rows[0].SeatsAvailable)
}

func TestJoinRide_Unauthenticated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.who.set(nil)
	_, err := f.repo.JoinRide(context.Background(), "r1")
	require.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestJoinRide_LocalShortCircuitsMakeNoRemoteCall(t *testing.T) {
	t.Parallel()

	rides := &mockRides{}
	parts := &mockParticipants{}
	rides.On("ListNewestFirst", mock.Anything).Return([]riderepo.Ride{rideRow("full", 0), rideRow("mine", 2)}, nil)
	parts.On("ListRideIDsByUser", mock.Anything, domain.UserID("u1")).Return([]domain.RideID{"mine"}, nil)

	repo := NewRepository(rides, parts, &staticIdentity{user: userNamed("u1")}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})
	require.NoError(t, repo.Reload(context.Background()))

	cases := map[domain.RideID]Outcome{
		"full":    OutcomeFull,
		"mine":    OutcomeAlreadyJoined,
		"missing": OutcomeNotFound,
	}
	for id, want := range cases {
		res, err := repo.JoinRide(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, res.Outcome, "ride %s", id)
		assert.False(t, res.OK())
	}
	parts.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	rides.AssertNotCalled(t, "DecrementSeat", mock.Anything, mock.Anything)
}

func TestJoinRide_ParticipantInsertFailed(t *testing.T) {
	t.Parallel()

	rides := &mockRides{}
	parts := &mockParticipants{}
	rides.On("ListNewestFirst", mock.Anything).Return([]riderepo.Ride{rideRow("r1", 2)}, nil)
	parts.On("ListRideIDsByUser", mock.Anything, mock.Anything).Return([]domain.RideID{}, nil)
	parts.On("Insert", mock.Anything, mock.Anything).Return(errors.New("insert failed"))

	repo := NewRepository(rides, parts, &staticIdentity{user: userNamed("u1")}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})
	require.NoError(t, repo.Reload(context.Background()))

	res, err := repo.JoinRide(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeParticipantInsertFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, apperr.ErrRemoteWrite)
	assert.False(t, repo.HasJoined("r1"))
	rides.AssertNotCalled(t, "DecrementSeat", mock.Anything, mock.Anything)
}

func TestJoinRide_SeatDecrementFailedIsCompensated(t *testing.T) {
	t.Parallel()

	rides := &mockRides{}
	parts := &mockParticipants{}
	p := participantrepo.Participant{RideID: "r1", UserID: "u1"}
	rides.On("ListNewestFirst", mock.Anything).Return([]riderepo.Ride{rideRow("r1", 1)}, nil)
	parts.On("ListRideIDsByUser", mock.Anything, mock.Anything).Return([]domain.RideID{}, nil)
	parts.On("Insert", mock.Anything, p).Return(nil)
	rides.On("DecrementSeat", mock.Anything, domain.RideID("r1")).Return(0, riderepo.ErrNoSeats)
	parts.On("Delete", mock.Anything, p).Return(nil)

	repo := NewRepository(rides, parts, &staticIdentity{user: userNamed("u1")}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})
	require.NoError(t, repo.Reload(context.Background()))

	res, err := repo.JoinRide(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSeatDecrementFailed, res.Outcome)
	assert.False(t, repo.HasJoined("r1"))
	ride, _ := repo.RideByID("r1")
	assert.Equal(t, 0, ride.SeatsAvailable)
	parts.AssertCalled(t, "Delete", mock.Anything, p)
}

func TestJoinRide_CompensationFailed(t *testing.T) {
	t.Parallel()

	rides := &mockRides{}
	parts := &mockParticipants{}
	rides.On("ListNewestFirst", mock.Anything).Return([]riderepo.Ride{rideRow("r1", 1)}, nil)
	parts.On("ListRideIDsByUser", mock.Anything, mock.Anything).Return([]domain.RideID{}, nil)
	parts.On("Insert", mock.Anything, mock.Anything).Return(nil)
	rides.On("DecrementSeat", mock.Anything, mock.Anything).Return(0, errors.New("write timeout"))
	parts.On("Delete", mock.Anything, mock.Anything).Return(errors.New("delete failed"))

	repo := NewRepository(rides, parts, &staticIdentity{user: userNamed("u1")}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})
	require.NoError(t, repo.Reload(context.Background()))

	res, err := repo.JoinRide(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompensationFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, apperr.ErrRemoteWrite)
	assert.False(t, repo.HasJoined("r1"))
	ride, _ := repo.RideByID("r1")
	assert.Equal(t, 1, ride.SeatsAvailable)
}

func TestJoinRide_ConcurrentUsersNeverOverbook(t *testing.T) {
	t.Parallel()

	clk := memclock.NewManualClock(time.Unix(0, 0))
	store := memrides.NewRepo(clk)
	parts := memparticipants.NewRepo()
	row, err := store.Create(context.Background(), riderepo.NewRide{
		Source: "A", Destination: "B", Date: "2024-12-21", StartTime: "10:00", EndTime: "11:00",
		SeatsAvailable: 2, CreatorID: "creator",
	})
	require.NoError(t, err)

	const users = 6
	repos := make([]*Repository, users)
	for i := range repos {
		u := userNamed(string(rune('a' + i)))
		repos[i] = NewRepository(store, parts, &staticIdentity{user: u}, clk, Options{Logger: logging.Discard()})
		require.NoError(t, repos[i].Reload(context.Background()))
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, repo := range repos {
		wg.Add(1)
		go func(repo *Repository) {
			defer wg.Done()
			res, err := repo.JoinRide(context.Background(), row.ID)
			if err == nil && res.OK() {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(repo)
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	rows, _ := store.ListNewestFirst(context.Background())
	assert.Equal(t, 0, rows[0].SeatsAvailable)
	for _, repo := range repos {
		ride, _ := repo.RideByID(row.ID)
		assert.GreaterOrEqual(t, ride.SeatsAvailable, 0)
	}
	// Losers were compensated: only the two winners hold join records.
	joined := 0
	for i := range repos {
		ids, _ := parts.ListRideIDsByUser(context.Background(), domain.UserID(string(rune('a'+i))))
		joined += len(ids)
	}
	assert.Equal(t, 2, joined)
}

func TestSearchRides(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	early := f.seed(t, "VIT Vellore Campus", "Chennai Airport", "2024-12-21", "08:30", "10:00", 2)
	f.seed(t, "VIT Vellore Campus", "Chennai Airport", "2024-12-21", "09:30", "11:00", 0)
	late := f.seed(t, "Katpadi Railway Station", "Bangalore Airport", "2024-12-22", "09:00", "12:00", 1)
	require.NoError(t, f.repo.Reload(context.Background()))

	all := f.repo.SearchRides(domain.SearchFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, late, all[0].ID)
	assert.Equal(t, early, all[1].ID)

	after9 := f.repo.SearchRides(domain.SearchFilter{StartTime: "09:00"})
	require.Len(t, after9, 1)
	assert.Equal(t, late, after9[0].ID)

	byDest := f.repo.SearchRides(domain.SearchFilter{Destination: "chennai"})
	require.Len(t, byDest, 1)
	assert.Equal(t, early, byDest[0].ID)
}

// gatedRides hands each ListNewestFirst call the next queued response and
// holds it until that response is released.
type gatedRides struct {
	riderepo.Repository
	calls chan gatedCall
}

type gatedCall struct {
	rows    []riderepo.Ride
	release chan struct{}
}

func (g *gatedRides) ListNewestFirst(ctx context.Context) ([]riderepo.Ride, error) {
	c := <-g.calls
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.release:
		return c.rows, nil
	}
}

func TestReload_OverlappingReloadsLastCompletedWins(t *testing.T) {
	t.Parallel()

	first := gatedCall{rows: []riderepo.Ride{rideRow("from-first", 1)}, release: make(chan struct{})}
	second := gatedCall{rows: []riderepo.Ride{rideRow("from-second", 1)}, release: make(chan struct{})}
	gated := &gatedRides{calls: make(chan gatedCall, 2)}
	gated.calls <- first
	gated.calls <- second
	repo := NewRepository(gated, memparticipants.NewRepo(), &staticIdentity{}, memclock.NewManualClock(time.Unix(0, 0)), Options{Logger: logging.Discard()})

	firstDone := make(chan error, 1)
	go func() { firstDone <- repo.Reload(context.Background()) }()
	require.Eventually(t, func() bool { return len(gated.calls) == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan error, 1)
	go func() { secondDone <- repo.Reload(context.Background()) }()
	require.Eventually(t, func() bool { return len(gated.calls) == 0 }, time.Second, time.Millisecond)

	// The reload started second finishes first.
	close(second.release)
	require.NoError(t, <-secondDone)
	require.Len(t, repo.Rides(), 1)
	assert.Equal(t, domain.RideID("from-second"), repo.Rides()[0].ID)

	close(first.release)
	require.NoError(t, <-firstDone)
	require.Len(t, repo.Rides(), 1)
	assert.Equal(t, domain.RideID("from-first"), repo.Rides()[0].ID)
	assert.False(t, repo.State().Loading)
}
