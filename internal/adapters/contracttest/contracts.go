package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campus-carpool/rides-api/internal/domain"
	loginstateport "github.com/campus-carpool/rides-api/internal/ports/out/loginstate"
	participantrepoport "github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
	profilerepoport "github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
	riderepoport "github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

type CleanupFunc = func()

type ProfileRepoFactory func(t *testing.T) (profilerepoport.Repository, CleanupFunc)
type RideRepoFactory func(t *testing.T) (riderepoport.Repository, CleanupFunc)
type ParticipantRepoFactory func(t *testing.T) (participantrepoport.Repository, riderepoport.Repository, CleanupFunc)
type LoginStateStoreFactory func(t *testing.T) (loginstateport.Store, CleanupFunc)

func strPtr(s string) *string { return &s }

// NewUserID returns a fresh user id usable by every backend.
func NewUserID() domain.UserID {
	return domain.UserID(uuid.NewString())
}

func RunProfileRepo(t *testing.T, newRepo ProfileRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	id := NewUserID()
	if _, err := repo.GetByID(ctx, id); !errors.Is(err, profilerepoport.ErrNotFound) {
		t.Fatalf("GetByID(missing) err=%v, want ErrNotFound", err)
	}

	now := time.Unix(1000, 0).UTC()
	created, err := repo.Create(ctx, profilerepoport.Profile{
		ID:        id,
		Email:     "asha@vitstudent.ac.in",
		Name:      "Asha K",
		PhotoURL:  strPtr("https://img.example/asha.png"),
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != id || created.WhatsApp != nil {
		t.Fatalf("unexpected created profile: %+v", created)
	}

	if _, err := repo.Create(ctx, profilerepoport.Profile{ID: id, Email: "dup@vitstudent.ac.in", Name: "Dup", UpdatedAt: now}); !errors.Is(err, profilerepoport.ErrAlreadyExists) {
		t.Fatalf("Create(duplicate) err=%v, want ErrAlreadyExists", err)
	}

	if _, err := repo.Create(ctx, profilerepoport.Profile{Email: "blank@vitstudent.ac.in", Name: "Blank", UpdatedAt: now}); !errors.Is(err, profilerepoport.ErrInvalidID) {
		t.Fatalf("Create(empty id) err=%v, want ErrInvalidID", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateContactHandle(ctx, id, "9876543210", later); err != nil {
		t.Fatalf("UpdateContactHandle: %v", err)
	}
	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.WhatsApp == nil || *got.WhatsApp != "9876543210" {
		t.Fatalf("whatsapp=%v, want 9876543210", got.WhatsApp)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("updatedAt=%v, want %v", got.UpdatedAt, later)
	}
	if got.PhotoURL == nil || *got.PhotoURL != "https://img.example/asha.png" {
		t.Fatalf("photoURL=%v", got.PhotoURL)
	}

	if err := repo.UpdateContactHandle(ctx, NewUserID(), "9876543210", later); !errors.Is(err, profilerepoport.ErrNotFound) {
		t.Fatalf("UpdateContactHandle(missing) err=%v, want ErrNotFound", err)
	}
}

// SeedRide inserts a ride with the given seat count on behalf of creator.
func SeedRide(t *testing.T, repo riderepoport.Repository, creator domain.UserID, seats int) riderepoport.Ride {
	t.Helper()
	r, err := repo.Create(context.Background(), riderepoport.NewRide{
		Source:         "VIT Vellore Campus",
		Destination:    "Chennai Airport",
		Date:           "2024-12-21",
		StartTime:      "14:00",
		EndTime:        "15:30",
		SeatsAvailable: seats,
		CreatorID:      creator,
		CreatorName:    "Asha K",
		CreatorEmail:   "asha@vitstudent.ac.in",
	})
	if err != nil {
		t.Fatalf("Create ride: %v", err)
	}
	return r
}

func RunRideRepo(t *testing.T, newRepo RideRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	creator := NewUserID()
	created, err := repo.Create(ctx, riderepoport.NewRide{
		Source:          "VIT Vellore Campus",
		Destination:     "Chennai Airport",
		Date:            "2024-12-21",
		StartTime:       "14:00",
		EndTime:         "15:30",
		SeatsAvailable:  2,
		CreatorID:       creator,
		CreatorName:     "Asha K",
		CreatorEmail:    "asha@vitstudent.ac.in",
		CreatorWhatsApp: strPtr("9876543210"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("expected store-assigned id and created_at, got %+v", created)
	}
	if created.Source != "VIT Vellore Campus" || created.Destination != "Chennai Airport" ||
		created.Date != "2024-12-21" || created.StartTime != "14:00" || created.EndTime != "15:30" ||
		created.SeatsAvailable != 2 || created.CreatorID != creator {
		t.Fatalf("fields changed on insert: %+v", created)
	}
	if created.CreatorWhatsApp == nil || *created.CreatorWhatsApp != "9876543210" {
		t.Fatalf("creator whatsapp=%v", created.CreatorWhatsApp)
	}

	second := SeedRide(t, repo, creator, 1)

	list, err := repo.ListNewestFirst(ctx)
	if err != nil {
		t.Fatalf("ListNewestFirst: %v", err)
	}
	if len(list) < 2 {
		t.Fatalf("ListNewestFirst len=%d, want >= 2", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("ListNewestFirst not ordered by created_at desc at %d", i)
		}
	}

	remaining, err := repo.DecrementSeat(ctx, second.ID)
	if err != nil {
		t.Fatalf("DecrementSeat: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining=%d, want 0", remaining)
	}
	if _, err := repo.DecrementSeat(ctx, second.ID); !errors.Is(err, riderepoport.ErrNoSeats) {
		t.Fatalf("DecrementSeat(full) err=%v, want ErrNoSeats", err)
	}
	list, err = repo.ListNewestFirst(ctx)
	if err != nil {
		t.Fatalf("ListNewestFirst: %v", err)
	}
	for _, r := range list {
		if r.SeatsAvailable < 0 {
			t.Fatalf("ride %s has negative seats %d", r.ID, r.SeatsAvailable)
		}
	}

	if _, err := repo.DecrementSeat(ctx, domain.RideID(uuid.NewString())); !errors.Is(err, riderepoport.ErrNotFound) {
		t.Fatalf("DecrementSeat(missing) err=%v, want ErrNotFound", err)
	}
}

func RunParticipantRepo(t *testing.T, newRepo ParticipantRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, rides, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	creator := NewUserID()
	r1 := SeedRide(t, rides, creator, 3)
	r2 := SeedRide(t, rides, creator, 3)
	user := NewUserID()

	if err := repo.Insert(ctx, participantrepoport.Participant{RideID: r1.ID, UserID: user}); err != nil {
		t.Fatalf("Insert r1: %v", err)
	}
	if err := repo.Insert(ctx, participantrepoport.Participant{RideID: r1.ID, UserID: user}); !errors.Is(err, participantrepoport.ErrAlreadyJoined) {
		t.Fatalf("Insert(duplicate) err=%v, want ErrAlreadyJoined", err)
	}
	if err := repo.Insert(ctx, participantrepoport.Participant{RideID: r2.ID, UserID: user}); err != nil {
		t.Fatalf("Insert r2: %v", err)
	}

	ids, err := repo.ListRideIDsByUser(ctx, user)
	if err != nil {
		t.Fatalf("ListRideIDsByUser: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListRideIDsByUser len=%d, want 2", len(ids))
	}

	if err := repo.Delete(ctx, participantrepoport.Participant{RideID: r1.ID, UserID: user}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, participantrepoport.Participant{RideID: r1.ID, UserID: user}); !errors.Is(err, participantrepoport.ErrNotFound) {
		t.Fatalf("Delete(missing) err=%v, want ErrNotFound", err)
	}
	ids, err = repo.ListRideIDsByUser(ctx, user)
	if err != nil {
		t.Fatalf("ListRideIDsByUser: %v", err)
	}
	if len(ids) != 1 || ids[0] != r2.ID {
		t.Fatalf("ListRideIDsByUser=%v, want [%s]", ids, r2.ID)
	}

	other, err := repo.ListRideIDsByUser(ctx, NewUserID())
	if err != nil || len(other) != 0 {
		t.Fatalf("ListRideIDsByUser(other)=%v err=%v, want empty", other, err)
	}
}

func RunLoginStateStore(t *testing.T, newStore LoginStateStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	st := loginstateport.State(uuid.NewString())
	rec := loginstateport.Record{RedirectTo: "/rides", CreatedAt: time.Unix(123, 0).UTC()}
	if err := store.Put(ctx, st, rec, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Take(ctx, st)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got.RedirectTo != "/rides" || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", got)
	}

	// One-time use.
	if _, err := store.Take(ctx, st); !errors.Is(err, loginstateport.ErrNotFound) {
		t.Fatalf("second Take err=%v, want ErrNotFound", err)
	}
	if _, err := store.Take(ctx, loginstateport.State("unknown")); !errors.Is(err, loginstateport.ErrNotFound) {
		t.Fatalf("Take(unknown) err=%v, want ErrNotFound", err)
	}
}
