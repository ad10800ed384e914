package participantrepo

import (
	"context"
	"errors"

	"github.com/campus-carpool/rides-api/internal/domain"
)

var (
	// ErrAlreadyJoined indicates the (ride, user) pair already exists.
	ErrAlreadyJoined = errors.New("user already joined ride")
	ErrNotFound      = errors.New("participant not found")
)

// Participant is a ride_participants row.
type Participant struct {
	RideID domain.RideID
	UserID domain.UserID
}

type Repository interface {
	// Insert adds the join record. The (ride, user) pair is unique: a duplicate yields ErrAlreadyJoined.
	Insert(ctx context.Context, p Participant) error

	// Delete removes the join record. Deleting a missing pair yields ErrNotFound.
	Delete(ctx context.Context, p Participant) error

	// ListRideIDsByUser returns the rides the user has joined, in no particular order.
	ListRideIDsByUser(ctx context.Context, userID domain.UserID) ([]domain.RideID, error)
}
