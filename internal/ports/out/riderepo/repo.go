package riderepo

import (
	"context"
	"time"

	"github.com/campus-carpool/rides-api/internal/domain"
)

// NewRide is the insert shape for the rides table. ID and CreatedAt are assigned by the store.
type NewRide struct {
	Source      string
	Destination string
	Date        string
	StartTime   string
	EndTime     string

	SeatsAvailable int

	CreatorID       domain.UserID
	CreatorName     string
	CreatorEmail    string
	CreatorWhatsApp *string
}

// Ride is the persistence shape of a rides row.
type Ride struct {
	ID          domain.RideID
	Source      string
	Destination string
	Date        string
	StartTime   string
	EndTime     string

	SeatsAvailable int

	CreatorID       domain.UserID
	CreatorName     string
	CreatorEmail    string
	CreatorWhatsApp *string

	CreatedAt time.Time
}

// Repository provides access to the rides table.
//
// Result ordering expectations:
// - ListNewestFirst returns rides ordered by CreatedAt descending (ties broken by ID descending).
type Repository interface {
	ListNewestFirst(ctx context.Context) ([]Ride, error)

	// Create inserts a ride and returns the canonical row with store-assigned ID and CreatedAt.
	Create(ctx context.Context, r NewRide) (Ride, error)

	// DecrementSeat lowers seats_available by exactly one when it is above zero and
	// returns the remaining count. ErrNotFound or ErrNoSeats is returned otherwise.
	DecrementSeat(ctx context.Context, id domain.RideID) (int, error)
}
