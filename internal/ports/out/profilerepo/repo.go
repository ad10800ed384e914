package profilerepo

import (
	"context"
	"time"

	"github.com/campus-carpool/rides-api/internal/domain"
)

// Profile is the persistence shape of a user_profiles row.
// It is an internal record, not an HTTP DTO.
type Profile struct {
	ID    domain.UserID
	Email string
	Name  string
	// PhotoURL is nullable; nil means unset.
	PhotoURL *string
	// WhatsApp is the contact handle column; nil means the user has not provided one yet.
	WhatsApp *string

	UpdatedAt time.Time
}

// Repository provides access to the user_profiles table.
type Repository interface {
	// GetByID returns ErrNotFound when no row exists for id.
	GetByID(ctx context.Context, id domain.UserID) (Profile, error)

	// Create inserts p and returns the stored row. A duplicate id yields
	// ErrAlreadyExists and an empty id yields ErrInvalidID.
	Create(ctx context.Context, p Profile) (Profile, error)

	// UpdateContactHandle sets whatsapp and updated_at for id. A missing row yields ErrNotFound.
	UpdateContactHandle(ctx context.Context, id domain.UserID, whatsApp string, updatedAt time.Time) error
}
