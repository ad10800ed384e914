package profilerepo

import "errors"

var (
	// ErrNotFound indicates no profile exists for the requested user id.
	ErrNotFound = errors.New("profile not found")

	// ErrAlreadyExists indicates a profile already exists for the user id.
	ErrAlreadyExists = errors.New("profile already exists")

	// ErrInvalidID indicates a write was attempted with an empty user id.
	ErrInvalidID = errors.New("profile id is required")
)
