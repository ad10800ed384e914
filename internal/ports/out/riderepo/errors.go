package riderepo

import "errors"

var (
	ErrNotFound = errors.New("ride not found")
	// ErrNoSeats indicates a conditional seat decrement matched no row with seats left.
	ErrNoSeats = errors.New("ride has no seats available")
)
