package loginstate

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the state value is unknown, expired, or already consumed.
var ErrNotFound = errors.New("login state not found")

// State is the anti-forgery value round-tripped through the identity provider redirect.
type State string

// Record is what a login attempt remembers until the provider calls back.
type Record struct {
	RedirectTo string
	CreatedAt  time.Time
}

// Store keeps one-time login state values.
type Store interface {
	Put(ctx context.Context, s State, rec Record, ttl time.Duration) error
	// Take returns and deletes the record in one step so a state value can be used once.
	Take(ctx context.Context, s State) (Record, error)
}
