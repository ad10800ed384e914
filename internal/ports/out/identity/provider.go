package identity

import (
	"context"
	"errors"
)

// ErrNoSession is returned when the provider has no signed-in user.
var ErrNoSession = errors.New("no identity session")

// ExternalUser is the user record reported by the identity provider.
// Metadata fields are best-effort and may be empty.
type ExternalUser struct {
	ID    string
	Email string

	FullName  string
	AvatarURL string
	Picture   string
}

type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
)

// Event is an auth-state change notification. User is nil for EventSignedOut.
type Event struct {
	Kind EventKind
	User *ExternalUser
}

// Provider is one user's session with the external identity provider.
type Provider interface {
	// SignInURL returns the URL the browser must be redirected to in order to sign in.
	SignInURL(ctx context.Context, redirectTo string) (string, error)

	// CurrentSession returns the signed-in user or ErrNoSession.
	CurrentSession(ctx context.Context) (ExternalUser, error)

	// SignOut invalidates the provider session.
	SignOut(ctx context.Context) error

	// Subscribe registers fn for auth-state changes. The returned func unsubscribes.
	Subscribe(fn func(Event)) (unsubscribe func())
}
