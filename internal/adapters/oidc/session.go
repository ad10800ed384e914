package oidc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campus-carpool/rides-api/internal/platform/auth/jwtverifier"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
)

// SignInURLer produces provider redirect URLs. *Authenticator implements it.
type SignInURLer interface {
	SignInURL(ctx context.Context, redirectTo string) (string, error)
}

// Session is the identity.Provider for one subject. It is fed by verified ID
// tokens through Observe and emits the provider events a client SDK would.
type Session struct {
	signIn SignInURLer

	mu        sync.Mutex
	user      *identity.ExternalUser
	expiresAt time.Time
	nextID    int
	subs      map[int]func(identity.Event)
}

func NewSession(signIn SignInURLer) *Session {
	return &Session{
		signIn: signIn,
		subs:   make(map[int]func(identity.Event)),
	}
}

// UserFromClaims maps ID token claims to provider user metadata.
func UserFromClaims(c jwtverifier.Claims) identity.ExternalUser {
	full := c.FullName
	if full == "" {
		full = c.Name
	}
	return identity.ExternalUser{
		ID:        c.Subject,
		Email:     c.Email,
		FullName:  full,
		AvatarURL: c.AvatarURL,
		Picture:   c.Picture,
	}
}

func (s *Session) SignInURL(ctx context.Context, redirectTo string) (string, error) {
	if s.signIn == nil {
		return "", errors.New("sign-in redirect is not configured")
	}
	return s.signIn.SignInURL(ctx, redirectTo)
}

func (s *Session) CurrentSession(ctx context.Context) (identity.ExternalUser, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return identity.ExternalUser{}, identity.ErrNoSession
	}
	return *s.user, nil
}

// SignOut forgets the session locally. ID tokens are stateless, so there is
// nothing to revoke upstream.
func (s *Session) SignOut(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	had := s.user != nil
	s.user = nil
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	if had {
		s.emit(identity.Event{Kind: identity.EventSignedOut})
	}
	return nil
}

func (s *Session) Subscribe(fn func(identity.Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Observe records a verified token for u. A new or different user emits
// SIGNED_IN; a new expiry for the same user emits TOKEN_REFRESHED.
func (s *Session) Observe(u identity.ExternalUser, expiresAt time.Time) {
	s.mu.Lock()
	var kind identity.EventKind
	switch {
	case s.user == nil || s.user.ID != u.ID:
		kind = identity.EventSignedIn
	case !s.expiresAt.Equal(expiresAt):
		kind = identity.EventTokenRefreshed
	default:
		s.mu.Unlock()
		return
	}
	cp := u
	s.user = &cp
	s.expiresAt = expiresAt
	s.mu.Unlock()

	ev := u
	s.emit(identity.Event{Kind: kind, User: &ev})
}

// ExpiresAt returns the expiry of the last observed token, or zero without a session.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) emit(ev identity.Event) {
	s.mu.Lock()
	fns := make([]func(identity.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
