package identity

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
)

// Provider is an in-memory identity.Provider for tests and AUTH_MODE=dev.
// SignIn and RefreshToken emit the same events a real provider would.
type Provider struct {
	mu      sync.Mutex
	user    *identity.ExternalUser
	nextID  int
	subs    map[int]func(identity.Event)
	signOut error
	expires time.Time

	// BaseURL is used to build sign-in URLs.
	BaseURL string
}

func NewProvider() *Provider {
	return &Provider{
		subs:    make(map[int]func(identity.Event)),
		BaseURL: "https://identity.local/authorize",
	}
}

func (p *Provider) SignInURL(ctx context.Context, redirectTo string) (string, error) {
	_ = ctx
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("redirect_to", redirectTo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) CurrentSession(ctx context.Context) (identity.ExternalUser, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return identity.ExternalUser{}, identity.ErrNoSession
	}
	return *p.user, nil
}

// SignOut clears the session and emits SIGNED_OUT, unless a failure was injected
// with FailSignOut, in which case the session is left as is.
func (p *Provider) SignOut(ctx context.Context) error {
	_ = ctx
	p.mu.Lock()
	if err := p.signOut; err != nil {
		p.mu.Unlock()
		return err
	}
	p.user = nil
	p.mu.Unlock()
	p.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

func (p *Provider) Subscribe(fn func(identity.Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// SetSession installs u as the current session without emitting an event,
// like a session restored from storage before any listener exists.
func (p *Provider) SetSession(u identity.ExternalUser) {
	p.mu.Lock()
	p.user = &u
	p.mu.Unlock()
}

// SignIn installs u as the current session and emits SIGNED_IN.
func (p *Provider) SignIn(u identity.ExternalUser) {
	p.SetSession(u)
	p.emit(identity.Event{Kind: identity.EventSignedIn, User: &u})
}

// RefreshToken emits TOKEN_REFRESHED for the current user, if any.
func (p *Provider) RefreshToken() {
	p.mu.Lock()
	u := p.user
	p.mu.Unlock()
	if u == nil {
		return
	}
	cp := *u
	p.emit(identity.Event{Kind: identity.EventTokenRefreshed, User: &cp})
}

// Observe mirrors a verified request identity: a new or different user signs
// in, a new expiry for the same user refreshes the token.
func (p *Provider) Observe(u identity.ExternalUser, expiresAt time.Time) {
	p.mu.Lock()
	cur := p.user
	sameExpiry := p.expires.Equal(expiresAt)
	p.expires = expiresAt
	p.mu.Unlock()
	switch {
	case cur == nil || cur.ID != u.ID:
		p.SignIn(u)
	case !sameExpiry:
		p.SetSession(u)
		p.RefreshToken()
	}
}

// ExpiresAt returns the expiry passed to the last Observe call.
func (p *Provider) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expires
}

// FailSignOut makes subsequent SignOut calls return err. Pass nil to reset.
func (p *Provider) FailSignOut(err error) {
	p.mu.Lock()
	p.signOut = err
	p.mu.Unlock()
}

func (p *Provider) emit(ev identity.Event) {
	p.mu.Lock()
	fns := make([]func(identity.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
