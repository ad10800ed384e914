package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/campus-carpool/rides-api/internal/app/apperr"
	"github.com/campus-carpool/rides-api/internal/domain"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
	"github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
)

type Options struct {
	// AllowedEmailDomains defaults to domain.DefaultAllowedEmailDomains.
	AllowedEmailDomains []string
	Logger              *slog.Logger
}

// Store holds the authenticated identity of one provider session and mirrors
// the user's profile row.
type Store struct {
	provider identity.Provider
	profiles profilerepo.Repository
	clk      clockport.Clock
	log      *slog.Logger
	allowed  []string

	loads singleflight.Group

	mu      sync.RWMutex
	user    *domain.User
	loading bool
	lastErr error
	nextSub int
	subs    map[int]func(*domain.User)
}

func NewStore(provider identity.Provider, profiles profilerepo.Repository, clk clockport.Clock, opts Options) *Store {
	allowed := opts.AllowedEmailDomains
	if len(allowed) == 0 {
		allowed = domain.DefaultAllowedEmailDomains
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		provider: provider,
		profiles: profiles,
		clk:      clk,
		log:      log,
		allowed:  allowed,
		subs:     make(map[int]func(*domain.User)),
	}
}

// Login asks the provider for a sign-in redirect. The identity is set later,
// when the provider reports SIGNED_IN.
func (s *Store) Login(ctx context.Context, redirectTo string) (string, error) {
	s.setLoading(true)
	u, err := s.provider.SignInURL(ctx, redirectTo)
	if err != nil {
		s.setLoading(false)
		return "", apperr.RemoteRead("could not start sign-in", err)
	}
	return u, nil
}

// Init restores identity from the provider's current session, if any.
func (s *Store) Init(ctx context.Context) error {
	s.setLoading(true)
	ext, err := s.provider.CurrentSession(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			s.clear()
			return nil
		}
		s.fail(err)
		return apperr.RemoteRead("could not read session", err)
	}
	_, err = s.loadProfile(ctx, ext)
	return err
}

// HandleAuthEvent applies a provider event. SIGNED_OUT clears the identity;
// SIGNED_IN and TOKEN_REFRESHED load the profile.
func (s *Store) HandleAuthEvent(ctx context.Context, ev identity.Event) error {
	switch ev.Kind {
	case identity.EventSignedOut:
		s.clear()
		return nil
	case identity.EventSignedIn, identity.EventTokenRefreshed:
		var ext identity.ExternalUser
		if ev.User != nil {
			ext = *ev.User
		} else {
			cur, err := s.provider.CurrentSession(ctx)
			if err != nil {
				if errors.Is(err, identity.ErrNoSession) {
					s.clear()
					return nil
				}
				s.fail(err)
				return apperr.RemoteRead("could not read session", err)
			}
			ext = cur
		}
		_, err := s.loadProfile(ctx, ext)
		return err
	default:
		return nil
	}
}

// Authenticate makes ext the current identity, joining a profile load for ext
// that is already in flight instead of reporting the half-loaded state.
func (s *Store) Authenticate(ctx context.Context, ext identity.ExternalUser) error {
	if u, ok := s.User(); ok && string(u.ID) == ext.ID {
		return nil
	}
	_, err := s.loadProfile(ctx, ext)
	return err
}

// loadProfile coalesces concurrent loads for the same user into one call.
func (s *Store) loadProfile(ctx context.Context, ext identity.ExternalUser) (domain.User, error) {
	v, err, _ := s.loads.Do(ext.ID, func() (any, error) {
		return s.doLoadProfile(ctx, ext)
	})
	if err != nil {
		return domain.User{}, err
	}
	return v.(domain.User), nil
}

func (s *Store) doLoadProfile(ctx context.Context, ext identity.ExternalUser) (domain.User, error) {
	s.setLoading(true)

	if !domain.EmailDomainAllowed(ext.Email, s.allowed) {
		s.log.Warn("sign-in rejected: email domain not allowed", "userId", ext.ID, "email", ext.Email)
		if err := s.provider.SignOut(ctx); err != nil {
			s.log.Warn("provider sign-out after domain rejection failed", "userId", ext.ID, "error", err)
		}
		rej := apperr.DomainRejected(ext.Email)
		s.clear()
		s.setErr(rej)
		return domain.User{}, rej
	}

	p, err := s.profiles.GetByID(ctx, domain.UserID(ext.ID))
	if errors.Is(err, profilerepo.ErrNotFound) {
		p, err = s.createProfile(ctx, ext)
	} else if err != nil {
		err = apperr.RemoteRead("could not load profile", err)
	}
	if err != nil {
		s.log.Error("profile load failed", "userId", ext.ID, "error", err)
		s.fail(err)
		return domain.User{}, err
	}

	u := toDomain(p)
	s.set(&u)
	return u.Clone(), nil
}

func (s *Store) createProfile(ctx context.Context, ext identity.ExternalUser) (profilerepo.Profile, error) {
	name := domain.NormalizeHumanName(ext.FullName)
	if name == "" {
		name = domain.EmailLocalPart(ext.Email)
	}
	var photo *string
	if v := strings.TrimSpace(ext.AvatarURL); v != "" {
		photo = &v
	} else if v := strings.TrimSpace(ext.Picture); v != "" {
		photo = &v
	}

	p, err := s.profiles.Create(ctx, profilerepo.Profile{
		ID:        domain.UserID(ext.ID),
		Email:     ext.Email,
		Name:      name,
		PhotoURL:  photo,
		UpdatedAt: s.clk.Now(),
	})
	if errors.Is(err, profilerepo.ErrAlreadyExists) {
		// Another session created it first.
		p, err = s.profiles.GetByID(ctx, domain.UserID(ext.ID))
		if err != nil {
			return profilerepo.Profile{}, apperr.RemoteRead("could not load profile", err)
		}
		return p, nil
	}
	if err != nil {
		return profilerepo.Profile{}, apperr.RemoteWrite("could not create profile", err)
	}
	s.log.Info("profile created", "userId", ext.ID)
	return p, nil
}

// Logout signs out of the provider on a best-effort basis and always clears
// the local identity.
func (s *Store) Logout(ctx context.Context) {
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn("provider sign-out failed", "error", err)
	}
	s.clear()
}

// SetContactHandle validates value, persists its digits-only form and updates
// the local identity after the write succeeds.
func (s *Store) SetContactHandle(ctx context.Context, value string) (domain.User, error) {
	cur, ok := s.User()
	if !ok {
		return domain.User{}, apperr.Unauthenticated("sign in to set a contact handle")
	}
	handle, err := domain.NormalizeContactHandle(value)
	if err != nil {
		return domain.User{}, apperr.Validation("invalid contact handle", map[string]any{"contactHandle": err.Error()})
	}

	now := s.clk.Now()
	if err := s.profiles.UpdateContactHandle(ctx, cur.ID, handle, now); err != nil {
		return domain.User{}, apperr.RemoteWrite("could not save contact handle", err)
	}

	s.mu.Lock()
	if s.user == nil || s.user.ID != cur.ID {
		s.mu.Unlock()
		return domain.User{}, apperr.Unauthenticated("session ended while saving")
	}
	s.user.ContactHandle = &handle
	s.user.UpdatedAt = now
	out := s.user.Clone()
	s.mu.Unlock()

	s.notify(&out)
	return out.Clone(), nil
}

// User returns a copy of the current identity.
func (s *Store) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return s.user.Clone(), true
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// NeedsContactHandle is true when a user is signed in without a contact handle.
func (s *Store) NeedsContactHandle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && !s.user.HasContactHandle()
}

// LastError returns the error of the most recent failed load, or nil.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Subscribe registers fn for identity changes. fn receives nil after sign-out.
func (s *Store) Subscribe(fn func(*domain.User)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) set(u *domain.User) {
	s.mu.Lock()
	s.user = u
	s.loading = false
	s.lastErr = nil
	s.mu.Unlock()
	cp := u.Clone()
	s.notify(&cp)
}

func (s *Store) clear() {
	s.mu.Lock()
	had := s.user != nil
	s.user = nil
	s.loading = false
	s.mu.Unlock()
	if had {
		s.notify(nil)
	}
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	s.loading = false
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) notify(u *domain.User) {
	s.mu.RLock()
	fns := make([]func(*domain.User), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		if u == nil {
			fn(nil)
			continue
		}
		cp := u.Clone()
		fn(&cp)
	}
}

func toDomain(p profilerepo.Profile) domain.User {
	return domain.User{
		ID:            p.ID,
		Name:          p.Name,
		Email:         p.Email,
		PhotoURL:      cloneStringPtr(p.PhotoURL),
		ContactHandle: cloneStringPtr(p.WhatsApp),
		UpdatedAt:     p.UpdatedAt,
	}
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
