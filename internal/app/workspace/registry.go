package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
)

// ProviderFactory builds the identity provider for a new workspace.
type ProviderFactory func(subject string) identity.Provider

// Registry keeps one workspace per authenticated subject.
type Registry struct {
	deps        Deps
	newProvider ProviderFactory
	log         *slog.Logger

	opens singleflight.Group

	mu sync.Mutex
	m  map[string]*Workspace
}

func NewRegistry(deps Deps, newProvider ProviderFactory) *Registry {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		deps:        deps,
		newProvider: newProvider,
		log:         log,
		m:           make(map[string]*Workspace),
	}
}

// Open returns the subject's workspace, creating it on first use. Concurrent
// first calls for the same subject share one creation.
func (r *Registry) Open(ctx context.Context, subject string) (*Workspace, error) {
	if subject == "" {
		return nil, errors.New("empty subject")
	}
	if w, ok := r.Get(subject); ok {
		return w, nil
	}
	v, err, _ := r.opens.Do(subject, func() (any, error) {
		if w, ok := r.Get(subject); ok {
			return w, nil
		}
		deps := r.deps
		deps.Logger = r.log.With("subject", subject)
		w, err := Open(context.WithoutCancel(ctx), r.newProvider(subject), deps)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.m[subject] = w
		r.mu.Unlock()
		r.log.Info("workspace opened", "subject", subject)
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

func (r *Registry) Get(subject string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.m[subject]
	return w, ok
}

// Close closes and forgets the subject's workspace, if any.
func (r *Registry) Close(subject string) error {
	r.mu.Lock()
	w, ok := r.m[subject]
	delete(r.m, subject)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.log.Info("workspace closed", "subject", subject)
	return w.Close()
}

// CloseAll closes every workspace.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	all := r.m
	r.m = make(map[string]*Workspace)
	r.mu.Unlock()

	var errs []error
	for _, w := range all {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// expiringSession is implemented by providers whose session ends when the
// last observed token expires.
type expiringSession interface {
	ExpiresAt() time.Time
}

// Sweep signs out and closes every workspace whose token expired at or before
// the clock's current time, and returns how many were closed. Sessions without
// a known expiry are left open.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.deps.Clock.Now()

	r.mu.Lock()
	var expired []string
	for subject, w := range r.m {
		es, ok := w.Provider.(expiringSession)
		if !ok {
			continue
		}
		if exp := es.ExpiresAt(); !exp.IsZero() && !now.Before(exp) {
			expired = append(expired, subject)
		}
	}
	r.mu.Unlock()

	closed := 0
	for _, subject := range expired {
		w, ok := r.Get(subject)
		if !ok {
			continue
		}
		// Emits SIGNED_OUT, which clears the identity and the ride state.
		if err := w.Provider.SignOut(ctx); err != nil {
			r.log.Warn("sign-out of expired session failed", "subject", subject, "error", err)
		}
		r.mu.Lock()
		same := r.m[subject] == w
		if same {
			delete(r.m, subject)
		}
		r.mu.Unlock()
		if !same {
			continue
		}
		if err := w.Close(); err != nil {
			r.log.Warn("closing expired workspace failed", "subject", subject, "error", err)
		}
		r.log.Info("workspace expired", "subject", subject)
		closed++
	}
	return closed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
