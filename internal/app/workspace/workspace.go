package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/campus-carpool/rides-api/internal/app/live"
	"github.com/campus-carpool/rides-api/internal/app/rides"
	"github.com/campus-carpool/rides-api/internal/app/session"
	"github.com/campus-carpool/rides-api/internal/domain"
	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
	clockport "github.com/campus-carpool/rides-api/internal/ports/out/clock"
	"github.com/campus-carpool/rides-api/internal/ports/out/identity"
	"github.com/campus-carpool/rides-api/internal/ports/out/participantrepo"
	"github.com/campus-carpool/rides-api/internal/ports/out/profilerepo"
	"github.com/campus-carpool/rides-api/internal/ports/out/riderepo"
)

// Deps are the shared adapters every workspace is built from.
type Deps struct {
	Profiles     profilerepo.Repository
	Rides        riderepo.Repository
	Participants participantrepo.Repository
	Feed         changefeed.Feed
	Clock        clockport.Clock
	Logger       *slog.Logger

	AllowedEmailDomains []string
	ReloadTimeout       time.Duration
}

// Workspace is the data layer of one identity-provider session: its session
// store, ride repository and live listener, opened and closed together.
type Workspace struct {
	Provider identity.Provider
	Session  *session.Store
	Rides    *rides.Repository
	Live     *live.Listener

	log     *slog.Logger
	timeout time.Duration

	mu         sync.Mutex
	closed     bool
	lastUserID domain.UserID
	unsubs     []func()
}

// Open wires a workspace around provider, restores the session and starts the
// live listener. Identity changes reload or reset the ride repository.
func Open(ctx context.Context, provider identity.Provider, deps Deps) (*Workspace, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := deps.ReloadTimeout
	if timeout <= 0 {
		timeout = rides.DefaultReloadTimeout
	}

	store := session.NewStore(provider, deps.Profiles, deps.Clock, session.Options{
		AllowedEmailDomains: deps.AllowedEmailDomains,
		Logger:              log,
	})
	repo := rides.NewRepository(deps.Rides, deps.Participants, store, deps.Clock, rides.Options{
		ReloadTimeout: timeout,
		Logger:        log,
	})
	w := &Workspace{
		Provider: provider,
		Session:  store,
		Rides:    repo,
		Live:     live.NewListener(deps.Feed, repo, live.Options{Logger: log}),
		log:      log,
		timeout:  timeout,
	}

	w.unsubs = append(w.unsubs,
		provider.Subscribe(w.onAuthEvent),
		store.Subscribe(w.onIdentity),
	)

	if err := store.Init(ctx); err != nil {
		log.Warn("session init failed", "error", err)
	}
	if !store.IsAuthenticated() {
		if err := repo.Reload(ctx); err != nil {
			log.Warn("initial rides reload failed", "error", err)
		}
	}
	if err := w.Live.Start(ctx); err != nil {
		log.Warn("live listener start failed", "error", err)
	}
	return w, nil
}

func (w *Workspace) onAuthEvent(ev identity.Event) {
	if w.isClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.Session.HandleAuthEvent(ctx, ev); err != nil {
		w.log.Warn("auth event handling failed", "event", ev.Kind, "error", err)
	}
}

func (w *Workspace) onIdentity(u *domain.User) {
	var id domain.UserID
	if u != nil {
		id = u.ID
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	prev := w.lastUserID
	w.lastUserID = id
	w.mu.Unlock()

	if id == prev {
		return
	}
	if prev != "" {
		w.Rides.Reset()
	}
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.Rides.Reload(ctx); err != nil {
		w.log.Warn("rides reload after sign-in failed", "userId", id, "error", err)
	}
}

// Close stops the listener, drops local ride state and detaches from the
// provider. It is safe to call more than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	unsubs := w.unsubs
	w.unsubs = nil
	w.mu.Unlock()

	err := w.Live.Stop()
	for _, fn := range unsubs {
		fn()
	}
	w.Rides.Reset()
	return err
}

func (w *Workspace) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
