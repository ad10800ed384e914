package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed_out"
	StatusClosed     Status = "closed"
)

const DefaultTable = "rides"

// Reloader is what a change triggers. *rides.Repository implements it.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Options struct {
	Table  string
	Logger *slog.Logger
}

// Listener turns change-feed events on the rides table into repository reloads.
// It never modifies ride data itself.
type Listener struct {
	feed     changefeed.Feed
	reloader Reloader
	table    string
	log      *slog.Logger

	mu      sync.Mutex
	sub     changefeed.Subscription
	cancel  context.CancelFunc
	runCtx  context.Context
	running bool
	stopped bool
	status  Status
	err     error
}

func NewListener(feed changefeed.Feed, reloader Reloader, opts Options) *Listener {
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		feed:     feed,
		reloader: reloader,
		table:    table,
		log:      log.With("table", table),
		status:   StatusIdle,
	}
}

// Start subscribes to the feed. Calling Start on a running listener is a no-op.
// Reloads run under a context that lives until Stop, not under ctx.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.runCtx = runCtx
	l.cancel = cancel
	l.stopped = false
	l.status = StatusConnecting
	l.err = nil
	l.mu.Unlock()

	sub, err := l.feed.Subscribe(ctx, l.table, changefeed.Handlers{
		OnEvent:  l.onEvent,
		OnStatus: l.onStatus,
	})
	if err != nil {
		cancel()
		l.mu.Lock()
		l.running = false
		l.status = StatusError
		l.err = err
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	if !l.running {
		// Stopped while subscribing.
		l.mu.Unlock()
		return sub.Close()
	}
	l.sub = sub
	l.mu.Unlock()
	return nil
}

// Stop unsubscribes. Once Stop returns no further reload is triggered.
func (l *Listener) Stop() error {
	l.mu.Lock()
	sub := l.sub
	cancel := l.cancel
	l.sub = nil
	l.cancel = nil
	l.running = false
	l.stopped = true
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sub != nil {
		err = sub.Close()
	}

	l.mu.Lock()
	l.status = StatusClosed
	l.mu.Unlock()
	return err
}

func (l *Listener) Status() (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status, l.err
}

func (l *Listener) onEvent(ev changefeed.Event) {
	l.mu.Lock()
	if l.stopped || l.runCtx == nil {
		l.mu.Unlock()
		return
	}
	ctx := l.runCtx
	l.mu.Unlock()

	l.log.Debug("change received", "op", ev.Op, "recordId", ev.RecordID)
	if err := l.reloader.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("reload after change failed", "op", ev.Op, "error", err)
	}
}

func (l *Listener) onStatus(st changefeed.Status, err error) {
	s := mapStatus(st)
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	prev := l.status
	l.status = s
	l.err = err
	l.mu.Unlock()

	if prev != s {
		if err != nil {
			l.log.Warn("change feed status", "status", s, "error", err)
		} else {
			l.log.Info("change feed status", "status", s)
		}
	}
}

func mapStatus(st changefeed.Status) Status {
	switch st {
	case changefeed.StatusConnecting:
		return StatusConnecting
	case changefeed.StatusSubscribed:
		return StatusSubscribed
	case changefeed.StatusTimedOut:
		return StatusTimedOut
	case changefeed.StatusClosed:
		return StatusClosed
	default:
		return StatusError
	}
}
