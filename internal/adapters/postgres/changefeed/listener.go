package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/campus-carpool/rides-api/internal/adapters/postgres"
	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
)

// Sink receives decoded notifications and connection status. The in-process
// broker in adapters/memory/changefeed satisfies it.
type Sink interface {
	Publish(ev changefeed.Event)
	ReportStatus(status changefeed.Status, err error)
}

// Listener holds one LISTEN connection on the rides channel and relays every
// notification to a Sink, reconnecting with backoff when the connection drops.
type Listener struct {
	pool    *pgxpool.Pool
	sink    Sink
	log     *slog.Logger
	channel string

	minBackoff time.Duration
	maxBackoff time.Duration

	// connect and after default to listen and time.After.
	connect func(ctx context.Context) (subscribed bool, err error)
	after   func(d time.Duration) <-chan time.Time
}

func NewListener(pool *pgxpool.Pool, sink Sink, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		pool:       pool,
		sink:       sink,
		log:        log,
		channel:    postgres.ChangesChannel,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		after:      time.After,
	}
}

type payload struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// Run blocks until ctx is done. It reports CLOSED on return.
func (l *Listener) Run(ctx context.Context) error {
	connect := l.connect
	if connect == nil {
		if l.pool == nil {
			return errors.New("nil postgres pool")
		}
		connect = l.listen
	}
	after := l.after
	if after == nil {
		after = time.After
	}
	backoff := l.minBackoff
	for {
		l.sink.ReportStatus(changefeed.StatusConnecting, nil)
		subscribed, err := connect(ctx)
		if ctx.Err() != nil {
			l.sink.ReportStatus(changefeed.StatusClosed, nil)
			return nil
		}
		if subscribed {
			backoff = l.minBackoff
		}
		status := changefeed.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = changefeed.StatusTimedOut
		}
		l.log.Warn("change feed connection lost", "channel", l.channel, "error", err, "retryIn", backoff.String())
		l.sink.ReportStatus(status, err)

		select {
		case <-ctx.Done():
			l.sink.ReportStatus(changefeed.StatusClosed, nil)
			return nil
		case <-after(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// listen reports whether LISTEN succeeded before the connection ended.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		return false, err
	}
	l.sink.ReportStatus(changefeed.StatusSubscribed, nil)
	l.log.Info("change feed subscribed", "channel", l.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		ev, err := decode(n.Payload)
		if err != nil {
			l.log.Warn("change feed payload ignored", "payload", n.Payload, "error", err)
			continue
		}
		l.sink.Publish(ev)
	}
}

func decode(raw string) (changefeed.Event, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return changefeed.Event{}, err
	}
	if p.Table == "" {
		return changefeed.Event{}, errors.New("missing table")
	}
	op := changefeed.Op(p.Op)
	switch op {
	case changefeed.OpInsert, changefeed.OpUpdate, changefeed.OpDelete:
	default:
		return changefeed.Event{}, errors.New("unknown op " + p.Op)
	}
	return changefeed.Event{Table: p.Table, Op: op, RecordID: p.ID}, nil
}
