package changefeed

import "context"

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is a row-level change notification. RecordID may be empty when the
// source does not carry it.
type Event struct {
	Table    string
	Op       Op
	RecordID string
}

// Status is the lifecycle of a subscription as reported by the feed.
type Status string

const (
	StatusConnecting Status = "CONNECTING"
	StatusSubscribed Status = "SUBSCRIBED"
	StatusError      Status = "CHANNEL_ERROR"
	StatusTimedOut   Status = "TIMED_OUT"
	StatusClosed     Status = "CLOSED"
)

// Handlers receive feed callbacks. Either field may be nil.
type Handlers struct {
	OnEvent  func(Event)
	OnStatus func(Status, error)
}

// Subscription is an active feed registration.
type Subscription interface {
	// Close stops delivery. After Close returns no handler is invoked again.
	Close() error
}

// Feed delivers change notifications for a table.
type Feed interface {
	Subscribe(ctx context.Context, table string, h Handlers) (Subscription, error)
}
