package changefeed

import (
	"context"
	"sync"

	"github.com/campus-carpool/rides-api/internal/ports/out/changefeed"
)

const eventBuffer = 64

// Broker is an in-process fan-out implementation of changefeed.Feed.
// Producers call Publish and ReportStatus; every subscription receives events for
// its table on its own goroutine, in publish order.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	status changefeed.Status
	err    error
}

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[*subscription]struct{}),
		status: changefeed.StatusSubscribed,
	}
}

type subscription struct {
	b     *Broker
	table string
	h     changefeed.Handlers

	events chan changefeed.Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// mu serializes status callbacks with Close.
	mu     sync.Mutex
	closed bool
}

func (b *Broker) Subscribe(ctx context.Context, table string, h changefeed.Handlers) (changefeed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{
		b:      b,
		table:  table,
		h:      h,
		events: make(chan changefeed.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	s.status(changefeed.StatusConnecting, nil)

	b.mu.Lock()
	b.subs[s] = struct{}{}
	status, err := b.status, b.err
	b.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	s.status(status, err)
	return s, nil
}

// Publish delivers ev to every subscription on ev.Table. Delivery never blocks the
// producer: when a subscriber's buffer is full the event is dropped, since the
// queued events already cause a full reload.
func (b *Broker) Publish(ev changefeed.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.table != ev.Table {
			continue
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

// ReportStatus records the upstream connection status and forwards it to every subscription.
func (b *Broker) ReportStatus(status changefeed.Status, err error) {
	b.mu.Lock()
	b.status, b.err = status, err
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.status(status, err)
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *subscription) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			if s.h.OnEvent != nil {
				s.h.OnEvent(ev)
			}
		}
	}
}

func (s *subscription) status(st changefeed.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.h.OnStatus == nil {
		return
	}
	s.h.OnStatus(st, err)
}

// Close must not be called from inside the subscription's own OnEvent handler.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.wg.Wait()
	})
	return nil
}
