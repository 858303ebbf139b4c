// Package publisher decouples audit emission from persistence. Emit never
// blocks the request path; a single Run loop writes events to the store.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"authgate/pkg/platform/audit"
)

const defaultBufferSize = 1024

// DropCounter is told about every event discarded because the buffer was full.
type DropCounter interface {
	IncrementAuditDropped()
}

type Publisher struct {
	store   audit.Store
	events  chan audit.Event
	logger  *slog.Logger
	dropped DropCounter
	clock   func() time.Time
}

type Option func(*Publisher)

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.events = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithDropCounter(c DropCounter) Option {
	return func(p *Publisher) {
		p.dropped = c
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		events: make(chan audit.Event, defaultBufferSize),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit queues event. It returns false when the buffer is full and the event
// was dropped.
func (p *Publisher) Emit(_ context.Context, event audit.Event) bool {
	event = audit.Normalize(event, p.clock())
	select {
	case p.events <- event:
		return true
	default:
		if p.dropped != nil {
			p.dropped.IncrementAuditDropped()
		}
		p.logger.Warn("audit buffer full, event dropped",
			"action", string(event.Action),
			"user_id", event.UserID,
		)
		return false
	}
}

// Run persists queued events until ctx is done, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case event := <-p.events:
			p.persist(ctx, event)
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-p.events:
			p.persist(ctx, event)
		default:
			return
		}
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"error", err,
			"action", string(event.Action),
			"event_id", event.ID.String(),
		)
	}
}
