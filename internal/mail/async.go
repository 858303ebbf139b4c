package mail

import (
	"context"
	"log/slog"
	"time"
)

// ResultCounter records dispatch outcomes ("sent", "failed", "dropped").
type ResultCounter interface {
	IncrementMailDispatch(result string)
}

type job struct {
	to   string
	link string
}

// AsyncDispatcher queues messages in a bounded buffer and delivers them from
// Run, so registration never waits on the mail backend.
type AsyncDispatcher struct {
	next    Dispatcher
	queue   chan job
	logger  *slog.Logger
	counter ResultCounter
	timeout time.Duration
}

type AsyncOption func(*AsyncDispatcher)

func WithLogger(logger *slog.Logger) AsyncOption {
	return func(d *AsyncDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithResultCounter(c ResultCounter) AsyncOption {
	return func(d *AsyncDispatcher) {
		d.counter = c
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(timeout time.Duration) AsyncOption {
	return func(d *AsyncDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func NewAsyncDispatcher(next Dispatcher, queueSize int, opts ...AsyncOption) *AsyncDispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &AsyncDispatcher{
		next:    next,
		queue:   make(chan job, queueSize),
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendVerificationEmail enqueues without blocking.
func (d *AsyncDispatcher) SendVerificationEmail(_ context.Context, to, link string) error {
	select {
	case d.queue <- job{to: to, link: link}:
		return nil
	default:
		d.count("dropped")
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is done. Messages still queued at
// shutdown are delivered with a fresh bounded context.
func (d *AsyncDispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *AsyncDispatcher) drain() {
	for {
		select {
		case j := <-d.queue:
			d.deliver(context.Background(), j)
		default:
			return
		}
	}
}

func (d *AsyncDispatcher) deliver(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.next.SendVerificationEmail(ctx, j.to, j.link); err != nil {
		d.count("failed")
		d.logger.WarnContext(ctx, "verification email delivery failed",
			"error", err,
			"to", j.to,
		)
		return
	}
	d.count("sent")
}

func (d *AsyncDispatcher) count(result string) {
	if d.counter != nil {
		d.counter.IncrementMailDispatch(result)
	}
}
