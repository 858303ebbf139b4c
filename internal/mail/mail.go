// Package mail delivers verification links. Delivery is best effort: callers
// log failures and carry on.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

//go:generate mockgen -source=mail.go -destination=mocks/mocks.go -package=mocks Dispatcher

// Dispatcher sends a verification link to an address.
type Dispatcher interface {
	SendVerificationEmail(ctx context.Context, to, link string) error
}

// ErrQueueFull is returned by AsyncDispatcher when its buffer is full.
var ErrQueueFull = errors.New("mail queue full")

// Message is the payload handed to the mail pipeline.
type Message struct {
	Type     string    `json:"type"`
	To       string    `json:"to"`
	Link     string    `json:"link"`
	QueuedAt time.Time `json:"queued_at"`
}

const TypeVerifyEmail = "verify_email"

// LogDispatcher writes the message to the log instead of sending it. It is
// the default in development.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) SendVerificationEmail(ctx context.Context, to, link string) error {
	d.logger.InfoContext(ctx, "verification email",
		"to", to,
		"link", link,
	)
	return nil
}
