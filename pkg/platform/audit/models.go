// Package audit records security and compliance relevant account events.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers account lifecycle changes that must be retained.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers authentication outcomes and integrity alerts.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine token activity.
	CategoryOperations EventCategory = "operations"
)

type Action string

const (
	ActionUserCreated          Action = "user_created"
	ActionEmailVerified        Action = "email_verified"
	ActionLoginSucceeded       Action = "login_succeeded"
	ActionLoginFailed          Action = "login_failed"
	ActionTokenRefreshed       Action = "token_refreshed"
	ActionLogout               Action = "logout"
	ActionOAuthLinked          Action = "oauth_linked"
	ActionOAuthUserCreated     Action = "oauth_user_created"
	ActionOAuthReused          Action = "oauth_reused"
	ActionOAuthUnlinked        Action = "oauth_unlinked"
	ActionOrphanedLinkDetected Action = "orphaned_link_detected"
)

var actionCategories = map[Action]EventCategory{
	ActionUserCreated:      CategoryCompliance,
	ActionEmailVerified:    CategoryCompliance,
	ActionOAuthUserCreated: CategoryCompliance,
	ActionOAuthLinked:      CategoryCompliance,
	ActionOAuthUnlinked:    CategoryCompliance,

	ActionLoginSucceeded:       CategorySecurity,
	ActionLoginFailed:          CategorySecurity,
	ActionLogout:               CategorySecurity,
	ActionOrphanedLinkDetected: CategorySecurity,

	ActionTokenRefreshed: CategoryOperations,
	ActionOAuthReused:    CategoryOperations,
}

// Category returns the category for a. Unknown actions are operations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from the auth flows. UserID is zero when no account is
// known, e.g. a failed login for an unknown email.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	UserID    int64
	Subject   string
	Action    Action
	Reason    string
	IP        string
	Device    string
	RequestID string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID int64) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Normalize fills the id, category and timestamp when they are unset.
func Normalize(e Event, now time.Time) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return e
}
