package models

import "time"

// Lifecycle carries the timestamp and soft-delete bookkeeping shared by every
// persisted entity. It is a plain value: the helpers below return updated
// copies and never mutate their argument.
type Lifecycle struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	IsDeleted bool
}

// NewLifecycle starts a lifecycle at now.
func NewLifecycle(now time.Time) Lifecycle {
	return Lifecycle{CreatedAt: now, UpdatedAt: now}
}

// Touch records a modification at now.
func Touch(l Lifecycle, now time.Time) Lifecycle {
	l.UpdatedAt = now
	return l
}

// MarkDeleted soft-deletes. Deleting twice keeps the first deletion time.
func MarkDeleted(l Lifecycle, now time.Time) Lifecycle {
	if l.IsDeleted {
		return l
	}
	deletedAt := now
	l.DeletedAt = &deletedAt
	l.IsDeleted = true
	l.UpdatedAt = now
	return l
}

// Restore undoes a soft delete.
func Restore(l Lifecycle, now time.Time) Lifecycle {
	if !l.IsDeleted {
		return l
	}
	l.DeletedAt = nil
	l.IsDeleted = false
	l.UpdatedAt = now
	return l
}
