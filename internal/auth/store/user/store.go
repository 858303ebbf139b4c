// Package user persists local accounts.
package user

// Unique fields reported through sentinel.UniqueViolation.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldUUID     = "uuid"
)
