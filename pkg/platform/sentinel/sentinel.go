package sentinel

import (
	"errors"
	"fmt"
)

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist (or is soft-deleted)
//   - ErrAlreadyUsed: a unique constraint rejected the write
//   - ErrInvalidState: caller asked for something the record cannot do
//   - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

// UniqueViolation names the field whose uniqueness constraint was hit.
// It unwraps to ErrAlreadyUsed.
type UniqueViolation struct {
	Field string
}

func (u *UniqueViolation) Error() string {
	return fmt.Sprintf("%s %s", u.Field, ErrAlreadyUsed)
}

func (u *UniqueViolation) Unwrap() error { return ErrAlreadyUsed }

// NewUniqueViolation returns an error for a duplicate value of field.
func NewUniqueViolation(field string) error {
	return &UniqueViolation{Field: field}
}

// IsUniqueViolation reports whether err is a unique violation on field.
func IsUniqueViolation(err error, field string) bool {
	var uv *UniqueViolation
	if errors.As(err, &uv) {
		return uv.Field == field
	}
	return false
}
