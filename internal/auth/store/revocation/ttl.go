// Package revocation holds the refresh-token denylist. A revoked jti stays
// listed until the token it names would have expired anyway.
package revocation

import (
	"fmt"
	"time"

	"authgate/pkg/platform/sentinel"
)

func validateRevocation(jti string, ttl time.Duration) error {
	if jti == "" {
		return fmt.Errorf("jti is required: %w", sentinel.ErrInvalidState)
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
