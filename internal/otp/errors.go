package otp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no SMS gateway is wired up. Callers treat this
	// as "skip verification", not as a failure.
	ErrNotConfigured = errors.New("sms gateway not configured")

	// ErrRateLimited covers both the per-phone send window and the resend
	// cooldown.
	ErrRateLimited = errors.New("otp send rate limited")

	// ErrExpired covers past-expiry, already-consumed and missing challenges.
	ErrExpired = errors.New("otp challenge expired")

	// ErrBlocked means the challenge has no attempts left; even the correct
	// code fails from here on.
	ErrBlocked = errors.New("otp challenge blocked")
)

// InvalidCodeError reports a code mismatch together with how many attempts
// the challenge still has.
type InvalidCodeError struct {
	AttemptsRemaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid otp code, %d attempts remaining", e.AttemptsRemaining)
}
