package models

import (
	"time"

	"github.com/uptrace/bun"
)

// OtpAttemptLimit is how many failed verifies a challenge survives before it
// is blocked outright.
const OtpAttemptLimit = 5

type OtpChallenge struct {
	bun.BaseModel `bun:"table:otp_challenges"`

	RegistrationID string    `bun:"registration_id,pk"`
	Phone          string    `bun:"phone,notnull"`
	Code           string    `bun:"code,notnull"`
	ExpiresAt      time.Time `bun:"expires_at,notnull"`
	AttemptsLeft   int       `bun:"attempts_left,notnull"`
	Consumed       bool      `bun:"consumed"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

type OtpSendRequest struct {
	Action         string `json:"action"`
	RegistrationID string `json:"registrationId"`
	Phone          string `json:"phone"`
}

type OtpVerifyRequest struct {
	Action         string `json:"action"`
	RegistrationID string `json:"registrationId"`
	Phone          string `json:"phone"`
	Code           string `json:"code"`
}

type OtpVerifyResponse struct {
	Success bool   `json:"success"`
	QRToken string `json:"qrToken,omitempty"`
}
