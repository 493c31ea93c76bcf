package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/utils"
)

type ChallengeStore interface {
	Replace(ctx context.Context, ch *models.OtpChallenge) error
	Consume(ctx context.Context, registrationID, phone, code string) error
}

type Limiter interface {
	AllowSend(ctx context.Context, phone, registrationID string) (bool, error)
}

// Service issues and verifies one-time codes for registrations.
type Service struct {
	Store   ChallengeStore
	Gateway Gateway
	Limiter Limiter
	TTL     time.Duration
}

func NewService(store ChallengeStore, gateway Gateway, limiter Limiter, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{Store: store, Gateway: gateway, Limiter: limiter, TTL: ttl}
}

// Send generates a fresh 4-digit challenge, stores it (invalidating any prior
// challenge for the registration) and dispatches it via the gateway.
//
// Returns ErrNotConfigured when no gateway is wired (callers skip
// verification), ErrRateLimited when the cooldown or send window blocks the
// dispatch.
func (s *Service) Send(ctx context.Context, registrationID, phone string) error {
	if s.Gateway == nil || !s.Gateway.Configured() {
		return ErrNotConfigured
	}

	allowed, err := s.Limiter.AllowSend(ctx, phone, registrationID)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return ErrRateLimited
	}

	now := time.Now()
	ch := &models.OtpChallenge{
		RegistrationID: registrationID,
		Phone:          phone,
		Code:           utils.GenerateOtpCode(),
		ExpiresAt:      now.Add(s.TTL),
		AttemptsLeft:   models.OtpAttemptLimit,
		CreatedAt:      now,
	}
	if err := s.Store.Replace(ctx, ch); err != nil {
		return err
	}

	if err := s.Gateway.SendCode(ctx, phone, ch.Code); err != nil {
		return fmt.Errorf("dispatch code to %s: %w", phone, err)
	}
	return nil
}

// Verify checks code against the active challenge. nil means the challenge
// was consumed; otherwise one of ErrExpired, ErrBlocked or *InvalidCodeError.
func (s *Service) Verify(ctx context.Context, registrationID, phone, code string) error {
	return s.Store.Consume(ctx, registrationID, phone, code)
}
