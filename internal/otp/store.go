package otp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/uptrace/bun"
)

// Store persists one challenge per registration. A new send replaces the old
// row outright, so a previously issued code can never verify again.
type Store struct {
	Bun *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{Bun: db}
}

// Replace upserts the challenge for ch.RegistrationID, invalidating whatever
// challenge was stored before.
func (s *Store) Replace(ctx context.Context, ch *models.OtpChallenge) error {
	_, err := s.Bun.NewInsert().
		Model(ch).
		On("CONFLICT (registration_id) DO UPDATE").
		Set("phone = EXCLUDED.phone").
		Set("code = EXCLUDED.code").
		Set("expires_at = EXCLUDED.expires_at").
		Set("attempts_left = EXCLUDED.attempts_left").
		Set("consumed = EXCLUDED.consumed").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("replace challenge for %s: %w", ch.RegistrationID, err)
	}
	return nil
}

// Consume validates code against the stored challenge. The happy path is a
// single conditional UPDATE, so two concurrent verifies of a correct code
// cannot both win, and a wrong code is charged exactly one attempt.
func (s *Store) Consume(ctx context.Context, registrationID, phone, code string) error {
	now := time.Now()

	res, err := s.Bun.NewUpdate().
		Model((*models.OtpChallenge)(nil)).
		Set("consumed = ?", true).
		Where("registration_id = ?", registrationID).
		Where("phone = ?", phone).
		Where("code = ?", code).
		Where("consumed = ?", false).
		Where("attempts_left > 0").
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("consume challenge for %s: %w", registrationID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	return s.classifyFailure(ctx, registrationID, phone, now)
}

func (s *Store) classifyFailure(ctx context.Context, registrationID, phone string, now time.Time) error {
	var ch models.OtpChallenge
	err := s.Bun.NewSelect().
		Model(&ch).
		Where("registration_id = ?", registrationID).
		Where("phone = ?", phone).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrExpired
		}
		return fmt.Errorf("read challenge for %s: %w", registrationID, err)
	}

	if ch.Consumed || !ch.ExpiresAt.After(now) {
		return ErrExpired
	}
	if ch.AttemptsLeft <= 0 {
		return ErrBlocked
	}

	// Wrong code: charge one attempt. The attempts_left guard keeps racing
	// failed verifies from driving the counter below zero.
	var remaining int
	err = s.Bun.NewUpdate().
		Model((*models.OtpChallenge)(nil)).
		Set("attempts_left = attempts_left - 1").
		Where("registration_id = ?", registrationID).
		Where("attempts_left > 0").
		Returning("attempts_left").
		Scan(ctx, &remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Another failed verify exhausted the challenge in between
			return ErrBlocked
		}
		return fmt.Errorf("charge attempt for %s: %w", registrationID, err)
	}
	return &InvalidCodeError{AttemptsRemaining: remaining}
}
