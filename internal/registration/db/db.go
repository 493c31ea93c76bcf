package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("registration not found")

type DB struct {
	Bun *bun.DB
}

// GetByID → fetch one registration by its ID
func (d *DB) GetByID(ctx context.Context, id string) (*models.Registration, error) {
	var reg models.Registration
	err := d.Bun.NewSelect().
		Model(&reg).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// GetByToken → resolve an access token to its registration
func (d *DB) GetByToken(ctx context.Context, token string) (*models.Registration, error) {
	var reg models.Registration
	err := d.Bun.NewSelect().
		Model(&reg).
		Where("token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// GetActiveBySlotPhone → the non-cancelled registration for a (slot, phone)
// pair, if any. Drives the already-registered short-circuit.
func (d *DB) GetActiveBySlotPhone(ctx context.Context, slotID, phone string) (*models.Registration, error) {
	var reg models.Registration
	err := d.Bun.NewSelect().
		Model(&reg).
		Where("slot_id = ?", slotID).
		Where("phone = ?", phone).
		Where("status != ?", models.StatusCancelled).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// ListByEvent → every registration in an event scope, most recent first
func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.Registration, error) {
	var regs []models.Registration
	err := d.Bun.NewSelect().
		Model(&regs).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// MarkVerified → promote a registration after a successful OTP check
func (d *DB) MarkVerified(ctx context.Context, id string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("verified = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkArrived flips registered → arrived. The status guard in the WHERE
// clause makes a re-scan of an already-arrived guest a no-op: arrived_at is
// written exactly once.
func (d *DB) MarkArrived(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("status = ?", models.StatusArrived).
		Set("arrived_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.StatusRegistered).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// UndoArrival reverts arrived → registered and clears the arrival timestamp.
func (d *DB) UndoArrival(ctx context.Context, id string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Registration)(nil)).
		Set("status = ?", models.StatusRegistered).
		Set("arrived_at = NULL").
		Where("id = ?", id).
		Where("status = ?", models.StatusArrived).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
