package capacity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/uptrace/bun"
)

var (
	ErrSlotNotFound           = errors.New("slot not found")
	ErrPhoneAlreadyRegistered = errors.New("phone already registered for this slot")
	ErrRegistrationNotFound   = errors.New("registration not found")
)

// CapacityExceededError carries how many seats are still free so the caller
// can offer the registrant a smaller party or a different slot.
type CapacityExceededError struct {
	Available int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d seats available", e.Available)
}

// Ledger owns the slot registered-count accounting. Admission and release run
// as single transactions so that two concurrent registrations can never
// jointly overbook a slot: the duplicate-phone check, the conditional counter
// increment and the registration insert commit or roll back together.
type Ledger struct {
	Bun *bun.DB
}

func NewLedger(db *bun.DB) *Ledger {
	return &Ledger{Bun: db}
}

// Reserve admits reg into its slot and persists it, or rejects with
// ErrPhoneAlreadyRegistered / CapacityExceededError / ErrSlotNotFound.
func (l *Ledger) Reserve(ctx context.Context, reg *models.Registration) error {
	return l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Registration)(nil)).
			Where("slot_id = ?", reg.SlotID).
			Where("phone = ?", reg.Phone).
			Where("status != ?", models.StatusCancelled).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("duplicate check for slot %s: %w", reg.SlotID, err)
		}
		if exists {
			return ErrPhoneAlreadyRegistered
		}

		// The capacity guard lives inside the UPDATE itself. A plain
		// read-then-write here would let two concurrent reserves both pass
		// the read and jointly overbook the slot.
		res, err := tx.NewUpdate().
			Model((*models.Slot)(nil)).
			Set("registered_count = registered_count + ?", reg.GuestCount).
			Where("id = ?", reg.SlotID).
			Where("event_id = ?", reg.EventID).
			Where("(capacity = 0 OR registered_count + ? <= capacity)", reg.GuestCount).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("increment slot %s: %w", reg.SlotID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return l.classifyRejection(ctx, tx, reg.EventID, reg.SlotID)
		}

		if _, err := tx.NewInsert().Model(reg).Exec(ctx); err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
		return nil
	})
}

// classifyRejection distinguishes a missing slot from a full one after the
// conditional increment matched no row.
func (l *Ledger) classifyRejection(ctx context.Context, tx bun.Tx, eventID, slotID string) error {
	var slot models.Slot
	err := tx.NewSelect().
		Model(&slot).
		Where("id = ?", slotID).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("read slot %s: %w", slotID, err)
	}

	available := slot.Capacity - slot.RegisteredCount
	if available < 0 {
		available = 0
	}
	return &CapacityExceededError{Available: available}
}

// Release cancels a registration and frees its seats in the same transaction.
// Cancellation is terminal; releasing an already-cancelled registration is a
// no-op that reports ErrRegistrationNotFound.
func (l *Ledger) Release(ctx context.Context, registrationID string) (*models.Registration, error) {
	var reg models.Registration
	err := l.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&reg).
			Where("id = ?", registrationID).
			Where("status != ?", models.StatusCancelled).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRegistrationNotFound
			}
			return fmt.Errorf("read registration %s: %w", registrationID, err)
		}

		reg.Status = models.StatusCancelled
		_, err = tx.NewUpdate().
			Model(&reg).
			Column("status").
			Where("id = ?", reg.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("cancel registration %s: %w", registrationID, err)
		}

		_, err = tx.NewUpdate().
			Model((*models.Slot)(nil)).
			Set("registered_count = registered_count - ?", reg.GuestCount).
			Where("id = ?", reg.SlotID).
			Where("registered_count >= ?", reg.GuestCount).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("decrement slot %s: %w", reg.SlotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// SlotAvailability returns the remaining free seats for a slot (-1 for
// unlimited slots).
func (l *Ledger) SlotAvailability(ctx context.Context, eventID, slotID string) (int, error) {
	var slot models.Slot
	err := l.Bun.NewSelect().
		Model(&slot).
		Where("id = ?", slotID).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSlotNotFound
		}
		return 0, err
	}
	if slot.Capacity == 0 {
		return -1, nil
	}
	available := slot.Capacity - slot.RegisteredCount
	if available < 0 {
		available = 0
	}
	return available, nil
}
