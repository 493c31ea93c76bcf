package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	regdb "github.com/Ranidpz/qrinfo-sub004/internal/registration/db"
)

var (
	// ErrNotFound covers unknown tokens and cancelled registrations; the
	// operator sees "no such registrant" either way.
	ErrNotFound = errors.New("guest not found")

	ErrNotArrived = errors.New("guest has not arrived")
)

type DBLayer interface {
	GetByToken(ctx context.Context, token string) (*models.Registration, error)
	GetByID(ctx context.Context, id string) (*models.Registration, error)
	MarkArrived(ctx context.Context, id string, at time.Time) (bool, error)
	UndoArrival(ctx context.Context, id string) (bool, error)
}

type KafkaPublisher interface {
	PublishGuestArrived(reg models.Registration) error
	PublishGuestArrivalUndone(reg models.Registration) error
}

type RosterNotifier interface {
	NotifyChange(ctx context.Context, eventID string)
}

type Service struct {
	DB       DBLayer
	Kafka    KafkaPublisher
	Notifier RosterNotifier
	Logger   *logger.Logger
}

func NewService(db DBLayer, kafka KafkaPublisher, notifier RosterNotifier, log *logger.Logger) *Service {
	return &Service{DB: db, Kafka: kafka, Notifier: notifier, Logger: log}
}

func guestOf(reg *models.Registration) models.Guest {
	return models.Guest{
		RegistrationID: reg.ID,
		Name:           reg.Name,
		GuestCount:     reg.GuestCount,
		Verified:       reg.Verified,
	}
}

// Checkin resolves token to a registration and flips it to arrived. The call
// is idempotent: re-scanning an already-arrived guest reports
// AlreadyArrived=true and leaves the original arrival timestamp untouched.
func (s *Service) Checkin(ctx context.Context, token string) (*models.CheckinResult, error) {
	reg, err := s.DB.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reg.Status == models.StatusCancelled {
		return nil, ErrNotFound
	}

	return s.arrive(ctx, reg)
}

// CheckinByID drives the same arrival transition from the guest list, for
// operators checking in a walk-up without scanning.
func (s *Service) CheckinByID(ctx context.Context, registrationID string) (*models.CheckinResult, error) {
	reg, err := s.DB.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reg.Status == models.StatusCancelled {
		return nil, ErrNotFound
	}

	return s.arrive(ctx, reg)
}

func (s *Service) arrive(ctx context.Context, reg *models.Registration) (*models.CheckinResult, error) {
	now := time.Now()
	flipped, err := s.DB.MarkArrived(ctx, reg.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark arrived %s: %w", reg.ID, err)
	}
	if !flipped {
		// Already arrived (possibly via a concurrent scan). Re-read for the
		// original arrival timestamp and report without mutating anything.
		current, err := s.DB.GetByID(ctx, reg.ID)
		if err != nil {
			return nil, err
		}
		return &models.CheckinResult{
			Guest:          guestOf(current),
			AlreadyArrived: true,
			CheckedInAt:    current.ArrivedAt,
		}, nil
	}

	reg.Status = models.StatusArrived
	reg.ArrivedAt = &now
	if err := s.Kafka.PublishGuestArrived(*reg); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish guest arrived: %v", err))
	}
	s.Notifier.NotifyChange(ctx, reg.EventID)

	return &models.CheckinResult{
		Guest:          guestOf(reg),
		AlreadyArrived: false,
		CheckedInAt:    &now,
	}, nil
}

// Undo reverts a check-in back to registered. This is a compensating action
// against a completed arrival, not a rollback of an in-flight one.
func (s *Service) Undo(ctx context.Context, token string) error {
	reg, err := s.DB.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	reverted, err := s.DB.UndoArrival(ctx, reg.ID)
	if err != nil {
		return fmt.Errorf("undo arrival %s: %w", reg.ID, err)
	}
	if !reverted {
		return ErrNotArrived
	}

	reg.Status = models.StatusRegistered
	reg.ArrivedAt = nil
	if err := s.Kafka.PublishGuestArrivalUndone(*reg); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish arrival undone: %v", err))
	}
	s.Notifier.NotifyChange(ctx, reg.EventID)
	return nil
}

// ToggleArrival flips a guest between registered and arrived from the roster
// list view.
func (s *Service) ToggleArrival(ctx context.Context, registrationID string) (*models.CheckinResult, error) {
	reg, err := s.DB.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reg.Status == models.StatusArrived {
		if err := s.Undo(ctx, reg.Token); err != nil {
			return nil, err
		}
		reg.Status = models.StatusRegistered
		reg.ArrivedAt = nil
		return &models.CheckinResult{Guest: guestOf(reg)}, nil
	}
	return s.CheckinByID(ctx, registrationID)
}
