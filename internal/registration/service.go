package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	regdb "github.com/Ranidpz/qrinfo-sub004/internal/registration/db"
	"github.com/Ranidpz/qrinfo-sub004/internal/utils"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid registration input")
	ErrNotFound     = errors.New("registration not found")
)

type DBLayer interface {
	GetByID(ctx context.Context, id string) (*models.Registration, error)
	GetActiveBySlotPhone(ctx context.Context, slotID, phone string) (*models.Registration, error)
	MarkVerified(ctx context.Context, id string) error
}

type Ledger interface {
	Reserve(ctx context.Context, reg *models.Registration) error
	Release(ctx context.Context, registrationID string) (*models.Registration, error)
}

type OtpService interface {
	Send(ctx context.Context, registrationID, phone string) error
	Verify(ctx context.Context, registrationID, phone, code string) error
}

type KafkaPublisher interface {
	PublishGuestRegistered(reg models.Registration) error
	PublishGuestVerified(reg models.Registration) error
	PublishGuestCancelled(reg models.Registration) error
}

type RosterNotifier interface {
	NotifyChange(ctx context.Context, eventID string)
}

type Service struct {
	DB       DBLayer
	Ledger   Ledger
	Otp      OtpService
	Kafka    KafkaPublisher
	Notifier RosterNotifier
	Logger   *logger.Logger
}

func NewService(db DBLayer, ledger Ledger, otpSvc OtpService, kafka KafkaPublisher, notifier RosterNotifier, log *logger.Logger) *Service {
	return &Service{DB: db, Ledger: ledger, Otp: otpSvc, Kafka: kafka, Notifier: notifier, Logger: log}
}

// NormalizePhone reduces a phone number to E.164-ish canonical form: digits
// plus a single leading +, with a 00 prefix rewritten to +.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, c := range strings.TrimSpace(raw) {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		} else if c == '+' && b.Len() == 0 {
			b.WriteRune(c)
		}
	}
	s := b.String()
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return s
}

// Register handles a register-intent: validate, admit through the capacity
// ledger and persist atomically, then announce the new guest.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.Registration, error) {
	req.Phone = NormalizePhone(req.Phone)
	if req.Name == "" || req.Phone == "" || req.SlotID == "" || req.EventID == "" {
		return nil, ErrInvalidInput
	}
	if req.Count < 1 || req.Count > models.MaxGuestCount {
		return nil, ErrInvalidInput
	}

	reg := &models.Registration{
		ID:         uuid.NewString(),
		EventID:    req.EventID,
		SlotID:     req.SlotID,
		Name:       req.Name,
		Phone:      req.Phone,
		GuestCount: req.Count,
		AvatarURL:  req.AvatarURL,
		Token:      utils.GenerateAccessToken(),
		Status:     models.StatusRegistered,
		CreatedAt:  time.Now(),
	}

	if err := s.Ledger.Reserve(ctx, reg); err != nil {
		return nil, err
	}

	if err := s.Kafka.PublishGuestRegistered(*reg); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish guest registered: %v", err))
	}
	s.Notifier.NotifyChange(ctx, reg.EventID)
	return reg, nil
}

// ActiveSummary returns the already-registered short-circuit summary for a
// (slot, phone) pair, or ErrNotFound when the pair holds no active
// registration and the regular form flow should run.
func (s *Service) ActiveSummary(ctx context.Context, slotID, phone string) (*models.RegistrationSummary, error) {
	reg, err := s.DB.GetActiveBySlotPhone(ctx, slotID, NormalizePhone(phone))
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &models.RegistrationSummary{
		RegistrationID:    reg.ID,
		Name:              reg.Name,
		GuestCount:        reg.GuestCount,
		Verified:          reg.Verified,
		Token:             reg.Token,
		AlreadyRegistered: true,
	}, nil
}

// SendOtp requests a fresh challenge for the registration's phone. The
// ErrNotConfigured outcome passes through untouched; the flow treats it as
// "complete without verification".
func (s *Service) SendOtp(ctx context.Context, registrationID string) error {
	reg, err := s.DB.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return s.Otp.Send(ctx, reg.ID, reg.Phone)
}

// VerifyOtp checks the submitted code and, on success, promotes the
// registration to verified and hands back its access token.
func (s *Service) VerifyOtp(ctx context.Context, registrationID, phone, code string) (string, error) {
	reg, err := s.DB.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, regdb.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if err := s.Otp.Verify(ctx, reg.ID, NormalizePhone(phone), code); err != nil {
		return "", err
	}
	if err := s.DB.MarkVerified(ctx, reg.ID); err != nil {
		return "", fmt.Errorf("promote registration %s: %w", reg.ID, err)
	}
	reg.Verified = true

	if err := s.Kafka.PublishGuestVerified(*reg); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish guest verified: %v", err))
	}
	s.Notifier.NotifyChange(ctx, reg.EventID)
	return reg.Token, nil
}

// Cancel unregisters: the ledger marks the registration cancelled and frees
// its seats in one transaction.
func (s *Service) Cancel(ctx context.Context, registrationID string) error {
	reg, err := s.Ledger.Release(ctx, registrationID)
	if err != nil {
		if errors.Is(err, capacity.ErrRegistrationNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.Kafka.PublishGuestCancelled(*reg); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish guest cancelled: %v", err))
	}
	s.Notifier.NotifyChange(ctx, reg.EventID)
	return nil
}
