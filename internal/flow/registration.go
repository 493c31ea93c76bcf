package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/otp"
	"github.com/Ranidpz/qrinfo-sub004/internal/registration"
)

// RegistrationState is the single current-state value of the sign-up machine.
type RegistrationState string

const (
	RegStateForm       RegistrationState = "form"
	RegStateSubmitting RegistrationState = "submitting"
	RegStateSendingOtp RegistrationState = "sending_otp"
	RegStateOtpInput   RegistrationState = "otp_input"
	RegStateSummary    RegistrationState = "already_registered"
	RegStateSuccess    RegistrationState = "success"
)

// RegistrationClient is the endpoint surface the sign-up flow drives. The
// registration service satisfies it directly for in-process wiring.
type RegistrationClient interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.Registration, error)
	ActiveSummary(ctx context.Context, slotID, phone string) (*models.RegistrationSummary, error)
	SendOtp(ctx context.Context, registrationID string) error
	VerifyOtp(ctx context.Context, registrationID, phone, code string) (string, error)
	Cancel(ctx context.Context, registrationID string) error
}

// RegistrationMachine drives form → submit → OTP → success for one guest
// session. Errors never dead-end the flow: every failure lands back on a
// screen the guest can act from.
type RegistrationMachine struct {
	client   RegistrationClient
	cooldown time.Duration
	now      func() time.Time

	mu                sync.Mutex
	state             RegistrationState
	busy              bool
	reg               *models.Registration
	summary           *models.RegistrationSummary
	token             string
	errMessage        string
	errCode           string
	attemptsRemaining int
	availableSlots    int
	lastSend          time.Time
}

func NewRegistrationMachine(client RegistrationClient, resendCooldown time.Duration) *RegistrationMachine {
	if resendCooldown <= 0 {
		resendCooldown = 60 * time.Second
	}
	return &RegistrationMachine{
		client:   client,
		cooldown: resendCooldown,
		now:      time.Now,
		state:    RegStateForm,
	}
}

func (m *RegistrationMachine) State() RegistrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the access token once the flow has reached success.
func (m *RegistrationMachine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Summary returns the existing-registration summary on the
// already-registered screen, nil elsewhere.
func (m *RegistrationMachine) Summary() *models.RegistrationSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// LastError returns the current screen's error message and code; empty when
// the last action succeeded.
func (m *RegistrationMachine) LastError() (message, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMessage, m.errCode
}

// AttemptsRemaining reports how many code attempts are left after the most
// recent rejected code.
func (m *RegistrationMachine) AttemptsRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptsRemaining
}

// AvailableSlots reports the remaining capacity surfaced by the most recent
// capacity rejection.
func (m *RegistrationMachine) AvailableSlots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableSlots
}

// Open primes the flow for a (slot, phone) pair. When the pair already holds
// an active registration the form is skipped and the flow lands on the
// summary screen.
func (m *RegistrationMachine) Open(ctx context.Context, slotID, phone string) {
	summary, err := m.client.ActiveSummary(ctx, slotID, phone)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil && summary != nil {
		m.state = RegStateSummary
		m.summary = summary
		return
	}
	m.state = RegStateForm
	m.summary = nil
}

// Submit sends the filled form. On success it immediately requests the first
// OTP; an unconfigured verification channel completes the flow unverified.
func (m *RegistrationMachine) Submit(ctx context.Context, req models.RegisterRequest) bool {
	m.mu.Lock()
	if m.state != RegStateForm || m.busy {
		m.mu.Unlock()
		return false
	}
	m.busy = true
	m.state = RegStateSubmitting
	m.clearErrorLocked()
	m.mu.Unlock()

	reg, err := m.client.Register(ctx, req)
	if err != nil {
		// Resolve the fallback summary before re-locking; client calls never
		// run under the mutex
		var summary *models.RegistrationSummary
		if errors.Is(err, capacity.ErrPhoneAlreadyRegistered) {
			summary, _ = m.client.ActiveSummary(ctx, req.SlotID, req.Phone)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		m.busy = false
		m.state = RegStateForm

		var capErr *capacity.CapacityExceededError
		switch {
		case errors.As(err, &capErr):
			m.errMessage = "Not enough places left"
			m.errCode = "CAPACITY_EXCEEDED"
			m.availableSlots = capErr.Available
		case errors.Is(err, capacity.ErrPhoneAlreadyRegistered):
			// Race with another device: fall back to the summary screen
			if summary != nil {
				m.state = RegStateSummary
				m.summary = summary
			} else {
				m.errMessage = "Phone already registered"
				m.errCode = "ALREADY_REGISTERED"
			}
		case errors.Is(err, registration.ErrInvalidInput):
			m.errMessage = "Please check the form and try again"
			m.errCode = "INVALID_INPUT"
		default:
			m.errMessage = "Could not submit, please try again"
			m.errCode = "UNAVAILABLE"
		}
		return true
	}

	m.mu.Lock()
	m.reg = reg
	m.state = RegStateSendingOtp
	m.mu.Unlock()

	m.sendCode(ctx, reg.ID, reg.Token)
	return true
}

// Resend requests a fresh code from the OTP screen. The client-side cooldown
// is checked first so rapid taps never reach the network.
func (m *RegistrationMachine) Resend(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != RegStateOtpInput || m.busy || m.reg == nil {
		m.mu.Unlock()
		return false
	}
	if m.now().Sub(m.lastSend) < m.cooldown {
		m.errMessage = "Please wait before requesting another code"
		m.errCode = "RATE_LIMITED"
		m.mu.Unlock()
		return false
	}
	m.busy = true
	m.state = RegStateSendingOtp
	m.clearErrorLocked()
	regID, token := m.reg.ID, m.reg.Token
	m.mu.Unlock()

	m.sendCode(ctx, regID, token)
	return true
}

// sendCode runs the shared send path out of submitting/resend. The machine
// is expected to be busy and in sending_otp when called.
func (m *RegistrationMachine) sendCode(ctx context.Context, registrationID, token string) {
	err := m.client.SendOtp(ctx, registrationID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false

	switch {
	case err == nil:
		m.state = RegStateOtpInput
		m.lastSend = m.now()
	case errors.Is(err, otp.ErrNotConfigured):
		// No verification channel: complete unverified with the pass token
		m.state = RegStateSuccess
		m.token = token
	case errors.Is(err, otp.ErrRateLimited):
		m.state = RegStateOtpInput
		m.errMessage = "Too many codes requested, try again later"
		m.errCode = "RATE_LIMITED"
	default:
		m.state = RegStateOtpInput
		m.errMessage = "Could not send the code, please resend"
		m.errCode = "SEND_FAILED"
	}
}

// SubmitCode verifies the guest-entered code. Failures keep the flow on the
// OTP screen with a reason; only a verified code reaches success.
func (m *RegistrationMachine) SubmitCode(ctx context.Context, phone, code string) bool {
	m.mu.Lock()
	if m.state != RegStateOtpInput || m.busy || m.reg == nil {
		m.mu.Unlock()
		return false
	}
	m.busy = true
	m.clearErrorLocked()
	regID := m.reg.ID
	m.mu.Unlock()

	token, err := m.client.VerifyOtp(ctx, regID, phone, code)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false

	if err == nil {
		m.state = RegStateSuccess
		m.token = token
		return true
	}

	var invalid *otp.InvalidCodeError
	switch {
	case errors.As(err, &invalid):
		m.errMessage = "Wrong code"
		m.errCode = "INVALID_CODE"
		m.attemptsRemaining = invalid.AttemptsRemaining
	case errors.Is(err, otp.ErrExpired):
		m.errMessage = "Code expired, request a new one"
		m.errCode = "EXPIRED"
	case errors.Is(err, otp.ErrBlocked):
		m.errMessage = "Too many wrong codes, request a new one"
		m.errCode = "BLOCKED"
	default:
		m.errMessage = "Could not verify, please try again"
		m.errCode = "UNAVAILABLE"
	}
	return true
}

// Back returns from the OTP screen to the form, keeping the pending
// registration so a re-submit is not required to resend.
func (m *RegistrationMachine) Back() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != RegStateOtpInput || m.busy {
		return
	}
	m.state = RegStateForm
	m.clearErrorLocked()
}

// CancelExisting unregisters from the already-registered screen and returns
// to a fresh form.
func (m *RegistrationMachine) CancelExisting(ctx context.Context) error {
	m.mu.Lock()
	if m.state != RegStateSummary || m.summary == nil {
		m.mu.Unlock()
		return errors.New("no existing registration to cancel")
	}
	regID := m.summary.RegistrationID
	m.mu.Unlock()

	if err := m.client.Cancel(ctx, regID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = RegStateForm
	m.summary = nil
	m.clearErrorLocked()
	return nil
}

func (m *RegistrationMachine) clearErrorLocked() {
	m.errMessage = ""
	m.errCode = ""
	m.attemptsRemaining = 0
	m.availableSlots = 0
}
