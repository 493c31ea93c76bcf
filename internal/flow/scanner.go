package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/checkin"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
)

// ScannerState is the single current-state value of the check-in machine.
type ScannerState string

const (
	StateScanning ScannerState = "scanning"
	StateLoading  ScannerState = "loading"
	StateResult   ScannerState = "result"
	StateError    ScannerState = "error"
)

type TokenResolver interface {
	Resolve(raw string) (string, bool)
}

// CheckinClient is the endpoint surface the scanner drives. In-process it is
// the check-in service itself; kiosks wrap the HTTP API behind the same
// interface.
type CheckinClient interface {
	Checkin(ctx context.Context, token string) (*models.CheckinResult, error)
	CheckinByID(ctx context.Context, registrationID string) (*models.CheckinResult, error)
	Undo(ctx context.Context, token string) error
}

// ScannerOptions are the capability flags that fold the historical scanner
// variants into one machine.
type ScannerOptions struct {
	// AllowUndo enables reverting a fresh arrival from the result screen.
	AllowUndo bool
	// ManualCheckin enables checking a guest in from the list view without
	// scanning.
	ManualCheckin bool

	ResultDelay time.Duration // auto-reset after a successful scan
	ErrorDelay  time.Duration // auto-reset after a failed scan
}

// ScannerMachine drives the scan → verify → accept/reject → auto-reset cycle.
// All transitions run under one mutex; input arriving while a network call is
// in flight is dropped, not queued.
type ScannerMachine struct {
	resolver TokenResolver
	client   CheckinClient
	opts     ScannerOptions

	mu         sync.Mutex
	state      ScannerState
	cycle      int // generation counter; invalidates stale reset timers
	resetTimer *time.Timer
	lastToken  string
	lastResult *models.CheckinResult
	lastError  string
}

func NewScannerMachine(resolver TokenResolver, client CheckinClient, opts ScannerOptions) *ScannerMachine {
	if opts.ResultDelay <= 0 {
		opts.ResultDelay = 4 * time.Second
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = 3 * time.Second
	}
	return &ScannerMachine{
		resolver: resolver,
		client:   client,
		opts:     opts,
		state:    StateScanning,
	}
}

func (m *ScannerMachine) State() ScannerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result returns the payload shown on the result screen, nil outside it.
func (m *ScannerMachine) Result() *models.CheckinResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// ErrorMessage returns the message shown on the error screen.
func (m *ScannerMachine) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// HandleScan feeds one decoded payload into the machine. It reports false
// when the input was dropped because the machine was not scanning (a call in
// flight, or a result/error still on screen).
func (m *ScannerMachine) HandleScan(ctx context.Context, raw string) bool {
	m.mu.Lock()
	if m.state != StateScanning {
		m.mu.Unlock()
		return false
	}
	m.state = StateLoading
	m.cycle++
	m.cancelTimerLocked()
	m.mu.Unlock()

	token, ok := m.resolver.Resolve(raw)
	if !ok {
		// Input error: no network call is made for unrecognized payloads
		m.toError("Invalid code")
		return true
	}

	result, err := m.client.Checkin(ctx, token)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			m.toError("Guest not found")
		} else {
			m.toError("Connection failed, please rescan")
		}
		return true
	}

	m.toResult(token, result)
	return true
}

// CheckinFromList drives the same cycle from the guest list, without a scan.
// Only available when the ManualCheckin capability is enabled.
func (m *ScannerMachine) CheckinFromList(ctx context.Context, registrationID string) bool {
	if !m.opts.ManualCheckin {
		return false
	}

	m.mu.Lock()
	if m.state != StateScanning {
		m.mu.Unlock()
		return false
	}
	m.state = StateLoading
	m.cycle++
	m.cancelTimerLocked()
	m.mu.Unlock()

	result, err := m.client.CheckinByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			m.toError("Guest not found")
		} else {
			m.toError("Connection failed, please retry")
		}
		return true
	}
	m.toResult("", result)
	return true
}

// Dismiss clears a result or error screen immediately instead of waiting for
// the auto-reset timer.
func (m *ScannerMachine) Dismiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateResult && m.state != StateError {
		return
	}
	m.resetLocked()
}

// Undo reverts the arrival shown on the result screen and returns straight
// to scanning without waiting out the timer.
func (m *ScannerMachine) Undo(ctx context.Context) error {
	m.mu.Lock()
	if !m.opts.AllowUndo || m.state != StateResult || m.lastToken == "" {
		m.mu.Unlock()
		return errors.New("nothing to undo")
	}
	token := m.lastToken
	m.cancelTimerLocked()
	m.mu.Unlock()

	if err := m.client.Undo(ctx, token); err != nil {
		m.toError("Undo failed")
		return err
	}

	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	return nil
}

func (m *ScannerMachine) toResult(token string, result *models.CheckinResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateResult
	m.lastToken = token
	m.lastResult = result
	m.lastError = ""
	m.scheduleResetLocked(m.opts.ResultDelay)
}

func (m *ScannerMachine) toError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateError
	m.lastToken = ""
	m.lastResult = nil
	m.lastError = message
	m.scheduleResetLocked(m.opts.ErrorDelay)
}

// scheduleResetLocked arms the auto-reset for the current cycle. A timer that
// fires after a newer cycle has started finds the counter advanced and does
// nothing.
func (m *ScannerMachine) scheduleResetLocked(d time.Duration) {
	m.cancelTimerLocked()
	cycle := m.cycle
	m.resetTimer = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.cycle != cycle {
			return
		}
		m.resetLocked()
	})
}

func (m *ScannerMachine) resetLocked() {
	m.cancelTimerLocked()
	m.cycle++
	m.state = StateScanning
	m.lastToken = ""
	m.lastResult = nil
	m.lastError = ""
}

func (m *ScannerMachine) cancelTimerLocked() {
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
}
