package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/flow"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/otp"
	"github.com/Ranidpz/qrinfo-sub004/internal/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegClient struct {
	registerErr error
	sendErr     error
	sendErrs    []error // consumed one per SendOtp call when set
	verifyErr   error
	summary     *models.RegistrationSummary

	summaryStarted chan struct{} // closed when ActiveSummary is entered
	summaryGate    chan struct{} // ActiveSummary blocks until this closes

	sends     int
	verifies  []string
	cancelled []string
}

func (f *fakeRegClient) Register(ctx context.Context, req models.RegisterRequest) (*models.Registration, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &models.Registration{
		ID:      "reg1",
		EventID: req.EventID,
		SlotID:  req.SlotID,
		Name:    req.Name,
		Phone:   req.Phone,
		Token:   validToken,
		Status:  models.StatusRegistered,
	}, nil
}

func (f *fakeRegClient) ActiveSummary(ctx context.Context, slotID, phone string) (*models.RegistrationSummary, error) {
	if f.summaryStarted != nil {
		close(f.summaryStarted)
		f.summaryStarted = nil
	}
	if f.summaryGate != nil {
		<-f.summaryGate
	}
	if f.summary == nil {
		return nil, registration.ErrNotFound
	}
	return f.summary, nil
}

func (f *fakeRegClient) SendOtp(ctx context.Context, registrationID string) error {
	f.sends++
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return f.sendErr
}

func (f *fakeRegClient) VerifyOtp(ctx context.Context, registrationID, phone, code string) (string, error) {
	f.verifies = append(f.verifies, code)
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	return validToken, nil
}

func (f *fakeRegClient) Cancel(ctx context.Context, registrationID string) error {
	f.cancelled = append(f.cancelled, registrationID)
	return nil
}

func validReq() models.RegisterRequest {
	return models.RegisterRequest{
		EventID: "event1",
		SlotID:  "slot1",
		Name:    "Jonas",
		Phone:   "+491701111111",
		Count:   2,
	}
}

func TestHappyPathToVerifiedSuccess(t *testing.T) {
	client := &fakeRegClient{}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	machine.Open(context.Background(), "slot1", "+491701111111")
	assert.Equal(t, flow.RegStateForm, machine.State())

	require.True(t, machine.Submit(context.Background(), validReq()))
	assert.Equal(t, flow.RegStateOtpInput, machine.State())
	assert.Equal(t, 1, client.sends)

	require.True(t, machine.SubmitCode(context.Background(), "+491701111111", "1234"))
	assert.Equal(t, flow.RegStateSuccess, machine.State())
	assert.Equal(t, validToken, machine.Token())
}

func TestUnconfiguredChannelCompletesUnverified(t *testing.T) {
	client := &fakeRegClient{sendErr: otp.ErrNotConfigured}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))

	// No verification channel: the flow completes with the pass token anyway
	assert.Equal(t, flow.RegStateSuccess, machine.State())
	assert.Equal(t, validToken, machine.Token())
}

func TestCapacityRejectionReturnsToForm(t *testing.T) {
	client := &fakeRegClient{registerErr: &capacity.CapacityExceededError{Available: 1}}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))

	assert.Equal(t, flow.RegStateForm, machine.State())
	msg, code := machine.LastError()
	assert.Equal(t, "Not enough places left", msg)
	assert.Equal(t, "CAPACITY_EXCEEDED", code)
	assert.Equal(t, 1, machine.AvailableSlots())
	assert.Equal(t, 0, client.sends)
}

func TestDuplicatePhoneFallsBackToSummary(t *testing.T) {
	client := &fakeRegClient{
		registerErr: capacity.ErrPhoneAlreadyRegistered,
		summary:     &models.RegistrationSummary{RegistrationID: "reg0", Name: "Jonas", AlreadyRegistered: true},
	}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))

	assert.Equal(t, flow.RegStateSummary, machine.State())
	require.NotNil(t, machine.Summary())
	assert.Equal(t, "reg0", machine.Summary().RegistrationID)
}

func TestSummaryFetchDoesNotBlockStateReaders(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	client := &fakeRegClient{
		registerErr:    capacity.ErrPhoneAlreadyRegistered,
		summary:        &models.RegistrationSummary{RegistrationID: "reg0", AlreadyRegistered: true},
		summaryStarted: started,
		summaryGate:    gate,
	}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	done := make(chan struct{})
	go func() {
		machine.Submit(context.Background(), validReq())
		close(done)
	}()
	<-started

	// The fallback summary fetch is in flight; readers must not queue
	// behind it
	states := make(chan flow.RegistrationState, 1)
	go func() { states <- machine.State() }()
	select {
	case st := <-states:
		assert.Equal(t, flow.RegStateSubmitting, st)
	case <-time.After(time.Second):
		t.Fatal("State() blocked while the summary fetch was in flight")
	}

	close(gate)
	<-done
	assert.Equal(t, flow.RegStateSummary, machine.State())
}

func TestOpenShortCircuitsExistingRegistration(t *testing.T) {
	client := &fakeRegClient{
		summary: &models.RegistrationSummary{RegistrationID: "reg0", AlreadyRegistered: true},
	}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	machine.Open(context.Background(), "slot1", "+491701111111")
	assert.Equal(t, flow.RegStateSummary, machine.State())

	// Cancelling the existing registration returns to a fresh form
	require.NoError(t, machine.CancelExisting(context.Background()))
	assert.Equal(t, []string{"reg0"}, client.cancelled)
	assert.Equal(t, flow.RegStateForm, machine.State())
	assert.Nil(t, machine.Summary())
}

func TestWrongCodeKeepsOtpScreen(t *testing.T) {
	client := &fakeRegClient{verifyErr: &otp.InvalidCodeError{AttemptsRemaining: 3}}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))
	require.True(t, machine.SubmitCode(context.Background(), "+491701111111", "0000"))

	assert.Equal(t, flow.RegStateOtpInput, machine.State())
	_, code := machine.LastError()
	assert.Equal(t, "INVALID_CODE", code)
	assert.Equal(t, 3, machine.AttemptsRemaining())

	// A corrected code still goes through
	client.verifyErr = nil
	require.True(t, machine.SubmitCode(context.Background(), "+491701111111", "1234"))
	assert.Equal(t, flow.RegStateSuccess, machine.State())
}

func TestExpiredAndBlockedStayOnOtpScreen(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code string
	}{
		{otp.ErrExpired, "EXPIRED"},
		{otp.ErrBlocked, "BLOCKED"},
	} {
		client := &fakeRegClient{verifyErr: tc.err}
		machine := flow.NewRegistrationMachine(client, time.Minute)

		require.True(t, machine.Submit(context.Background(), validReq()))
		require.True(t, machine.SubmitCode(context.Background(), "+491701111111", "1234"))

		assert.Equal(t, flow.RegStateOtpInput, machine.State())
		_, code := machine.LastError()
		assert.Equal(t, tc.code, code)
	}
}

func TestResendCooldown(t *testing.T) {
	client := &fakeRegClient{}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))
	require.Equal(t, 1, client.sends)

	// Rapid resend taps never reach the network inside the cooldown
	assert.False(t, machine.Resend(context.Background()))
	assert.Equal(t, 1, client.sends)
	_, code := machine.LastError()
	assert.Equal(t, "RATE_LIMITED", code)
}

func TestResendAfterCooldown(t *testing.T) {
	client := &fakeRegClient{}
	machine := flow.NewRegistrationMachine(client, 5*time.Millisecond)

	require.True(t, machine.Submit(context.Background(), validReq()))
	require.Equal(t, 1, client.sends)

	time.Sleep(10 * time.Millisecond)
	assert.True(t, machine.Resend(context.Background()))
	assert.Equal(t, 2, client.sends)
	assert.Equal(t, flow.RegStateOtpInput, machine.State())
}

func TestSendFailureAllowsRetry(t *testing.T) {
	client := &fakeRegClient{sendErrs: []error{errors.New("gateway timeout"), nil}}
	machine := flow.NewRegistrationMachine(client, 5*time.Millisecond)

	require.True(t, machine.Submit(context.Background(), validReq()))
	assert.Equal(t, flow.RegStateOtpInput, machine.State())
	_, code := machine.LastError()
	assert.Equal(t, "SEND_FAILED", code)

	time.Sleep(10 * time.Millisecond)
	require.True(t, machine.Resend(context.Background()))
	assert.Equal(t, 2, client.sends)
	msg, _ := machine.LastError()
	assert.Empty(t, msg)
}

func TestBackReturnsToForm(t *testing.T) {
	client := &fakeRegClient{}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))
	require.Equal(t, flow.RegStateOtpInput, machine.State())

	machine.Back()
	assert.Equal(t, flow.RegStateForm, machine.State())
}

func TestSubmitOutsideFormIsDropped(t *testing.T) {
	client := &fakeRegClient{}
	machine := flow.NewRegistrationMachine(client, time.Minute)

	require.True(t, machine.Submit(context.Background(), validReq()))
	require.Equal(t, flow.RegStateOtpInput, machine.State())

	assert.False(t, machine.Submit(context.Background(), validReq()))
}
