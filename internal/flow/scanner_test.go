package flow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/checkin"
	"github.com/Ranidpz/qrinfo-sub004/internal/flow"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckinClient struct {
	mu       sync.Mutex
	checkins []string
	undos    []string
	result   *models.CheckinResult
	err      error
	block    chan struct{} // when set, Checkin waits until closed
}

func (f *fakeCheckinClient) Checkin(ctx context.Context, tok string) (*models.CheckinResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkins = append(f.checkins, tok)
	return f.result, f.err
}

func (f *fakeCheckinClient) CheckinByID(ctx context.Context, registrationID string) (*models.CheckinResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkins = append(f.checkins, registrationID)
	return f.result, f.err
}

func (f *fakeCheckinClient) Undo(ctx context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undos = append(f.undos, tok)
	return nil
}

const validToken = "5f4dcc3b5aa765d61d8327deb882cf99"

// validScan is the fragment-URL encoding of validToken, as a pass QR decodes.
const validScan = "https://events.example.com/pass#" + validToken

func okResult() *models.CheckinResult {
	now := time.Now()
	return &models.CheckinResult{
		Guest:       models.Guest{RegistrationID: "reg1", Name: "Mila", GuestCount: 2},
		CheckedInAt: &now,
	}
}

func newScanner(client *fakeCheckinClient, opts flow.ScannerOptions) *flow.ScannerMachine {
	if opts.ResultDelay == 0 {
		opts.ResultDelay = 50 * time.Millisecond
	}
	if opts.ErrorDelay == 0 {
		opts.ErrorDelay = 50 * time.Millisecond
	}
	resolver := &token.Resolver{AppTag: "evt"}
	return flow.NewScannerMachine(resolver, client, opts)
}

func TestScanSuccessCycle(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}
	machine := newScanner(client, flow.ScannerOptions{})

	accepted := machine.HandleScan(context.Background(), validScan)
	require.True(t, accepted)

	assert.Equal(t, flow.StateResult, machine.State())
	require.NotNil(t, machine.Result())
	assert.Equal(t, "Mila", machine.Result().Guest.Name)

	// The result screen clears itself after the delay
	require.Eventually(t, func() bool {
		return machine.State() == flow.StateScanning
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, machine.Result())
}

func TestScanUnrecognizedPayloadSkipsNetwork(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}
	machine := newScanner(client, flow.ScannerOptions{})

	accepted := machine.HandleScan(context.Background(), "not a token at all")
	require.True(t, accepted)

	assert.Equal(t, flow.StateError, machine.State())
	assert.Equal(t, "Invalid code", machine.ErrorMessage())
	assert.Empty(t, client.checkins)
}

func TestScanGuestNotFound(t *testing.T) {
	client := &fakeCheckinClient{err: checkin.ErrNotFound}
	machine := newScanner(client, flow.ScannerOptions{})

	machine.HandleScan(context.Background(), validScan)

	assert.Equal(t, flow.StateError, machine.State())
	assert.Equal(t, "Guest not found", machine.ErrorMessage())

	require.Eventually(t, func() bool {
		return machine.State() == flow.StateScanning
	}, time.Second, 5*time.Millisecond)
}

func TestScanTransientFailure(t *testing.T) {
	client := &fakeCheckinClient{err: errors.New("connection refused")}
	machine := newScanner(client, flow.ScannerOptions{})

	machine.HandleScan(context.Background(), validScan)

	assert.Equal(t, flow.StateError, machine.State())
	assert.Equal(t, "Connection failed, please rescan", machine.ErrorMessage())
}

func TestConcurrentScanIsDropped(t *testing.T) {
	client := &fakeCheckinClient{result: okResult(), block: make(chan struct{})}
	machine := newScanner(client, flow.ScannerOptions{})

	done := make(chan struct{})
	go func() {
		machine.HandleScan(context.Background(), validScan)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return machine.State() == flow.StateLoading
	}, time.Second, time.Millisecond)

	// A second frame while the call is in flight is dropped, not queued
	accepted := machine.HandleScan(context.Background(), validScan)
	assert.False(t, accepted)

	close(client.block)
	<-done
	assert.Len(t, client.checkins, 1)
}

func TestDismissClearsResultImmediately(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}
	machine := newScanner(client, flow.ScannerOptions{ResultDelay: time.Hour, ErrorDelay: time.Hour})

	machine.HandleScan(context.Background(), validScan)
	require.Equal(t, flow.StateResult, machine.State())

	machine.Dismiss()
	assert.Equal(t, flow.StateScanning, machine.State())
	assert.Nil(t, machine.Result())
}

func TestUndoFromResultScreen(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}
	machine := newScanner(client, flow.ScannerOptions{AllowUndo: true, ResultDelay: time.Hour, ErrorDelay: time.Hour})

	machine.HandleScan(context.Background(), validScan)
	require.Equal(t, flow.StateResult, machine.State())

	err := machine.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{validToken}, client.undos)
	assert.Equal(t, flow.StateScanning, machine.State())
}

func TestUndoRequiresCapability(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}
	machine := newScanner(client, flow.ScannerOptions{AllowUndo: false, ResultDelay: time.Hour})

	machine.HandleScan(context.Background(), validScan)
	require.Equal(t, flow.StateResult, machine.State())

	err := machine.Undo(context.Background())
	assert.Error(t, err)
	assert.Empty(t, client.undos)
}

func TestCheckinFromListRequiresCapability(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}

	disabled := newScanner(client, flow.ScannerOptions{})
	assert.False(t, disabled.CheckinFromList(context.Background(), "reg1"))
	assert.Empty(t, client.checkins)

	enabled := newScanner(client, flow.ScannerOptions{ManualCheckin: true, ResultDelay: time.Hour})
	assert.True(t, enabled.CheckinFromList(context.Background(), "reg1"))
	assert.Equal(t, flow.StateResult, enabled.State())
}

func TestStaleResetTimerDoesNotClearNewCycle(t *testing.T) {
	client := &fakeCheckinClient{result: okResult()}
	machine := newScanner(client, flow.ScannerOptions{ResultDelay: 30 * time.Millisecond, ErrorDelay: time.Hour})

	machine.HandleScan(context.Background(), validScan)
	require.Equal(t, flow.StateResult, machine.State())

	// Dismiss and immediately start a new scan; the old timer must not fire
	// into the new result screen
	machine.Dismiss()
	machine.HandleScan(context.Background(), validScan)
	require.Equal(t, flow.StateResult, machine.State())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, flow.StateResult, machine.State())
}
