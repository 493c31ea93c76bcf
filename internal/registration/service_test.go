package registration_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/otp"
	"github.com/Ranidpz/qrinfo-sub004/internal/registration"
	regdb "github.com/Ranidpz/qrinfo-sub004/internal/registration/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type fakeOtp struct {
	sendErr   error
	verifyErr error
	sent      []string
	verified  []string
}

func (f *fakeOtp) Send(ctx context.Context, registrationID, phone string) error {
	f.sent = append(f.sent, registrationID)
	return f.sendErr
}

func (f *fakeOtp) Verify(ctx context.Context, registrationID, phone, code string) error {
	f.verified = append(f.verified, code)
	return f.verifyErr
}

type fakeKafka struct {
	registered []string
	verified   []string
	cancelled  []string
}

func (f *fakeKafka) PublishGuestRegistered(reg models.Registration) error {
	f.registered = append(f.registered, reg.ID)
	return nil
}

func (f *fakeKafka) PublishGuestVerified(reg models.Registration) error {
	f.verified = append(f.verified, reg.ID)
	return nil
}

func (f *fakeKafka) PublishGuestCancelled(reg models.Registration) error {
	f.cancelled = append(f.cancelled, reg.ID)
	return nil
}

type fakeNotifier struct {
	changed []string
}

func (f *fakeNotifier) NotifyChange(ctx context.Context, eventID string) {
	f.changed = append(f.changed, eventID)
}

type testEnv struct {
	svc      *registration.Service
	otp      *fakeOtp
	kafka    *fakeKafka
	notifier *fakeNotifier
	bunDB    *bun.DB
}

func setupEnv(t *testing.T) *testEnv {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	_, err = bunDB.NewCreateTable().Model((*models.Slot)(nil)).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewCreateTable().Model((*models.Registration)(nil)).Exec(ctx)
	require.NoError(t, err)

	env := &testEnv{
		otp:      &fakeOtp{},
		kafka:    &fakeKafka{},
		notifier: &fakeNotifier{},
		bunDB:    bunDB,
	}
	env.svc = registration.NewService(
		&regdb.DB{Bun: bunDB},
		capacity.NewLedger(bunDB),
		env.otp,
		env.kafka,
		env.notifier,
		logger.NewLogger(),
	)
	return env
}

func (e *testEnv) insertSlot(t *testing.T, slotID string, seats int) {
	slot := models.Slot{
		ID:        slotID,
		EventID:   "event1",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
		Capacity:  seats,
	}
	_, err := e.bunDB.NewInsert().Model(&slot).Exec(context.Background())
	require.NoError(t, err)
}

func registerReq(phone string, count int) models.RegisterRequest {
	return models.RegisterRequest{
		EventID: "event1",
		SlotID:  "slot1",
		Name:    "Jonas",
		Phone:   phone,
		Count:   count,
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+49 170 111 1111", "+491701111111"},
		{"0049 170 1111111", "+491701111111"},
		{"(0170) 111-1111", "01701111111"},
		{"  +49170a1111111 ", "+491701111111"},
		{"49+170", "49170"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, registration.NormalizePhone(tc.in), "input %q", tc.in)
	}
}

func TestRegisterPersistsAndAnnounces(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 5)

	reg, err := env.svc.Register(context.Background(), registerReq("+49 170 111 1111", 2))
	require.NoError(t, err)

	assert.NotEmpty(t, reg.ID)
	assert.Len(t, reg.Token, 32)
	assert.Equal(t, "+491701111111", reg.Phone)
	assert.Equal(t, models.StatusRegistered, reg.Status)
	assert.False(t, reg.Verified)

	assert.Equal(t, []string{reg.ID}, env.kafka.registered)
	assert.Equal(t, []string{"event1"}, env.notifier.changed)
}

func TestRegisterValidation(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 5)

	cases := []models.RegisterRequest{
		{EventID: "event1", SlotID: "slot1", Name: "", Phone: "+491701111111", Count: 1},
		{EventID: "event1", SlotID: "slot1", Name: "Jonas", Phone: "", Count: 1},
		{EventID: "event1", SlotID: "slot1", Name: "Jonas", Phone: "+491701111111", Count: 0},
		{EventID: "event1", SlotID: "slot1", Name: "Jonas", Phone: "+491701111111", Count: models.MaxGuestCount + 1},
		{EventID: "", SlotID: "slot1", Name: "Jonas", Phone: "+491701111111", Count: 1},
	}
	for i, req := range cases {
		_, err := env.svc.Register(context.Background(), req)
		assert.ErrorIs(t, err, registration.ErrInvalidInput, "case %d", i)
	}
}

func TestRegisterCapacityRejection(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 3)

	_, err := env.svc.Register(context.Background(), registerReq("+491701111111", 2))
	require.NoError(t, err)

	_, err = env.svc.Register(context.Background(), registerReq("+491702222222", 2))
	var capErr *capacity.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 1, capErr.Available)
	// The rejection publishes nothing
	assert.Len(t, env.kafka.registered, 1)
}

func TestActiveSummaryShortCircuit(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 5)

	reg, err := env.svc.Register(context.Background(), registerReq("+491701111111", 2))
	require.NoError(t, err)

	// Raw phone formatting is normalized before the lookup
	summary, err := env.svc.ActiveSummary(context.Background(), "slot1", "+49 170 111 1111")
	require.NoError(t, err)
	assert.True(t, summary.AlreadyRegistered)
	assert.Equal(t, reg.ID, summary.RegistrationID)
	assert.Equal(t, reg.Token, summary.Token)

	_, err = env.svc.ActiveSummary(context.Background(), "slot1", "+491709999999")
	assert.ErrorIs(t, err, registration.ErrNotFound)
}

func TestVerifyOtpPromotesRegistration(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 5)

	reg, err := env.svc.Register(context.Background(), registerReq("+491701111111", 1))
	require.NoError(t, err)

	token, err := env.svc.VerifyOtp(context.Background(), reg.ID, reg.Phone, "1234")
	require.NoError(t, err)
	assert.Equal(t, reg.Token, token)
	assert.Equal(t, []string{reg.ID}, env.kafka.verified)

	var current models.Registration
	err = env.bunDB.NewSelect().Model(&current).Where("id = ?", reg.ID).Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, current.Verified)
}

func TestVerifyOtpFailurePassesThrough(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 5)
	env.otp.verifyErr = &otp.InvalidCodeError{AttemptsRemaining: 2}

	reg, err := env.svc.Register(context.Background(), registerReq("+491701111111", 1))
	require.NoError(t, err)

	_, err = env.svc.VerifyOtp(context.Background(), reg.ID, reg.Phone, "0000")
	var invalid *otp.InvalidCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.AttemptsRemaining)
	assert.Empty(t, env.kafka.verified)
}

func TestSendOtpUnknownRegistration(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()

	err := env.svc.SendOtp(context.Background(), "missing")
	assert.ErrorIs(t, err, registration.ErrNotFound)
	assert.Empty(t, env.otp.sent)
}

func TestCancelFreesSeatAndAnnounces(t *testing.T) {
	env := setupEnv(t)
	defer env.bunDB.Close()
	env.insertSlot(t, "slot1", 2)

	reg, err := env.svc.Register(context.Background(), registerReq("+491701111111", 2))
	require.NoError(t, err)

	err = env.svc.Cancel(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{reg.ID}, env.kafka.cancelled)

	// The slot is open again
	_, err = env.svc.Register(context.Background(), registerReq("+491702222222", 2))
	assert.NoError(t, err)

	// Cancelling twice reports not-found
	err = env.svc.Cancel(context.Background(), reg.ID)
	assert.ErrorIs(t, err, registration.ErrNotFound)
}
