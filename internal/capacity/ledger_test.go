package capacity_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*capacity.Ledger, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// A single connection keeps every query on the same in-memory database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.Slot)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create slots table: %v", err)
	}
	_, err = bunDB.NewCreateTable().Model((*models.Registration)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create registrations table: %v", err)
	}

	return capacity.NewLedger(bunDB), bunDB
}

func insertSlot(t *testing.T, bunDB *bun.DB, eventID, slotID string, seats int) {
	slot := models.Slot{
		ID:        slotID,
		EventID:   eventID,
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
		Capacity:  seats,
	}
	_, err := bunDB.NewInsert().Model(&slot).Exec(context.Background())
	require.NoError(t, err)
}

func newRegistration(eventID, slotID, phone string, count int) *models.Registration {
	return &models.Registration{
		ID:         uuid.New().String(),
		EventID:    eventID,
		SlotID:     slotID,
		Name:       "Guest " + phone,
		Phone:      phone,
		GuestCount: count,
		Token:      utils.GenerateAccessToken(),
		Status:     models.StatusRegistered,
		CreatedAt:  time.Now(),
	}
}

func slotCount(t *testing.T, bunDB *bun.DB, slotID string) int {
	var slot models.Slot
	err := bunDB.NewSelect().Model(&slot).Where("id = ?", slotID).Scan(context.Background())
	require.NoError(t, err)
	return slot.RegisteredCount
}

func TestReserveWithinCapacity(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	insertSlot(t, bunDB, "event1", "slot1", 2)

	// Client A takes the whole slot
	err := ledger.Reserve(context.Background(), newRegistration("event1", "slot1", "+491701111111", 2))
	assert.NoError(t, err)
	assert.Equal(t, 2, slotCount(t, bunDB, "slot1"))

	// Client B is rejected with the remaining availability
	err = ledger.Reserve(context.Background(), newRegistration("event1", "slot1", "+491702222222", 1))
	var capErr *capacity.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Available)
	assert.Equal(t, 2, slotCount(t, bunDB, "slot1"))
}

func TestReserveDuplicatePhone(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	insertSlot(t, bunDB, "event1", "slot1", 10)

	err := ledger.Reserve(context.Background(), newRegistration("event1", "slot1", "+491701111111", 1))
	require.NoError(t, err)

	err = ledger.Reserve(context.Background(), newRegistration("event1", "slot1", "+491701111111", 2))
	assert.ErrorIs(t, err, capacity.ErrPhoneAlreadyRegistered)
	assert.Equal(t, 1, slotCount(t, bunDB, "slot1"))
}

func TestReserveUnlimitedSlot(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	insertSlot(t, bunDB, "event1", "slot1", 0)

	for i, phone := range []string{"+491701111111", "+491702222222", "+491703333333"} {
		err := ledger.Reserve(context.Background(), newRegistration("event1", "slot1", phone, 10))
		assert.NoError(t, err, "registration %d", i)
	}
	assert.Equal(t, 30, slotCount(t, bunDB, "slot1"))
}

func TestReserveUnknownSlot(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()

	err := ledger.Reserve(context.Background(), newRegistration("event1", "missing", "+491701111111", 1))
	assert.ErrorIs(t, err, capacity.ErrSlotNotFound)
}

func TestReleaseFreesCapacity(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	insertSlot(t, bunDB, "event1", "slot1", 2)

	reg := newRegistration("event1", "slot1", "+491701111111", 2)
	require.NoError(t, ledger.Reserve(context.Background(), reg))
	assert.Equal(t, 2, slotCount(t, bunDB, "slot1"))

	released, err := ledger.Release(context.Background(), reg.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, released.Status)
	assert.Equal(t, 0, slotCount(t, bunDB, "slot1"))

	// The freed seats admit a new registration, even for the same phone
	err = ledger.Reserve(context.Background(), newRegistration("event1", "slot1", "+491701111111", 2))
	assert.NoError(t, err)

	// Cancellation is terminal
	_, err = ledger.Release(context.Background(), reg.ID)
	assert.ErrorIs(t, err, capacity.ErrRegistrationNotFound)
}

func TestConcurrentReservesDoNotOverbook(t *testing.T) {
	ledger, bunDB := setupTestDB(t)
	defer bunDB.Close()
	insertSlot(t, bunDB, "event1", "slot1", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	phones := []string{"+491701111111", "+491702222222"}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.Reserve(context.Background(), newRegistration("event1", "slot1", phones[i], 1))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one of two racing reserves may win the last seat")
	assert.Equal(t, 1, slotCount(t, bunDB, "slot1"))
}
