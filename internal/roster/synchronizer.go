package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/sse"
)

type Lister interface {
	ListByEvent(ctx context.Context, eventID string) ([]models.Registration, error)
}

// Synchronizer maintains live roster snapshots per event scope. On every
// change notification it reloads the full guest list and replaces the
// snapshot; consumers read derived aggregates from the snapshot and never
// compute them from a stale list themselves.
type Synchronizer struct {
	DB      Lister
	Feed    ChangeFeed
	Emitter *sse.RosterEventEmitter
	Logger  *logger.Logger

	mu        sync.RWMutex
	snapshots map[string]models.RosterSnapshot
	watching  map[string]bool
}

func NewSynchronizer(db Lister, feed ChangeFeed, log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		DB:        db,
		Feed:      feed,
		Emitter:   sse.NewRosterEventEmitter(),
		Logger:    log,
		snapshots: make(map[string]models.RosterSnapshot),
		watching:  make(map[string]bool),
	}
}

// BuildSnapshot derives the aggregate view from a raw guest list. Stored
// records may predate the current schema: an absent status counts as
// registered and an absent party size as zero, never as an error.
func BuildSnapshot(eventID string, regs []models.Registration) models.RosterSnapshot {
	snap := models.RosterSnapshot{
		EventID:     eventID,
		Guests:      make([]models.Registration, 0, len(regs)),
		GeneratedAt: time.Now(),
	}
	for _, reg := range regs {
		if reg.Status == "" {
			reg.Status = models.StatusRegistered
		}
		if reg.GuestCount < 0 {
			reg.GuestCount = 0
		}
		if reg.Status == models.StatusCancelled {
			continue
		}

		snap.Guests = append(snap.Guests, reg)
		snap.TotalRegistered++
		snap.TotalPartySize += reg.GuestCount
		if reg.Status == models.StatusArrived {
			snap.TotalArrived++
			snap.ArrivedPartySize += reg.GuestCount
		}
	}
	return snap
}

// Refresh reloads the event's guest list, replaces the cached snapshot and
// broadcasts it to SSE subscribers.
func (s *Synchronizer) Refresh(ctx context.Context, eventID string) (models.RosterSnapshot, error) {
	regs, err := s.DB.ListByEvent(ctx, eventID)
	if err != nil {
		return models.RosterSnapshot{}, fmt.Errorf("list registrations for %s: %w", eventID, err)
	}
	snap := BuildSnapshot(eventID, regs)

	s.mu.Lock()
	s.snapshots[eventID] = snap
	s.mu.Unlock()

	s.Emitter.Emit(snap)
	return snap, nil
}

// Snapshot returns the current cached snapshot for an event, if one exists.
func (s *Synchronizer) Snapshot(eventID string) (models.RosterSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[eventID]
	return snap, ok
}

// Subscribe hands out a channel of replacement snapshots for an event.
func (s *Synchronizer) Subscribe(ctx context.Context, eventID string) chan models.RosterSnapshot {
	return s.Emitter.SubscribeToEvent(ctx, eventID)
}

// EnsureWatching starts the change-feed loop for an event exactly once.
func (s *Synchronizer) EnsureWatching(ctx context.Context, eventID string) {
	s.mu.Lock()
	if s.watching[eventID] {
		s.mu.Unlock()
		return
	}
	s.watching[eventID] = true
	s.mu.Unlock()

	ticks := s.Feed.Subscribe(ctx, eventID)
	go func() {
		// The loop dies with ctx (the subscriber that started it). Clearing
		// the flag lets the next subscriber restart the watch instead of
		// finding a dead one and serving stale snapshots forever.
		defer func() {
			s.mu.Lock()
			delete(s.watching, eventID)
			s.mu.Unlock()
		}()

		// Prime the snapshot before the first change arrives
		if _, err := s.Refresh(ctx, eventID); err != nil {
			s.Logger.Error("ROSTER", fmt.Sprintf("initial refresh for %s: %v", eventID, err))
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				if _, err := s.Refresh(ctx, eventID); err != nil {
					s.Logger.Error("ROSTER", fmt.Sprintf("refresh for %s: %v", eventID, err))
				}
			}
		}
	}()
}
