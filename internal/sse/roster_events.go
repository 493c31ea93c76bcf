package sse

import (
	"context"
	"sync"

	"github.com/Ranidpz/qrinfo-sub004/internal/models"
)

// RosterEventEmitter manages SSE connections and snapshot broadcasting for
// roster updates. Every change produces a full replacement snapshot; clients
// never patch incrementally.
type RosterEventEmitter struct {
	// key: eventID, value: slice of client channels
	clients     map[string][]chan models.RosterSnapshot
	clientMutex sync.RWMutex
}

func NewRosterEventEmitter() *RosterEventEmitter {
	return &RosterEventEmitter{
		clients: make(map[string][]chan models.RosterSnapshot),
	}
}

// SubscribeToEvent adds a client to an event's roster updates.
func (e *RosterEventEmitter) SubscribeToEvent(ctx context.Context, eventID string) chan models.RosterSnapshot {
	clientChan := make(chan models.RosterSnapshot, 10)

	e.clientMutex.Lock()
	e.clients[eventID] = append(e.clients[eventID], clientChan)
	e.clientMutex.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeClient(eventID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts a roster snapshot to all subscribed clients.
func (e *RosterEventEmitter) Emit(snapshot models.RosterSnapshot) {
	e.clientMutex.RLock()
	clients := e.clients[snapshot.EventID]
	e.clientMutex.RUnlock()

	for _, clientChan := range clients {
		// Non-blocking send so one slow client cannot stall the emitter
		select {
		case clientChan <- snapshot:
		default:
		}
	}
}

func (e *RosterEventEmitter) removeClient(eventID string, clientChan chan models.RosterSnapshot) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients subscribed to an event.
func (e *RosterEventEmitter) ClientCount(eventID string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients[eventID])
}
