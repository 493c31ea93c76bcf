package roster_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Ranidpz/qrinfo-sub004/internal/auth"
	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/roster"
	"github.com/go-chi/chi/v5"
)

// SSEHandler streams roster snapshots to operator devices. Every update is a
// full replacement snapshot, never a patch.
type SSEHandler struct {
	Logger       *logger.Logger
	Synchronizer *roster.Synchronizer
}

func NewSSEHandler(log *logger.Logger, synchronizer *roster.Synchronizer) *SSEHandler {
	return &SSEHandler{
		Logger:       log,
		Synchronizer: synchronizer,
	}
}

// HandleEventRoster streams roster snapshots for a specific event.
func (h *SSEHandler) HandleEventRoster(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	h.setupSSEHeaders(w)

	// Context cancels when the client disconnects
	ctx := r.Context()

	h.Synchronizer.EnsureWatching(ctx, eventID)
	snapshotChan := h.Synchronizer.Subscribe(ctx, eventID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"eventID\":\"%s\"}\n\n", eventID)
	w.(http.Flusher).Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Operator %s connected to roster stream for event: %s", h.operatorID(r), eventID))

	// A late subscriber gets the current snapshot immediately instead of
	// waiting for the next change
	if snap, ok := h.Synchronizer.Snapshot(eventID); ok {
		h.writeSnapshot(w, snap)
	}

	for {
		select {
		case snap, ok := <-snapshotChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for event: %s", eventID))
				return
			}
			h.writeSnapshot(w, snap)

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from roster stream for: %s", eventID))
			return
		}
	}
}

// HandleRosterSnapshot serves the current snapshot over plain GET, for
// clients that poll instead of streaming.
func (h *SSEHandler) HandleRosterSnapshot(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	snap, ok := h.Synchronizer.Snapshot(eventID)
	if !ok {
		// Nothing cached yet: build one on demand
		var err error
		snap, err = h.Synchronizer.Refresh(r.Context(), eventID)
		if err != nil {
			h.Logger.Error("SSE", fmt.Sprintf("snapshot build failed for %s: %v", eventID, err))
			http.Error(w, "Could not load roster", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("failed to encode snapshot: %v", err))
	}
}

func (h *SSEHandler) writeSnapshot(w http.ResponseWriter, snap models.RosterSnapshot) {
	jsonData, err := json.Marshal(snap)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize roster snapshot: %v", err))
		return
	}
	fmt.Fprintf(w, "event: roster\ndata: %s\n\n", jsonData)
	w.(http.Flusher).Flush()
}

// operatorID attributes the connection in logs. Falls back to parsing the
// bearer token for deployments that terminate auth upstream of the service.
func (h *SSEHandler) operatorID(r *http.Request) string {
	if id := auth.OperatorID(r.Context()); id != "" {
		return id
	}
	if raw, err := auth.ExtractTokenFromRequest(r); err == nil {
		if id, err := auth.OperatorIDFromJWT(raw); err == nil {
			return id
		}
	}
	return "unknown"
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
