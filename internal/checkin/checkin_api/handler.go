package checkin_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Ranidpz/qrinfo-sub004/internal/checkin"
	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/token"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	CheckinService *checkin.Service
	Resolver       *token.Resolver
	Logger         *logger.Logger
}

func NewHandler(checkinService *checkin.Service, resolver *token.Resolver, log *logger.Logger) *Handler {
	return &Handler{
		CheckinService: checkinService,
		Resolver:       resolver,
		Logger:         log,
	}
}

// HandleCheckin dispatches on the request action: "checkin" flips the guest
// to arrived, "undo" reverts a completed arrival.
func (h *Handler) HandleCheckin(w http.ResponseWriter, r *http.Request) {
	var req models.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("HandleCheckin: failed to decode request body: %v", err))
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	// Raw scanner payloads are accepted here too. A bare token matches no
	// encoding and is used as-is.
	tok := req.Token
	if resolved, ok := h.Resolver.Resolve(req.Token); ok {
		tok = resolved
	}

	switch req.Action {
	case "undo":
		h.undo(w, r, tok)
	case "", "checkin":
		h.checkin(w, r, tok)
	default:
		h.Logger.Error("API", fmt.Sprintf("HandleCheckin: unknown action %q", req.Action))
		writeError(w, http.StatusBadRequest, "Unknown action", "INVALID_REQUEST")
	}
}

func (h *Handler) checkin(w http.ResponseWriter, r *http.Request, tok string) {
	result, err := h.CheckinService.Checkin(r.Context(), tok)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			h.Logger.Info("CHECKIN", "checkin: guest not found")
			writeError(w, http.StatusNotFound, "Guest not found", "NOT_FOUND")
			return
		}
		h.Logger.Error("CHECKIN", fmt.Sprintf("checkin failed: %v", err))
		writeError(w, http.StatusInternalServerError, "Check-in failed", "INTERNAL")
		return
	}

	h.Logger.LogCheckin("checkin", result.Guest.RegistrationID, fmt.Sprintf("alreadyArrived=%t", result.AlreadyArrived))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) undo(w http.ResponseWriter, r *http.Request, tok string) {
	err := h.CheckinService.Undo(r.Context(), tok)
	if err != nil {
		switch {
		case errors.Is(err, checkin.ErrNotFound):
			writeError(w, http.StatusNotFound, "Guest not found", "NOT_FOUND")
		case errors.Is(err, checkin.ErrNotArrived):
			writeError(w, http.StatusConflict, "Guest has not arrived", "NOT_ARRIVED")
		default:
			h.Logger.Error("CHECKIN", fmt.Sprintf("undo failed: %v", err))
			writeError(w, http.StatusInternalServerError, "Undo failed", "INTERNAL")
		}
		return
	}

	h.Logger.Info("CHECKIN", "undo: arrival reverted")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleToggleArrival flips a guest between registered and arrived from the
// roster list view.
func (h *Handler) HandleToggleArrival(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationID")
	if registrationID == "" {
		writeError(w, http.StatusBadRequest, "Registration ID is required", "INVALID_REQUEST")
		return
	}

	result, err := h.CheckinService.ToggleArrival(r.Context(), registrationID)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Guest not found", "NOT_FOUND")
			return
		}
		h.Logger.Error("CHECKIN", fmt.Sprintf("toggle arrival failed for %s: %v", registrationID, err))
		writeError(w, http.StatusInternalServerError, "Toggle failed", "INTERNAL")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, ErrorCode: code})
}
