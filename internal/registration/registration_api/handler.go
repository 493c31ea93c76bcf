package registration_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Ranidpz/qrinfo-sub004/internal/capacity"
	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/Ranidpz/qrinfo-sub004/internal/models"
	"github.com/Ranidpz/qrinfo-sub004/internal/otp"
	"github.com/Ranidpz/qrinfo-sub004/internal/registration"
	"github.com/Ranidpz/qrinfo-sub004/internal/token"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	RegistrationService *registration.Service
	QR                  *token.QRGenerator
	Logger              *logger.Logger
}

func NewHandler(registrationService *registration.Service, qr *token.QRGenerator, log *logger.Logger) *Handler {
	return &Handler{
		RegistrationService: registrationService,
		QR:                  qr,
		Logger:              log,
	}
}

// HandleRegister admits a register-intent through the capacity ledger. The
// duplicate-phone and capacity rejections carry enough payload for the client
// to recover without a second round trip.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("HandleRegister: failed to decode request body: %v", err))
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	reg, err := h.RegistrationService.Register(r.Context(), req)
	if err != nil {
		var capErr *capacity.CapacityExceededError
		switch {
		case errors.As(err, &capErr):
			h.Logger.Info("REGISTRATION", fmt.Sprintf("register rejected for slot %s: %d places left", req.SlotID, capErr.Available))
			resp := models.ErrorResponse{
				Error:          "Not enough places left",
				ErrorCode:      "CAPACITY_EXCEEDED",
				AvailableSlots: &capErr.Available,
			}
			writeJSON(w, http.StatusConflict, resp)
		case errors.Is(err, capacity.ErrPhoneAlreadyRegistered):
			writeError(w, http.StatusConflict, "Phone already registered", "ALREADY_REGISTERED")
		case errors.Is(err, capacity.ErrSlotNotFound):
			writeError(w, http.StatusNotFound, "Slot not found", "NOT_FOUND")
		case errors.Is(err, registration.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "Invalid registration input", "INVALID_INPUT")
		default:
			h.Logger.Error("REGISTRATION", fmt.Sprintf("register failed: %v", err))
			writeError(w, http.StatusInternalServerError, "Registration failed", "INTERNAL")
		}
		return
	}

	h.Logger.LogRegistration("register", reg.ID, fmt.Sprintf("slot=%s count=%d", reg.SlotID, reg.GuestCount))
	writeJSON(w, http.StatusCreated, models.RegisterResponse{
		RegistrationID:    reg.ID,
		RegistrationCount: reg.GuestCount,
	})
}

// HandleActiveSummary returns the already-registered summary for a
// (slot, phone) pair, 404 when the pair holds no active registration.
func (h *Handler) HandleActiveSummary(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	phone := r.URL.Query().Get("phone")
	if slotID == "" || phone == "" {
		writeError(w, http.StatusBadRequest, "Slot ID and phone are required", "INVALID_REQUEST")
		return
	}

	summary, err := h.RegistrationService.ActiveSummary(r.Context(), slotID, phone)
	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No active registration", "NOT_FOUND")
			return
		}
		h.Logger.Error("REGISTRATION", fmt.Sprintf("active summary lookup failed: %v", err))
		writeError(w, http.StatusInternalServerError, "Lookup failed", "INTERNAL")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// HandleCancel unregisters and frees the party's seats.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationID")
	if registrationID == "" {
		writeError(w, http.StatusBadRequest, "Registration ID is required", "INVALID_REQUEST")
		return
	}

	if err := h.RegistrationService.Cancel(r.Context(), registrationID); err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Registration not found", "NOT_FOUND")
			return
		}
		h.Logger.Error("REGISTRATION", fmt.Sprintf("cancel failed for %s: %v", registrationID, err))
		writeError(w, http.StatusInternalServerError, "Cancel failed", "INTERNAL")
		return
	}

	h.Logger.Info("REGISTRATION", fmt.Sprintf("registration %s cancelled", registrationID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleOtpSend issues (or re-issues) a challenge for a registration's phone.
// An unconfigured SMS channel is reported as SERVICE_NOT_CONFIGURED so the
// client can complete the flow unverified.
func (h *Handler) HandleOtpSend(w http.ResponseWriter, r *http.Request) {
	var req models.OtpSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("HandleOtpSend: failed to decode request body: %v", err))
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	err := h.RegistrationService.SendOtp(r.Context(), req.RegistrationID)
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrNotFound):
			writeError(w, http.StatusNotFound, "Registration not found", "NOT_FOUND")
		case errors.Is(err, otp.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "Verification is not configured", "SERVICE_NOT_CONFIGURED")
		case errors.Is(err, otp.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "Too many codes requested", "RATE_LIMITED")
		default:
			h.Logger.Error("OTP", fmt.Sprintf("send failed for %s: %v", req.RegistrationID, err))
			writeError(w, http.StatusInternalServerError, "Could not send code", "INTERNAL")
		}
		return
	}

	h.Logger.Info("OTP", fmt.Sprintf("code sent for registration %s", req.RegistrationID))
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

// HandleOtpVerify checks a submitted code; a rejected code reports how many
// attempts the challenge has left.
func (h *Handler) HandleOtpVerify(w http.ResponseWriter, r *http.Request) {
	var req models.OtpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("HandleOtpVerify: failed to decode request body: %v", err))
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	qrToken, err := h.RegistrationService.VerifyOtp(r.Context(), req.RegistrationID, req.Phone, req.Code)
	if err != nil {
		var invalid *otp.InvalidCodeError
		switch {
		case errors.As(err, &invalid):
			resp := models.ErrorResponse{
				Error:             "Wrong code",
				ErrorCode:         "INVALID_CODE",
				AttemptsRemaining: &invalid.AttemptsRemaining,
			}
			writeJSON(w, http.StatusUnauthorized, resp)
		case errors.Is(err, otp.ErrExpired):
			writeError(w, http.StatusGone, "Code expired", "EXPIRED")
		case errors.Is(err, otp.ErrBlocked):
			writeError(w, http.StatusTooManyRequests, "Too many wrong codes", "BLOCKED")
		case errors.Is(err, registration.ErrNotFound):
			writeError(w, http.StatusNotFound, "Registration not found", "NOT_FOUND")
		default:
			h.Logger.Error("OTP", fmt.Sprintf("verify failed for %s: %v", req.RegistrationID, err))
			writeError(w, http.StatusInternalServerError, "Could not verify code", "INTERNAL")
		}
		return
	}

	h.Logger.Info("OTP", fmt.Sprintf("registration %s verified", req.RegistrationID))
	writeJSON(w, http.StatusOK, models.OtpVerifyResponse{Success: true, QRToken: qrToken})
}

// HandlePassQR renders a registration's pass as a QR PNG. The fragment-URL
// encoding is the default; ?format=payload selects the structured app-to-app
// encoding.
func (h *Handler) HandlePassQR(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationID")
	if registrationID == "" {
		writeError(w, http.StatusBadRequest, "Registration ID is required", "INVALID_REQUEST")
		return
	}

	reg, err := h.RegistrationService.DB.GetByID(r.Context(), registrationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Registration not found", "NOT_FOUND")
		return
	}

	var png []byte
	if r.URL.Query().Get("format") == "payload" {
		png, err = h.QR.GeneratePayloadQR(reg.Token)
	} else {
		png, err = h.QR.GeneratePassQR(reg.Token)
	}
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("HandlePassQR: QR generation failed for %s: %v", registrationID, err))
		writeError(w, http.StatusInternalServerError, "Could not render pass", "INTERNAL")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, ErrorCode: code})
}
