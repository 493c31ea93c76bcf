package models

import "time"

type CheckinRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"` // "checkin" or "undo"
}

// Guest is the slice of a registration surfaced to the scanner operator.
type Guest struct {
	RegistrationID string `json:"registrationId"`
	Name           string `json:"name"`
	GuestCount     int    `json:"guestCount"`
	Verified       bool   `json:"verified"`
}

type CheckinResult struct {
	Guest          Guest      `json:"guest"`
	AlreadyArrived bool       `json:"alreadyArrived"`
	CheckedInAt    *time.Time `json:"checkedInAt,omitempty"`
}

type ErrorResponse struct {
	Error             string `json:"error"`
	ErrorCode         string `json:"errorCode,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
	AvailableSlots    *int   `json:"availableSlots,omitempty"`
}

// RosterSnapshot is the derived, replaced-in-full view of an event's guests.
type RosterSnapshot struct {
	EventID          string         `json:"event_id"`
	Guests           []Registration `json:"guests"`
	TotalRegistered  int            `json:"total_registered"`
	TotalPartySize   int            `json:"total_party_size"`
	TotalArrived     int            `json:"total_arrived"`
	ArrivedPartySize int            `json:"arrived_party_size"`
	GeneratedAt      time.Time      `json:"generated_at"`
}
