package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Arrival status values for a registration.
const (
	StatusRegistered = "registered"
	StatusArrived    = "arrived"
	StatusCancelled  = "cancelled"
)

// MaxGuestCount bounds the party size accepted on a single registration.
const MaxGuestCount = 10

type Registration struct {
	bun.BaseModel `bun:"table:registrations"`

	ID         string     `bun:"id,pk" json:"id"`
	EventID    string     `bun:"event_id,notnull" json:"event_id"`
	SlotID     string     `bun:"slot_id,notnull" json:"slot_id"`
	Name       string     `bun:"name,notnull" json:"name"`
	Phone      string     `bun:"phone,notnull" json:"phone"`
	GuestCount int        `bun:"guest_count,notnull" json:"guest_count"`
	AvatarURL  string     `bun:"avatar_url,nullzero" json:"avatar_url,omitempty"`
	Token      string     `bun:"token,unique,notnull" json:"token"`
	Verified   bool       `bun:"verified" json:"verified"`
	Status     string     `bun:"status,notnull" json:"status"`
	ArrivedAt  *time.Time `bun:"arrived_at,nullzero" json:"arrived_at,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"created_at"`
}

type Slot struct {
	bun.BaseModel `bun:"table:slots"`

	ID              string    `bun:"id,pk" json:"id"`
	EventID         string    `bun:"event_id,notnull" json:"event_id"`
	StartTime       time.Time `bun:"start_time,notnull" json:"start_time"`
	EndTime         time.Time `bun:"end_time,notnull" json:"end_time"`
	Capacity        int       `bun:"capacity,notnull" json:"capacity"` // 0 = unlimited
	RegisteredCount int       `bun:"registered_count,notnull" json:"registered_count"`
}

// RegisterRequest is the register-intent payload.
type RegisterRequest struct {
	EventID   string `json:"event_id"`
	SlotID    string `json:"slot_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Count     int    `json:"count"`
	AvatarURL string `json:"avatar,omitempty"`
}

type RegisterResponse struct {
	RegistrationID    string `json:"registrationId"`
	RegistrationCount int    `json:"registrationCount"`
}

// RegistrationSummary is returned when the caller re-opens registration for a
// slot/phone pair that already holds an active registration.
type RegistrationSummary struct {
	RegistrationID    string `json:"registrationId"`
	Name              string `json:"name"`
	GuestCount        int    `json:"guestCount"`
	Verified          bool   `json:"verified"`
	Token             string `json:"token"`
	AlreadyRegistered bool   `json:"alreadyRegistered"`
}
