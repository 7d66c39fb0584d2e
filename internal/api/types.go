package api

import (
	"time"

	"github.com/google/uuid"
)

// BookingKind is the closed set of request variants the engine accepts from
// the upstream interaction layer.
type BookingKind string

const (
	KindRoutine   BookingKind = "routine"
	KindEmergency BookingKind = "emergency"
)

// BookingRequest is a tagged variant: routine bookings target a slot,
// emergency bookings may instead give a doctor plus a time window.
type BookingRequest struct {
	Kind       BookingKind `json:"kind" validate:"required,oneof=routine emergency"`
	SlotID     string      `json:"slot_id,omitempty" validate:"omitempty,uuid4"`
	DoctorID   string      `json:"doctor_id,omitempty" validate:"omitempty,uuid4"`
	WindowFrom *time.Time  `json:"window_from,omitempty"`
	WindowTo   *time.Time  `json:"window_to,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	SlotID    uuid.UUID `json:"slot_id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Status    string    `json:"status"`
	Urgency   string    `json:"urgency"`
	CreatedAt time.Time `json:"created_at"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	State           string    `json:"state"`
}

type PatientResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
	Phone *string   `json:"phone,omitempty"`
}

type DoctorResponse struct {
	ID             uuid.UUID `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Specialty      string    `json:"specialty"`
	Phone          *string   `json:"phone,omitempty"`
	OfficeLocation *string   `json:"office_location,omitempty"`
	Bookable       bool      `json:"bookable"`
}

type ExternalDoctorResponse struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Source    string `json:"source"`
	Bookable  bool   `json:"bookable"` // always false
}

type DoctorSearchResponse struct {
	Roster   []DoctorResponse         `json:"roster"`
	External []ExternalDoctorResponse `json:"external,omitempty"`
}

type BillingResponse struct {
	DoctorID string `json:"doctor_id"`
	Page     string `json:"page"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
