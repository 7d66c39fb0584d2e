package scheduling

import "errors"

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStaleState is the slot store's compare-and-swap failure. It stays
	// internal to the booking manager and is surfaced as ErrSlotConflict.
	ErrStaleState = errors.New("slot state changed since read")

	ErrInvalidRange = errors.New("invalid date range")

	ErrSlotConflict = errors.New("slot no longer available")
)

// DenyReason explains an emergency booking denial.
type DenyReason string

const (
	DenyEmergenciesOnly DenyReason = "emergencies_only" // window fully booked by emergencies
	DenyNoSlotsInRange  DenyReason = "no_slots_in_range"
)

// ConflictError wraps ErrSlotConflict with the policy's denial reason when
// an emergency request could not be placed.
type ConflictError struct {
	Reason DenyReason
}

func (e *ConflictError) Error() string {
	return "booking conflict: " + string(e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrSlotConflict
}
