package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the booking engine.
//
// Transition is the sole slot mutation primitive: a compare-and-swap that
// succeeds only when the slot is still in the expected state and fails with
// ErrStaleState otherwise. Every other slot method is a read.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListSlots returns all of a doctor's slots in [from, to), ordered by
	// start time.
	ListSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	// ListFreeSlots enumerates FREE slots matching either a doctor or a
	// specialty, ordered by start time. durationMinutes filters out slots
	// shorter than the requested visit length.
	ListFreeSlots(ctx context.Context, q AvailabilityQuery) ([]Slot, error)
	// ListSlotBookings returns a doctor's slots in [from, to) joined with
	// their confirmed appointment, if any. Snapshot input for the
	// emergency override policy.
	ListSlotBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]SlotBooking, error)
	Transition(ctx context.Context, slotID uuid.UUID, expected, next SlotState) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetConfirmedAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, slotID, patientID, doctorID uuid.UUID, urgency Urgency) (*Appointment, error)
	// UpdateAppointmentStatus is a compare-and-swap on appointment status;
	// it returns ErrAppointmentNotFound when the row is not in `from`.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// DeleteAppointment removes an appointment that was created inside a
	// failed bump and must never become visible.
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Displacement outbox
	InsertDisplacement(ctx context.Context, ev DisplacementEvent) error
	DeleteDisplacement(ctx context.Context, appointmentID uuid.UUID) error
}

// AvailabilityQuery selects free slots by doctor or by specialty within a
// date range. Exactly one of DoctorID / Specialty is set.
type AvailabilityQuery struct {
	DoctorID        *uuid.UUID
	Specialty       string
	From            time.Time
	To              time.Time
	DurationMinutes int
}
