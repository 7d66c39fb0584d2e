package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotState string

const (
	SlotFree    SlotState = "free"
	SlotHeld    SlotState = "held"
	SlotBooked  SlotState = "booked"
	SlotBlocked SlotState = "blocked"
)

type AppointmentStatus string

const (
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusSuperseded AppointmentStatus = "superseded"
)

type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyEmergency Urgency = "emergency"
)

type Doctor struct {
	ID             uuid.UUID
	FirstName      string
	LastName       string
	Specialty      string
	Phone          *string
	OfficeLocation *string
	// OnRoster marks doctors that belong to the clinic and own slots.
	// Externally discovered doctors are display-only and never bookable.
	OnRoster  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule is one weekly working-hours window for a doctor. Schedules are
// input to slot pre-generation only; the booking engine never reads them.
type Schedule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	StartTime string // "09:00"
	EndTime   string // "17:00"
	Available bool
}

// Slot is a fixed-duration unit of bookable doctor time. Slots are
// pre-generated for the scheduling horizon and only ever transition state.
type Slot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	State           SlotState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Slot) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

type Appointment struct {
	ID        uuid.UUID
	SlotID    uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    AppointmentStatus
	Urgency   Urgency
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotBooking pairs a slot with its confirmed appointment, when one exists.
// It is the snapshot row the emergency override policy decides over.
type SlotBooking struct {
	Slot        Slot
	Appointment *Appointment
}

// DisplacementEvent is emitted exactly once for every superseded appointment
// and consumed by the external notification collaborator.
type DisplacementEvent struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	SlotStart     time.Time
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}
