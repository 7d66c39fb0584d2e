package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, hour int) time.Time {
	t.Helper()
	return time.Date(2026, 9, 14, hour, 0, 0, 0, time.UTC)
}

func slotAt(start time.Time, state SlotState) Slot {
	return Slot{ID: uuid.New(), DoctorID: uuid.New(), StartTime: start, DurationMinutes: 30, State: state}
}

func booked(slot Slot, urgency Urgency) SlotBooking {
	slot.State = SlotBooked
	return SlotBooking{
		Slot: slot,
		Appointment: &Appointment{
			ID: uuid.New(), SlotID: slot.ID, PatientID: uuid.New(), DoctorID: slot.DoctorID,
			Status: StatusConfirmed, Urgency: urgency,
		},
	}
}

func TestDecideEmergencyPrefersFreeSlot(t *testing.T) {
	window := RequestedWindow{From: day(t, 9), To: day(t, 12)}

	free := slotAt(day(t, 11), SlotFree)
	snapshot := []SlotBooking{
		booked(slotAt(day(t, 9), SlotBooked), UrgencyRoutine),
		{Slot: free},
		booked(slotAt(day(t, 10), SlotBooked), UrgencyRoutine),
	}

	d := DecideEmergency(window, snapshot)

	require.Equal(t, DecisionBookFree, d.Kind)
	assert.Equal(t, free.ID, d.Slot.ID)
}

// Doctor has S1 free at 9:00 outside the window, S2 and S3 booked routine at
// 10:00 and 11:00. An emergency for 10:00-11:30 must bump S3, the latest
// routine start in the window.
func TestDecideEmergencyBumpsLatestRoutine(t *testing.T) {
	s1 := SlotBooking{Slot: slotAt(day(t, 9), SlotFree)}
	s2 := booked(slotAt(day(t, 10), SlotBooked), UrgencyRoutine)
	s3 := booked(slotAt(day(t, 11), SlotBooked), UrgencyRoutine)

	window := RequestedWindow{From: day(t, 10), To: day(t, 11).Add(30 * time.Minute)}

	d := DecideEmergency(window, []SlotBooking{s1, s2, s3})

	require.Equal(t, DecisionBumpExisting, d.Kind)
	assert.Equal(t, s3.Slot.ID, d.Slot.ID)
	assert.Equal(t, s3.Appointment.ID, d.VictimAppointmentID)
}

func TestDecideEmergencyNeverBumpsEmergencies(t *testing.T) {
	window := RequestedWindow{From: day(t, 9), To: day(t, 12)}

	snapshot := []SlotBooking{
		booked(slotAt(day(t, 9), SlotBooked), UrgencyEmergency),
		booked(slotAt(day(t, 10), SlotBooked), UrgencyEmergency),
	}

	d := DecideEmergency(window, snapshot)

	require.Equal(t, DecisionDeny, d.Kind)
	assert.Equal(t, DenyEmergenciesOnly, d.Reason)
}

func TestDecideEmergencyDeniesEmptyWindow(t *testing.T) {
	window := RequestedWindow{From: day(t, 9), To: day(t, 12)}

	// Only slots outside the window.
	snapshot := []SlotBooking{
		booked(slotAt(day(t, 14), SlotBooked), UrgencyRoutine),
	}

	d := DecideEmergency(window, snapshot)

	require.Equal(t, DecisionDeny, d.Kind)
	assert.Equal(t, DenyNoSlotsInRange, d.Reason)

	d = DecideEmergency(window, nil)
	require.Equal(t, DecisionDeny, d.Kind)
	assert.Equal(t, DenyNoSlotsInRange, d.Reason)
}

func TestDecideEmergencyTieBreakLowestSlotID(t *testing.T) {
	window := RequestedWindow{From: day(t, 9), To: day(t, 12)}
	start := day(t, 11)

	a := booked(slotAt(start, SlotBooked), UrgencyRoutine)
	b := booked(slotAt(start, SlotBooked), UrgencyRoutine)

	want := a
	if uuidLess(b.Slot.ID, a.Slot.ID) {
		want = b
	}

	// Evaluate both orders: the pick must not depend on snapshot order.
	d1 := DecideEmergency(window, []SlotBooking{a, b})
	d2 := DecideEmergency(window, []SlotBooking{b, a})

	require.Equal(t, DecisionBumpExisting, d1.Kind)
	require.Equal(t, DecisionBumpExisting, d2.Kind)
	assert.Equal(t, want.Slot.ID, d1.Slot.ID)
	assert.Equal(t, want.Slot.ID, d2.Slot.ID)
}

func TestDecideEmergencyIgnoresHeldAndBlocked(t *testing.T) {
	window := RequestedWindow{From: day(t, 9), To: day(t, 12)}

	snapshot := []SlotBooking{
		{Slot: slotAt(day(t, 9), SlotHeld)},
		{Slot: slotAt(day(t, 10), SlotBlocked)},
	}

	d := DecideEmergency(window, snapshot)

	require.Equal(t, DecisionDeny, d.Kind)
	// "emergencies_only" is the catch-all: it covers windows where slots
	// exist but none is free or displaceable, even with no emergency booked.
	assert.Equal(t, DenyEmergenciesOnly, d.Reason)
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
