package scheduling

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// DecisionKind is what the emergency override policy tells the booking
// manager to do.
type DecisionKind int

const (
	DecisionBookFree DecisionKind = iota
	DecisionBumpExisting
	DecisionDeny
)

// Decision is the outcome of evaluating the override rules against a
// snapshot of a doctor's slots within the requested window.
type Decision struct {
	Kind DecisionKind

	// Slot to book: the free slot for BookFree, the victim's slot for
	// BumpExisting.
	Slot *Slot

	// VictimAppointmentID is set only for BumpExisting.
	VictimAppointmentID uuid.UUID

	// Reason is set only for Deny.
	Reason DenyReason
}

// RequestedWindow bounds an emergency request in time.
type RequestedWindow struct {
	From time.Time
	To   time.Time
}

func (w RequestedWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// DecideEmergency is the emergency override policy. It is a pure function
// over the snapshot the caller fetched under the doctor lock; it never
// touches storage itself.
//
// Rules, in order:
//  1. a FREE slot in the window wins (earliest first);
//  2. otherwise displace the ROUTINE appointment with the latest start time
//     in the window, so the patient closest to being seen keeps their slot;
//  3. otherwise deny: "no_slots_in_range" when the window holds no slots at
//     all, "emergencies_only" for everything else. The second reason is a
//     catch-all bin, so a window of only held or blocked slots reports
//     "emergencies_only" even when no emergency appointment exists.
//
// Emergencies never displace emergencies, so a bump can never cascade.
func DecideEmergency(window RequestedWindow, snapshot []SlotBooking) Decision {
	inWindow := 0

	for i := range snapshot {
		sb := &snapshot[i]
		if !window.Contains(sb.Slot.StartTime) {
			continue
		}
		inWindow++
		if sb.Slot.State == SlotFree {
			slot := sb.Slot
			return Decision{Kind: DecisionBookFree, Slot: &slot}
		}
	}

	var victim *SlotBooking
	for i := range snapshot {
		sb := &snapshot[i]
		if !window.Contains(sb.Slot.StartTime) {
			continue
		}
		if sb.Slot.State != SlotBooked || sb.Appointment == nil {
			continue
		}
		if sb.Appointment.Urgency != UrgencyRoutine {
			continue
		}
		if victim == nil || laterVictim(sb, victim) {
			victim = sb
		}
	}

	if victim != nil {
		slot := victim.Slot
		return Decision{
			Kind:                DecisionBumpExisting,
			Slot:                &slot,
			VictimAppointmentID: victim.Appointment.ID,
		}
	}

	if inWindow == 0 {
		return Decision{Kind: DecisionDeny, Reason: DenyNoSlotsInRange}
	}
	return Decision{Kind: DecisionDeny, Reason: DenyEmergenciesOnly}
}

// laterVictim reports whether a should displace b as the chosen victim:
// latest start time wins, ties broken by the lowest slot id so the choice
// is deterministic.
func laterVictim(a, b *SlotBooking) bool {
	if a.Slot.StartTime.After(b.Slot.StartTime) {
		return true
	}
	if a.Slot.StartTime.Before(b.Slot.StartTime) {
		return false
	}
	return bytes.Compare(a.Slot.ID[:], b.Slot.ID[:]) < 0
}
