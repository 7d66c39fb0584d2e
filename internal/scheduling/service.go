package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/clinicdesk/scheduling-engine/internal/redis"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Service is the booking transaction manager: the only component allowed to
// mutate slot state. Every transaction for a doctor runs under that doctor's
// distributed lock, and every slot mutation goes through the store's
// compare-and-swap, so two concurrent bookings of the same slot can never
// both commit.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	log     *zap.Logger
	metrics *Metrics
}

func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger, metrics *Metrics) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		log:     log.Named("booking"),
		metrics: metrics,
	}
}

// Book reserves a specific slot for a patient. Routine requests only ever
// take a free slot; emergency requests may displace a routine appointment
// occupying it.
func (s *Service) Book(ctx context.Context, patientID, slotID uuid.UUID, urgency Urgency) (*Appointment, error) {
	start := time.Now()

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	var appt *Appointment
	lockErr := s.locker.WithDoctorLock(ctx, slot.DoctorID, func(lockCtx context.Context) error {
		if urgency == UrgencyEmergency {
			window := RequestedWindow{From: slot.StartTime, To: slot.EndTime()}
			appt, err = s.bookEmergencyLocked(lockCtx, patientID, slot.DoctorID, window)
			return err
		}
		appt, err = s.commitBooking(lockCtx, patientID, slot, UrgencyRoutine)
		return err
	})
	if lockErr != nil {
		err := lockErr
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotConflict
		}
		s.observe(urgency, err, start)
		return nil, err
	}

	s.observe(urgency, nil, start)
	return appt, nil
}

// BookEmergency places an emergency appointment anywhere inside the
// requested window, displacing a routine appointment when no free slot
// exists.
func (s *Service) BookEmergency(ctx context.Context, patientID, doctorID uuid.UUID, window RequestedWindow) (*Appointment, error) {
	start := time.Now()

	if !window.To.After(window.From) {
		return nil, fmt.Errorf("%w: window end not after start", ErrInvalidRange)
	}
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	var appt *Appointment
	lockErr := s.locker.WithDoctorLock(ctx, doctorID, func(lockCtx context.Context) error {
		var err error
		appt, err = s.bookEmergencyLocked(lockCtx, patientID, doctorID, window)
		return err
	})
	if lockErr != nil {
		err := lockErr
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotConflict
		}
		s.observe(UrgencyEmergency, err, start)
		return nil, err
	}

	s.observe(UrgencyEmergency, nil, start)
	return appt, nil
}

// Cancel releases an appointment's slot. Cancelling an already cancelled
// appointment is a no-op that returns the existing record.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusCancelled:
		return appt, nil
	case StatusSuperseded:
		return nil, ErrInvalidStatusTransition
	}

	var cancelled *Appointment
	lockErr := s.locker.WithDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		updated, err := s.repo.UpdateAppointmentStatus(lockCtx, appt.ID, StatusConfirmed, StatusCancelled)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Lost a race with another cancel; re-read and report
				// the settled state.
				current, readErr := s.repo.GetAppointmentByID(lockCtx, appt.ID)
				if readErr == nil && current.Status == StatusCancelled {
					cancelled = current
					return nil
				}
				return ErrInvalidStatusTransition
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := s.repo.Transition(lockCtx, appt.SlotID, SlotBooked, SlotFree); err != nil {
			// Put the appointment back so the slot's confirmed booking
			// survives the failed cancel.
			if _, restoreErr := s.repo.UpdateAppointmentStatus(lockCtx, appt.ID, StatusCancelled, StatusConfirmed); restoreErr != nil {
				s.log.Error("cancel rollback failed: booked slot left without a confirmed appointment",
					zap.String("appointment_id", appt.ID.String()),
					zap.String("slot_id", appt.SlotID.String()),
					zap.Error(restoreErr),
				)
			}
			return fmt.Errorf("release slot: %w", err)
		}

		cancelled = updated
		return nil
	})
	if lockErr != nil {
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotConflict
		}
		return nil, lockErr
	}

	return cancelled, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// commitBooking is the routine commit path: free -> held -> booked with the
// appointment created in between. Caller cancellation is honored up to the
// first transition attempt; after that the commit runs on a detached context
// so a half-held slot can never be abandoned by a hung caller.
func (s *Service) commitBooking(ctx context.Context, patientID uuid.UUID, slot *Slot, urgency Urgency) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commitCtx := context.WithoutCancel(ctx)

	if err := s.holdSlot(commitCtx, slot.ID); err != nil {
		return nil, err
	}

	appt, err := s.repo.CreateAppointment(commitCtx, slot.ID, patientID, slot.DoctorID, urgency)
	if err != nil {
		s.releaseHold(commitCtx, slot.ID)
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	if err := s.repo.Transition(commitCtx, slot.ID, SlotHeld, SlotBooked); err != nil {
		if delErr := s.repo.DeleteAppointment(commitCtx, appt.ID); delErr != nil {
			s.log.Error("rollback failed: orphan appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(delErr),
			)
		}
		s.releaseHold(commitCtx, slot.ID)
		return nil, fmt.Errorf("commit slot: %w", err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("slot_id", slot.ID.String()),
		zap.String("patient_id", patientID.String()),
		zap.String("urgency", string(urgency)),
	)
	return appt, nil
}

// holdSlot attempts free -> held with a single bounded retry. The retry
// covers transient contention only; a second stale read means the slot is
// genuinely gone and the caller must re-query.
func (s *Service) holdSlot(ctx context.Context, slotID uuid.UUID) error {
	err := s.repo.Transition(ctx, slotID, SlotFree, SlotHeld)
	if errors.Is(err, ErrStaleState) {
		err = s.repo.Transition(ctx, slotID, SlotFree, SlotHeld)
	}
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return ErrSlotConflict
		}
		return err
	}
	return nil
}

// releaseHold returns a held slot to free during rollback. A failure here is
// logged loudly: a slot must never be left held after a failed booking.
func (s *Service) releaseHold(ctx context.Context, slotID uuid.UUID) {
	if err := s.repo.Transition(ctx, slotID, SlotHeld, SlotFree); err != nil {
		s.log.Error("failed to release held slot during rollback",
			zap.String("slot_id", slotID.String()),
			zap.Error(err),
		)
	}
}

// bookEmergencyLocked runs the override policy over a snapshot taken under
// the doctor lock and executes its decision. The bump sequence is a single
// unit: if any sub-step fails, every prior step is compensated so the victim
// keeps its slot exactly as before.
func (s *Service) bookEmergencyLocked(ctx context.Context, patientID, doctorID uuid.UUID, window RequestedWindow) (*Appointment, error) {
	snapshot, err := s.repo.ListSlotBookings(ctx, doctorID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("snapshot slots: %w", err)
	}

	decision := DecideEmergency(window, snapshot)

	switch decision.Kind {
	case DecisionBookFree:
		return s.commitBooking(ctx, patientID, decision.Slot, UrgencyEmergency)

	case DecisionBumpExisting:
		appt, err := s.bump(ctx, patientID, decision.Slot, decision.VictimAppointmentID)
		if err != nil {
			s.metrics.ObserveBump("failed")
			return nil, err
		}
		s.metrics.ObserveBump("displaced")
		return appt, nil

	default:
		return nil, &ConflictError{Reason: decision.Reason}
	}
}

func (s *Service) bump(ctx context.Context, patientID uuid.UUID, slot *Slot, victimID uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commitCtx := context.WithoutCancel(ctx)

	// Recheck under the lock that the victim from the snapshot still holds
	// the slot before superseding it.
	confirmed, err := s.repo.GetConfirmedAppointmentForSlot(commitCtx, slot.ID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("recheck bumped slot: %w", err)
	}
	if confirmed.ID != victimID {
		return nil, ErrSlotConflict
	}

	victim, err := s.repo.UpdateAppointmentStatus(commitCtx, victimID, StatusConfirmed, StatusSuperseded)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("supersede victim: %w", err)
	}

	if err := s.repo.Transition(commitCtx, slot.ID, SlotBooked, SlotHeld); err != nil {
		s.restoreVictim(commitCtx, victim.ID)
		return nil, fmt.Errorf("hold bumped slot: %w", errors.Join(ErrSlotConflict, err))
	}

	appt, err := s.repo.CreateAppointment(commitCtx, slot.ID, patientID, slot.DoctorID, UrgencyEmergency)
	if err != nil {
		s.rollbackBump(commitCtx, slot.ID, victim.ID, uuid.Nil, false)
		return nil, fmt.Errorf("create emergency appointment: %w", errors.Join(ErrSlotConflict, err))
	}

	ev := DisplacementEvent{
		ID:            uuid.New(),
		AppointmentID: victim.ID,
		PatientID:     victim.PatientID,
		DoctorID:      slot.DoctorID,
		SlotStart:     slot.StartTime,
	}
	if err := s.repo.InsertDisplacement(commitCtx, ev); err != nil {
		s.rollbackBump(commitCtx, slot.ID, victim.ID, appt.ID, false)
		return nil, fmt.Errorf("record displacement: %w", errors.Join(ErrSlotConflict, err))
	}

	if err := s.repo.Transition(commitCtx, slot.ID, SlotHeld, SlotBooked); err != nil {
		s.rollbackBump(commitCtx, slot.ID, victim.ID, appt.ID, true)
		return nil, fmt.Errorf("commit bumped slot: %w", errors.Join(ErrSlotConflict, err))
	}

	s.log.Info("routine appointment displaced by emergency",
		zap.String("victim_appointment_id", victim.ID.String()),
		zap.String("new_appointment_id", appt.ID.String()),
		zap.String("slot_id", slot.ID.String()),
		zap.Time("slot_start", slot.StartTime),
	)
	return appt, nil
}

// rollbackBump undoes a partial bump in reverse order: drop the displacement
// record, drop the new appointment, return the slot to booked, and restore
// the victim to confirmed.
func (s *Service) rollbackBump(ctx context.Context, slotID, victimID, newApptID uuid.UUID, evInserted bool) {
	if evInserted {
		if err := s.repo.DeleteDisplacement(ctx, victimID); err != nil {
			s.log.Error("rollback failed: displacement record remains",
				zap.String("victim_appointment_id", victimID.String()),
				zap.Error(err),
			)
		}
	}
	if newApptID != uuid.Nil {
		if err := s.repo.DeleteAppointment(ctx, newApptID); err != nil {
			s.log.Error("rollback failed: orphan emergency appointment",
				zap.String("appointment_id", newApptID.String()),
				zap.Error(err),
			)
		}
	}
	if err := s.repo.Transition(ctx, slotID, SlotHeld, SlotBooked); err != nil {
		s.log.Error("rollback failed: slot not restored to booked",
			zap.String("slot_id", slotID.String()),
			zap.Error(err),
		)
	}
	s.restoreVictim(ctx, victimID)
}

func (s *Service) restoreVictim(ctx context.Context, victimID uuid.UUID) {
	if _, err := s.repo.UpdateAppointmentStatus(ctx, victimID, StatusSuperseded, StatusConfirmed); err != nil {
		s.log.Error("rollback failed: victim left superseded",
			zap.String("victim_appointment_id", victimID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) observe(urgency Urgency, err error, start time.Time) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrSlotConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	s.metrics.ObserveBooking(urgency, outcome, time.Since(start).Seconds())
}
