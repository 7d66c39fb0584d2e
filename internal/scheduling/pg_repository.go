package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgDB is the slice of pgxpool.Pool the repository uses; it also matches
// pgxmock's pool interface so tests can inject a mock.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool pgDB
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithDB(db pgDB) *PgRepository {
	return &PgRepository{pool: db}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.FirstName,
		&d.LastName,
		&d.Specialty,
		&d.Phone,
		&d.OfficeLocation,
		&d.OnRoster,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.DurationMinutes,
		&s.State,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.DoctorID,
		&a.Status,
		&a.Urgency,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Doctors and patients

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, specialty, phone, office_location, on_roster, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

// SearchDoctors matches roster doctors by name fragment or specialty.
func (r *PgRepository) SearchDoctors(ctx context.Context, query string, limit int) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, first_name, last_name, specialty, phone, office_location, on_roster, created_at, updated_at
		FROM doctors
		WHERE on_roster
		  AND (first_name ILIKE '%' || $1 || '%'
		   OR  last_name  ILIKE '%' || $1 || '%'
		   OR  specialty  ILIKE '%' || $1 || '%')
		ORDER BY last_name, first_name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE email = $1
	`, email)
	return scanPatient(row)
}

// Slots

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, duration_minutes, state, created_at, updated_at
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, start_time, duration_minutes, state, created_at, updated_at
		FROM slots
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time, id
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) ListFreeSlots(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	if q.DoctorID != nil {
		rows, err := r.pool.Query(ctx, `
			SELECT id, doctor_id, start_time, duration_minutes, state, created_at, updated_at
			FROM slots
			WHERE doctor_id = $1
			  AND state = 'free'
			  AND start_time >= $2
			  AND start_time < $3
			  AND duration_minutes >= $4
			ORDER BY start_time, id
		`, *q.DoctorID, q.From, q.To, q.DurationMinutes)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return collectSlots(rows)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.doctor_id, s.start_time, s.duration_minutes, s.state, s.created_at, s.updated_at
		FROM slots s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE d.specialty ILIKE $1
		  AND d.on_roster
		  AND s.state = 'free'
		  AND s.start_time >= $2
		  AND s.start_time < $3
		  AND s.duration_minutes >= $4
		ORDER BY s.start_time, s.id
	`, q.Specialty, q.From, q.To, q.DurationMinutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListSlotBookings(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]SlotBooking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.doctor_id, s.start_time, s.duration_minutes, s.state, s.created_at, s.updated_at,
		       a.id, a.slot_id, a.patient_id, a.doctor_id, a.status, a.urgency, a.created_at, a.updated_at
		FROM slots s
		LEFT JOIN appointments a
		       ON a.slot_id = s.id AND a.status = 'confirmed'
		WHERE s.doctor_id = $1
		  AND s.start_time >= $2
		  AND s.start_time < $3
		ORDER BY s.start_time, s.id
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotBooking
	for rows.Next() {
		var sb SlotBooking
		var (
			apptID        *uuid.UUID
			apptSlotID    *uuid.UUID
			apptPatientID *uuid.UUID
			apptDoctorID  *uuid.UUID
			apptStatus    *AppointmentStatus
			apptUrgency   *Urgency
			apptCreated   *time.Time
			apptUpdated   *time.Time
		)

		err := rows.Scan(
			&sb.Slot.ID,
			&sb.Slot.DoctorID,
			&sb.Slot.StartTime,
			&sb.Slot.DurationMinutes,
			&sb.Slot.State,
			&sb.Slot.CreatedAt,
			&sb.Slot.UpdatedAt,
			&apptID,
			&apptSlotID,
			&apptPatientID,
			&apptDoctorID,
			&apptStatus,
			&apptUrgency,
			&apptCreated,
			&apptUpdated,
		)
		if err != nil {
			return nil, err
		}

		if apptID != nil {
			sb.Appointment = &Appointment{
				ID:        *apptID,
				SlotID:    *apptSlotID,
				PatientID: *apptPatientID,
				DoctorID:  *apptDoctorID,
				Status:    *apptStatus,
				Urgency:   *apptUrgency,
				CreatedAt: *apptCreated,
				UpdatedAt: *apptUpdated,
			}
		}
		result = append(result, sb)
	}
	return result, rows.Err()
}

// Transition is the slot store's compare-and-swap. Zero rows affected means
// the slot either does not exist or is no longer in the expected state.
func (r *PgRepository) Transition(ctx context.Context, slotID uuid.UUID, expected, next SlotState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET state = $2,
		    updated_at = now()
		WHERE id = $1
		  AND state = $3
	`, slotID, next, expected)
	if err != nil {
		return fmt.Errorf("transition slot %s %s->%s: %w", slotID, expected, next, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSlotByID(ctx, slotID); err != nil {
			return err
		}
		return ErrStaleState
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, slot_id, patient_id, doctor_id, status, urgency, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetConfirmedAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, slot_id, patient_id, doctor_id, status, urgency, created_at, updated_at
		FROM appointments
		WHERE slot_id = $1 AND status = 'confirmed'
	`, slotID)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, slotID, patientID, doctorID uuid.UUID, urgency Urgency) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, doctor_id, status, urgency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'confirmed', $5, now(), now())
		RETURNING id, slot_id, patient_id, doctor_id, status, urgency, created_at, updated_at
	`, id, slotID, patientID, doctorID, urgency)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, slot_id, patient_id, doctor_id, status, urgency, created_at, updated_at
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %s: %w", id, err)
	}
	return nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, slot_id, patient_id, doctor_id, status, urgency, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// Displacement outbox

func (r *PgRepository) InsertDisplacement(ctx context.Context, ev DisplacementEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO displacement_outbox (id, appointment_id, patient_id, doctor_id, slot_start, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, ev.ID, ev.AppointmentID, ev.PatientID, ev.DoctorID, ev.SlotStart)
	if err != nil {
		return fmt.Errorf("insert displacement event: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteDisplacement(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM displacement_outbox
		WHERE appointment_id = $1 AND delivered_at IS NULL
	`, appointmentID)
	if err != nil {
		return fmt.Errorf("delete displacement event: %w", err)
	}
	return nil
}

func (r *PgRepository) FetchPendingDisplacements(ctx context.Context, limit int32) ([]DisplacementEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, patient_id, doctor_id, slot_start, created_at, delivered_at
		FROM displacement_outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending displacements: %w", err)
	}
	defer rows.Close()

	var result []DisplacementEvent
	for rows.Next() {
		var ev DisplacementEvent
		if err := rows.Scan(&ev.ID, &ev.AppointmentID, &ev.PatientID, &ev.DoctorID, &ev.SlotStart, &ev.CreatedAt, &ev.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan displacement event: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkDisplacementDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE displacement_outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark displacement delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Slot generation support

func (r *PgRepository) ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, available
		FROM schedules
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		var sc Schedule
		var day int
		if err := rows.Scan(&sc.ID, &sc.DoctorID, &day, &sc.StartTime, &sc.EndTime, &sc.Available); err != nil {
			return nil, err
		}
		sc.DayOfWeek = time.Weekday(day)
		result = append(result, sc)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListRosterDoctorIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM doctors WHERE on_roster ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertSlots inserts pre-generated slots, skipping any (doctor, start) pair
// that already exists so the generator can be re-run over the same horizon.
func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) (int, error) {
	inserted := 0
	for _, s := range slots {
		tag, err := r.pool.Exec(ctx, `
			INSERT INTO slots (id, doctor_id, start_time, duration_minutes, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'free', now(), now())
			ON CONFLICT (doctor_id, start_time) DO NOTHING
		`, s.ID, s.DoctorID, s.StartTime, s.DurationMinutes)
		if err != nil {
			return inserted, fmt.Errorf("insert slot: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
