package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPgRepositoryWithDB(mock), mock
}

func slotColumns() []string {
	return []string{"id", "doctor_id", "start_time", "duration_minutes", "state", "created_at", "updated_at"}
}

func appointmentColumns() []string {
	return []string{"id", "slot_id", "patient_id", "doctor_id", "status", "urgency", "created_at", "updated_at"}
}

func TestTransitionSuccess(t *testing.T) {
	repo, mock := newMockRepo(t)
	slotID := uuid.New()

	mock.ExpectExec("UPDATE slots").
		WithArgs(slotID, SlotHeld, SlotFree).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.Transition(context.Background(), slotID, SlotFree, SlotHeld)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Zero rows updated with the slot still present means a concurrent writer
// moved it first.
func TestTransitionStaleState(t *testing.T) {
	repo, mock := newMockRepo(t)
	slotID := uuid.New()
	now := time.Now()

	mock.ExpectExec("UPDATE slots").
		WithArgs(slotID, SlotHeld, SlotFree).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM slots").
		WithArgs(slotID).
		WillReturnRows(pgxmock.NewRows(slotColumns()).
			AddRow(slotID, uuid.New(), now, 30, SlotBooked, now, now))

	err := repo.Transition(context.Background(), slotID, SlotFree, SlotHeld)
	assert.ErrorIs(t, err, ErrStaleState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionSlotMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	slotID := uuid.New()

	mock.ExpectExec("UPDATE slots").
		WithArgs(slotID, SlotHeld, SlotFree).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM slots").
		WithArgs(slotID).
		WillReturnError(pgx.ErrNoRows)

	err := repo.Transition(context.Background(), slotID, SlotFree, SlotHeld)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDoctorByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM doctors").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetDoctorByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPatientByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	email := "pat@example.com"
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM patients").
		WithArgs(email).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "email", "phone", "created_at", "updated_at"}).
			AddRow(id, "Pat Doe", &email, nil, now, now))

	patient, err := repo.GetPatientByEmail(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, id, patient.ID)

	mock.ExpectQuery("SELECT (.+) FROM patients").
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetPatientByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrPatientNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAppointmentReturnsRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	slotID, patientID, doctorID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), slotID, patientID, doctorID, UrgencyEmergency).
		WillReturnRows(pgxmock.NewRows(appointmentColumns()).
			AddRow(uuid.New(), slotID, patientID, doctorID, StatusConfirmed, UrgencyEmergency, now, now))

	appt, err := repo.CreateAppointment(context.Background(), slotID, patientID, doctorID, UrgencyEmergency)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, UrgencyEmergency, appt.Urgency)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointmentStatusLostRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, StatusCancelled, StatusConfirmed).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateAppointmentStatus(context.Background(), id, StatusConfirmed, StatusCancelled)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPendingDisplacements(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	ev := DisplacementEvent{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		SlotStart:     now.Add(time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM displacement_outbox").
		WithArgs(int32(10)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "patient_id", "doctor_id", "slot_start", "created_at", "delivered_at"}).
			AddRow(ev.ID, ev.AppointmentID, ev.PatientID, ev.DoctorID, ev.SlotStart, now, nil))

	events, err := repo.FetchPendingDisplacements(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.AppointmentID, events[0].AppointmentID)
	assert.Nil(t, events[0].DeliveredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDisplacementDelivered(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE displacement_outbox").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	marked, err := repo.MarkDisplacementDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, marked)

	// Already delivered rows are not re-marked.
	mock.ExpectExec("UPDATE displacement_outbox").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	marked, err = repo.MarkDisplacementDelivered(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, marked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSlotsSkipsExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	docID := uuid.New()
	slots := []Slot{
		{ID: uuid.New(), DoctorID: docID, StartTime: time.Now(), DurationMinutes: 30},
		{ID: uuid.New(), DoctorID: docID, StartTime: time.Now().Add(30 * time.Minute), DurationMinutes: 30},
	}

	mock.ExpectExec("INSERT INTO slots").
		WithArgs(slots[0].ID, docID, slots[0].StartTime, 30).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO slots").
		WithArgs(slots[1].ID, docID, slots[1].StartTime, 30).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := repo.InsertSlots(context.Background(), slots)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}
