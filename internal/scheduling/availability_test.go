package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, store *memStore) *AvailabilityEngine {
	t.Helper()
	return NewAvailabilityEngine(store, zaptest.NewLogger(t))
}

func TestFindAvailableRejectsBadQueries(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, store)

	docID := store.addDoctor().ID
	from := day(t, 9)
	to := day(t, 17)

	cases := []struct {
		name string
		q    AvailabilityQuery
	}{
		{"no doctor or specialty", AvailabilityQuery{From: from, To: to, DurationMinutes: 30}},
		{"missing bounds", AvailabilityQuery{DoctorID: &docID, DurationMinutes: 30}},
		{"end before start", AvailabilityQuery{DoctorID: &docID, From: to, To: from, DurationMinutes: 30}},
		{"end equals start", AvailabilityQuery{DoctorID: &docID, From: from, To: from, DurationMinutes: 30}},
		{"zero duration", AvailabilityQuery{DoctorID: &docID, From: from, To: to}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.FindAvailable(context.Background(), tc.q)
			assert.ErrorIs(t, err, ErrInvalidRange)
		})
	}
}

func TestFindAvailableUnknownDoctor(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, store)

	docID := uuid.New()
	_, err := engine.FindAvailable(context.Background(), AvailabilityQuery{
		DoctorID: &docID, From: day(t, 9), To: day(t, 17), DurationMinutes: 30,
	})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

// Only FREE slots come back, ordered by start time, regardless of how
// they were inserted.
func TestFindAvailableReturnsOnlyFreeSorted(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, store)

	doc := store.addDoctor()
	late := store.addSlot(doc.ID, day(t, 15), SlotFree)
	store.addSlot(doc.ID, day(t, 10), SlotBooked)
	store.addSlot(doc.ID, day(t, 11), SlotHeld)
	store.addSlot(doc.ID, day(t, 12), SlotBlocked)
	early := store.addSlot(doc.ID, day(t, 9), SlotFree)

	slots, err := engine.FindAvailable(context.Background(), AvailabilityQuery{
		DoctorID: &doc.ID, From: day(t, 8), To: day(t, 17), DurationMinutes: 30,
	})
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.Equal(t, early.ID, slots[0].ID)
	assert.Equal(t, late.ID, slots[1].ID)
}

func TestFindAvailableWindowIsHalfOpen(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, store)

	doc := store.addDoctor()
	store.addSlot(doc.ID, day(t, 9), SlotFree)
	store.addSlot(doc.ID, day(t, 10), SlotFree)

	slots, err := engine.FindAvailable(context.Background(), AvailabilityQuery{
		DoctorID: &doc.ID, From: day(t, 9), To: day(t, 10), DurationMinutes: 30,
	})
	require.NoError(t, err)

	require.Len(t, slots, 1)
	assert.True(t, slots[0].StartTime.Equal(day(t, 9)))
}

func TestFindAvailableBySpecialty(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, store)

	cardio := store.addDoctor()
	derm := store.addDoctor()
	store.mu.Lock()
	store.doctors[derm.ID].Specialty = "Dermatology"
	store.mu.Unlock()

	want := store.addSlot(cardio.ID, day(t, 9), SlotFree)
	store.addSlot(derm.ID, day(t, 9), SlotFree)

	slots, err := engine.FindAvailable(context.Background(), AvailabilityQuery{
		Specialty: "Cardiology", From: day(t, 8), To: day(t, 17), DurationMinutes: 30,
	})
	require.NoError(t, err)

	require.Len(t, slots, 1)
	assert.Equal(t, want.ID, slots[0].ID)
}

func TestFindAvailableEmptyIsNotAnError(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, store)

	doc := store.addDoctor()
	slots, err := engine.FindAvailable(context.Background(), AvailabilityQuery{
		DoctorID:        &doc.ID,
		From:            day(t, 9).Add(30 * 24 * time.Hour),
		To:              day(t, 17).Add(30 * 24 * time.Hour),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	assert.Empty(t, slots)
}
