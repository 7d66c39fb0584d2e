package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Repository for service tests. Transition takes
// the store mutex for the compare-and-swap, so it has the same atomicity the
// Postgres UPDATE ... WHERE state = $expected gives the real store.
type memStore struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	slots        map[uuid.UUID]*Slot
	appointments map[uuid.UUID]*Appointment
	outbox       map[uuid.UUID]*DisplacementEvent // keyed by appointment id

	// failTransition, when set, runs before each transition and disarms
	// after its first non-nil return.
	failTransition func(slotID uuid.UUID, expected, next SlotState) error
	// failInsertDisplacement fails the next displacement insert once.
	failInsertDisplacement error
}

func newMemStore() *memStore {
	return &memStore{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		slots:        make(map[uuid.UUID]*Slot),
		appointments: make(map[uuid.UUID]*Appointment),
		outbox:       make(map[uuid.UUID]*DisplacementEvent),
	}
}

func (m *memStore) addDoctor() *Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &Doctor{ID: uuid.New(), FirstName: "Asha", LastName: "Rao", Specialty: "Cardiology", OnRoster: true}
	m.doctors[d.ID] = d
	return d
}

func (m *memStore) addPatient() *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Patient{ID: uuid.New(), Name: "Pat Doe"}
	m.patients[p.ID] = p
	return p
}

func (m *memStore) addSlot(doctorID uuid.UUID, start time.Time, state SlotState) *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Slot{ID: uuid.New(), DoctorID: doctorID, StartTime: start, DurationMinutes: 30, State: state}
	m.slots[s.ID] = s
	return s
}

func (m *memStore) addAppointment(slotID, patientID, doctorID uuid.UUID, status AppointmentStatus, urgency Urgency) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &Appointment{
		ID: uuid.New(), SlotID: slotID, PatientID: patientID, DoctorID: doctorID,
		Status: status, Urgency: urgency, CreatedAt: time.Now(),
	}
	m.appointments[a.ID] = a
	return a
}

func (m *memStore) slotState(id uuid.UUID) SlotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id].State
}

func (m *memStore) appointmentStatus(id uuid.UUID) AppointmentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id].Status
}

// Repository implementation

func (m *memStore) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSlots(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			out = append(out, *s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *memStore) ListFreeSlots(_ context.Context, q AvailabilityQuery) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.slots {
		if s.State != SlotFree || s.StartTime.Before(q.From) || !s.StartTime.Before(q.To) {
			continue
		}
		if s.DurationMinutes < q.DurationMinutes {
			continue
		}
		if q.DoctorID != nil {
			if s.DoctorID != *q.DoctorID {
				continue
			}
		} else if d := m.doctors[s.DoctorID]; d == nil || d.Specialty != q.Specialty || !d.OnRoster {
			continue
		}
		out = append(out, *s)
	}
	sortSlots(out)
	return out, nil
}

func (m *memStore) ListSlotBookings(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]SlotBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SlotBooking
	for _, s := range m.slots {
		if s.DoctorID != doctorID || s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		sb := SlotBooking{Slot: *s}
		for _, a := range m.appointments {
			if a.SlotID == s.ID && a.Status == StatusConfirmed {
				cp := *a
				sb.Appointment = &cp
				break
			}
		}
		out = append(out, sb)
	}
	return out, nil
}

func (m *memStore) Transition(_ context.Context, slotID uuid.UUID, expected, next SlotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransition != nil {
		if err := m.failTransition(slotID, expected, next); err != nil {
			m.failTransition = nil
			return err
		}
	}
	s, ok := m.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if s.State != expected {
		return ErrStaleState
	}
	s.State = next
	return nil
}

func (m *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetConfirmedAppointmentForSlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appointments {
		if a.SlotID == slotID && a.Status == StatusConfirmed {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *memStore) CreateAppointment(_ context.Context, slotID, patientID, doctorID uuid.UUID, urgency Urgency) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &Appointment{
		ID: uuid.New(), SlotID: slotID, PatientID: patientID, DoctorID: doctorID,
		Status: StatusConfirmed, Urgency: urgency, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.appointments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memStore) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.appointments, id)
	return nil
}

func (m *memStore) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) InsertDisplacement(_ context.Context, ev DisplacementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertDisplacement != nil {
		err := m.failInsertDisplacement
		m.failInsertDisplacement = nil
		return err
	}
	if _, exists := m.outbox[ev.AppointmentID]; exists {
		return ErrStaleState
	}
	cp := ev
	cp.CreatedAt = time.Now()
	m.outbox[ev.AppointmentID] = &cp
	return nil
}

func (m *memStore) DeleteDisplacement(_ context.Context, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, appointmentID)
	return nil
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}

// localLocker serializes per doctor with in-process mutexes.
type localLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *localLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
