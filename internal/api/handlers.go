package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinicdesk/scheduling-engine/internal/directory"
	"github.com/clinicdesk/scheduling-engine/internal/scheduling"
)

// BookingService is the slice of the booking transaction manager the API
// exposes to callers.
type BookingService interface {
	Book(ctx context.Context, patientID, slotID uuid.UUID, urgency scheduling.Urgency) (*scheduling.Appointment, error)
	BookEmergency(ctx context.Context, patientID, doctorID uuid.UUID, window scheduling.RequestedWindow) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
}

type AvailabilityService interface {
	FindAvailable(ctx context.Context, q scheduling.AvailabilityQuery) ([]scheduling.Slot, error)
}

type DoctorDirectory interface {
	FindDoctors(ctx context.Context, query string, limit int) (directory.Result, error)
}

type BillingLookup interface {
	BillingPage(ctx context.Context, doctorID string) (string, error)
}

// PatientLookup resolves the email the login collaborator authenticated to a
// patient record.
type PatientLookup interface {
	GetPatientByEmail(ctx context.Context, email string) (*scheduling.Patient, error)
}

var validate = validator.New()

func bookHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := PatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated patient")
			return
		}

		var req BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		var (
			appt *scheduling.Appointment
			err  error
		)

		switch {
		case req.Kind == KindRoutine:
			slotID, perr := uuid.Parse(req.SlotID)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			appt, err = svc.Book(r.Context(), patientID, slotID, scheduling.UrgencyRoutine)

		case req.SlotID != "":
			slotID, perr := uuid.Parse(req.SlotID)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			appt, err = svc.Book(r.Context(), patientID, slotID, scheduling.UrgencyEmergency)

		default:
			doctorID, perr := uuid.Parse(req.DoctorID)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "emergency bookings without a slot need a doctor_id")
				return
			}
			if req.WindowFrom == nil || req.WindowTo == nil {
				writeError(w, http.StatusBadRequest, "invalid_window", "window_from and window_to are required")
				return
			}
			window := scheduling.RequestedWindow{From: *req.WindowFrom, To: *req.WindowTo}
			appt, err = svc.BookEmergency(r.Context(), patientID, doctorID, window)
		}

		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := PatientID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_identity", "no authenticated patient")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func availabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseAvailabilityQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			return
		}

		slots, err := svc.FindAvailable(r.Context(), q)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, SlotResponse{
				ID:              s.ID,
				DoctorID:        s.DoctorID,
				StartTime:       s.StartTime,
				DurationMinutes: s.DurationMinutes,
				State:           string(s.State),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func searchDoctorsHandler(dir DoctorDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing_query", "q is required")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		result, err := dir.FindDoctors(r.Context(), query, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := DoctorSearchResponse{Roster: make([]DoctorResponse, 0, len(result.Roster))}
		for _, d := range result.Roster {
			resp.Roster = append(resp.Roster, DoctorResponse{
				ID:             d.ID,
				FirstName:      d.FirstName,
				LastName:       d.LastName,
				Specialty:      d.Specialty,
				Phone:          d.Phone,
				OfficeLocation: d.OfficeLocation,
				Bookable:       d.OnRoster,
			})
		}
		for _, e := range result.External {
			resp.External = append(resp.External, ExternalDoctorResponse{
				Name:      e.Name,
				Specialty: e.Specialty,
				Source:    e.Source,
				Bookable:  false,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func lookupPatientHandler(patients PatientLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		if err := validate.Var(email, "required,email"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_email", "email must be a valid address")
			return
		}

		patient, err := patients.GetPatientByEmail(r.Context(), email)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PatientResponse{
			ID:    patient.ID,
			Name:  patient.Name,
			Email: patient.Email,
			Phone: patient.Phone,
		})
	}
}

func billingHandler(billing BillingLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		page, err := billing.BillingPage(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusBadGateway, "billing_unavailable", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, BillingResponse{DoctorID: id, Page: page})
	}
}

func parseAvailabilityQuery(r *http.Request) (scheduling.AvailabilityQuery, error) {
	params := r.URL.Query()

	q := scheduling.AvailabilityQuery{
		Specialty:       params.Get("specialty"),
		DurationMinutes: 30,
	}

	if raw := params.Get("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, errors.New("doctor_id must be a valid UUID")
		}
		q.DoctorID = &id
	}

	from, err := parseDay(params.Get("from"))
	if err != nil {
		return q, errors.New("from must be RFC3339 or YYYY-MM-DD")
	}
	to, err := parseDay(params.Get("to"))
	if err != nil {
		return q, errors.New("to must be RFC3339 or YYYY-MM-DD")
	}
	q.From = from
	q.To = to

	if raw := params.Get("duration_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errors.New("duration_minutes must be an integer")
		}
		q.DurationMinutes = n
	}

	return q, nil
}

func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		SlotID:    a.SlotID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Status:    string(a.Status),
		Urgency:   string(a.Urgency),
		CreatedAt: a.CreatedAt,
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	var conflict *scheduling.ConflictError

	switch {
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, string(conflict.Reason), err.Error())
	case errors.Is(err, scheduling.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot no longer available, please choose another")
	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
