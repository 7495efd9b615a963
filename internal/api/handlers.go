package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebook/booking-engine/internal/appointment"
	"github.com/carebook/booking-engine/internal/clinic"
	"github.com/carebook/booking-engine/internal/metrics"
)

func slotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		clinicID, err := uuid.Parse(r.URL.Query().Get("clinic_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		typeID, err := uuid.Parse(r.URL.Query().Get("appointment_type_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_type_id", "appointment_type_id must be a valid UUID")
			return
		}
		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, clinicID, typeID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{Start: s.Start, End: s.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookHandler(svc *appointment.Service, m *metrics.EngineMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		typeID, err := uuid.Parse(req.AppointmentTypeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_type_id", "appointment_type_id must be a valid UUID")
			return
		}
		startTime, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339")
			return
		}

		appt, payment, err := svc.Book(r.Context(), appointment.BookRequest{
			DoctorID:           doctorID,
			PatientID:          patientID,
			ClinicID:           clinicID,
			AppointmentTypeID:  typeID,
			StartTime:          startTime,
			ProblemDescription: req.ProblemDescription,
		})
		if err != nil {
			m.ObserveBooking(bookingResult(err))
			writeDomainError(w, err)
			return
		}

		m.ObserveBooking("created")
		// The client secret is handed out exactly once, at creation.
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, payment, true))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, payment, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, payment, false))
	}
}

func listPatientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientID must be a valid UUID")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i], nil, false))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func approveHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Approve(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil, false))
	}
}

func rejectHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RejectRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		appt, err := svc.Reject(r.Context(), id, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil, false))
	}
}

func cancelHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := appointment.Actor(req.Actor)
		if actor != appointment.ActorPatient && actor != appointment.ActorDoctor {
			writeError(w, http.StatusBadRequest, "invalid_actor", "actor must be patient or doctor")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actor, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil, false))
	}
}

func completeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Complete(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil, false))
	}
}

func rescheduleHandler(svc *appointment.Service, m *metrics.EngineMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "new_start_time must be RFC 3339")
			return
		}

		actor := appointment.Actor(req.Actor)
		if actor == "" {
			actor = appointment.ActorPatient
		}
		if actor != appointment.ActorPatient && actor != appointment.ActorDoctor {
			writeError(w, http.StatusBadRequest, "invalid_actor", "actor must be patient or doctor")
			return
		}

		appt, payment, err := svc.Reschedule(r.Context(), id, newStart, actor)
		if err != nil {
			m.ObserveBooking(bookingResult(err))
			writeDomainError(w, err)
			return
		}

		m.ObserveBooking("rescheduled")
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, payment, true))
	}
}

func createWorkingPeriodHandler(repo clinic.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinicID must be a valid UUID")
			return
		}

		var req CreateWorkingPeriodRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		day, ok := parseDay(req.Day)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_day", "day must be a weekday name, e.g. Monday")
			return
		}
		start, err := clinic.ParseTimeOfDay(req.Start)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		end, err := clinic.ParseTimeOfDay(req.End)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		if _, err := repo.GetClinicByID(r.Context(), clinicID); err != nil {
			writeDomainError(w, err)
			return
		}

		period, err := repo.CreateWorkingPeriod(r.Context(), clinic.WorkingPeriod{
			ClinicID: clinicID,
			Day:      day,
			Start:    start,
			End:      end,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, WorkingPeriodResponse{
			ID:       period.ID,
			ClinicID: period.ClinicID,
			Day:      period.Day.String(),
			Start:    period.Start.String(),
			End:      period.End.String(),
		})
	}
}

func createAppointmentTypeHandler(repo clinic.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		var req CreateAppointmentTypeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if _, err := repo.GetDoctorByID(r.Context(), doctorID); err != nil {
			writeDomainError(w, err)
			return
		}

		created, err := repo.CreateAppointmentType(r.Context(), clinic.AppointmentType{
			DoctorID: doctorID,
			Name:     req.Name,
			Duration: time.Duration(req.DurationMinutes) * time.Minute,
			FeeCents: req.FeeCents,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, AppointmentTypeResponse{
			ID:              created.ID,
			DoctorID:        created.DoctorID,
			Name:            created.Name,
			DurationMinutes: int(created.Duration / time.Minute),
			FeeCents:        created.FeeCents,
		})
	}
}

func parseDay(name string) (clinic.Day, bool) {
	for d := clinic.Sunday; d <= clinic.Saturday; d++ {
		if name == d.String() {
			return d, true
		}
	}
	return 0, false
}

func bookingResult(err error) string {
	switch {
	case errors.Is(err, appointment.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, appointment.ErrValidation):
		return "validation"
	case errors.Is(err, appointment.ErrPaymentProvider):
		return "provider_error"
	}
	return "error"
}
