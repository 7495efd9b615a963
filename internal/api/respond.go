package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carebook/booking-engine/internal/appointment"
	"github.com/carebook/booking-engine/internal/clinic"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps engine errors onto the HTTP taxonomy: not-found,
// validation, conflict, illegal transition, provider failure.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clinic.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, clinic.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, clinic.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, clinic.ErrAppointmentTypeNotFound):
		writeError(w, http.StatusNotFound, "appointment_type_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())

	case errors.Is(err, appointment.ErrValidation),
		errors.Is(err, clinic.ErrInvalidPeriod),
		errors.Is(err, clinic.ErrPeriodOverlap),
		errors.Is(err, clinic.ErrInvalidTimeOfDay),
		errors.Is(err, clinic.ErrInvalidDuration),
		errors.Is(err, clinic.ErrNegativeFee):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())

	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "slot was taken by a concurrent booking, re-fetch slots and retry")
	case errors.Is(err, appointment.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, "concurrent_update", err.Error())
	case errors.Is(err, appointment.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotEnded):
		writeError(w, http.StatusConflict, "appointment_not_ended", err.Error())

	case errors.Is(err, appointment.ErrPaymentProvider):
		writeError(w, http.StatusBadGateway, "payment_provider_error", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
