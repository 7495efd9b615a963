package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/booking-engine/internal/appointment"
	"github.com/carebook/booking-engine/internal/clinic"
)

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{clinic.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
		{clinic.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{clinic.ErrClinicNotFound, http.StatusNotFound, "clinic_not_found"},
		{clinic.ErrAppointmentTypeNotFound, http.StatusNotFound, "appointment_type_not_found"},
		{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},

		{appointment.ErrStartTimeInPast, http.StatusBadRequest, "validation_error"},
		{appointment.ErrSlotNotAvailable, http.StatusBadRequest, "validation_error"},
		{appointment.ErrTypeDoctorMismatch, http.StatusBadRequest, "validation_error"},
		{clinic.ErrPeriodOverlap, http.StatusBadRequest, "validation_error"},
		{clinic.ErrInvalidTimeOfDay, http.StatusBadRequest, "validation_error"},

		{appointment.ErrSlotConflict, http.StatusConflict, "slot_conflict"},
		{appointment.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},
		{appointment.ErrAppointmentNotEnded, http.StatusConflict, "appointment_not_ended"},
		{&appointment.TransitionError{Status: appointment.StatusCompleted, Event: appointment.EventReject}, http.StatusConflict, "illegal_transition"},

		{fmt.Errorf("%w: timeout", appointment.ErrPaymentProvider), http.StatusBadGateway, "payment_provider_error"},

		{fmt.Errorf("something else"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode+"/"+tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}
}

func TestWriteDomainErrorWrapped(t *testing.T) {
	// Errors arrive wrapped with call-site context; the mapping must see
	// through the wrapping.
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("load doctor: %w", clinic.ErrDoctorNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
