package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebook/booking-engine/internal/appointment"
)

type BookAppointmentRequest struct {
	DoctorID           string `json:"doctor_id"`
	PatientID          string `json:"patient_id"`
	ClinicID           string `json:"clinic_id"`
	AppointmentTypeID  string `json:"appointment_type_id"`
	StartTime          string `json:"start_time"` // RFC 3339
	ProblemDescription string `json:"problem_description"`
}

type CancelRequest struct {
	Actor  string `json:"actor"` // patient | doctor
	Reason string `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	NewStartTime string `json:"new_start_time"` // RFC 3339
	Actor        string `json:"actor"`
}

type CreateWorkingPeriodRequest struct {
	Day   string `json:"day"`   // weekday name, e.g. "Monday"
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
}

type CreateAppointmentTypeRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	FeeCents        int64  `json:"fee_cents"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type PaymentResponse struct {
	ID               uuid.UUID `json:"id"`
	AmountCents      int64     `json:"amount_cents"`
	Status           string    `json:"status"`
	ProviderIntentID string    `json:"provider_intent_id"`
	ClientSecret     string    `json:"client_secret,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID        `json:"id"`
	DoctorID           uuid.UUID        `json:"doctor_id"`
	PatientID          uuid.UUID        `json:"patient_id"`
	ClinicID           uuid.UUID        `json:"clinic_id"`
	AppointmentTypeID  uuid.UUID        `json:"appointment_type_id"`
	StartTime          time.Time        `json:"start_time"`
	EndTime            time.Time        `json:"end_time"`
	Status             string           `json:"status"`
	ProblemDescription string           `json:"problem_description,omitempty"`
	PaymentDueTime     time.Time        `json:"payment_due_time"`
	ApprovedByDoctor   bool             `json:"approved_by_doctor"`
	ConfirmedAt        *time.Time       `json:"confirmed_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CancellationReason *string          `json:"cancellation_reason,omitempty"`
	RejectionReason    *string          `json:"rejection_reason,omitempty"`
	RescheduledFrom    *uuid.UUID       `json:"rescheduled_from,omitempty"`
	Payment            *PaymentResponse `json:"payment,omitempty"`
}

type WorkingPeriodResponse struct {
	ID       uuid.UUID `json:"id"`
	ClinicID uuid.UUID `json:"clinic_id"`
	Day      string    `json:"day"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
}

type AppointmentTypeResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	FeeCents        int64     `json:"fee_cents"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment, p *appointment.Payment, includeSecret bool) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		PatientID:          a.PatientID,
		ClinicID:           a.ClinicID,
		AppointmentTypeID:  a.AppointmentTypeID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		ProblemDescription: a.ProblemDescription,
		PaymentDueTime:     a.PaymentDueTime,
		ApprovedByDoctor:   a.ApprovedByDoctor,
		ConfirmedAt:        a.ConfirmedAt,
		CompletedAt:        a.CompletedAt,
		CancelledAt:        a.CancelledAt,
		CancellationReason: a.CancellationReason,
		RejectionReason:    a.RejectionReason,
		RescheduledFrom:    a.RescheduledFrom,
	}
	if p != nil {
		pr := &PaymentResponse{
			ID:               p.ID,
			AmountCents:      p.AmountCents,
			Status:           string(p.Status),
			ProviderIntentID: p.ProviderIntentID,
		}
		if includeSecret {
			pr.ClientSecret = p.ClientSecret
		}
		resp.Payment = pr
	}
	return resp
}
