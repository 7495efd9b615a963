package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/clinic"
)

const (
	EventLogBooked       = "APPOINTMENT_BOOKED"
	EventLogApproved     = "APPOINTMENT_APPROVED"
	EventLogRejected     = "APPOINTMENT_REJECTED"
	EventLogCanceled     = "APPOINTMENT_CANCELED"
	EventLogCompleted    = "APPOINTMENT_COMPLETED"
	EventLogAutoCanceled = "APPOINTMENT_AUTO_CANCELED"
	EventLogRescheduled  = "APPOINTMENT_RESCHEDULED"
)

// ErrAppointmentNotEnded guards Complete: a visit cannot be completed
// before its end time has passed.
var ErrAppointmentNotEnded = errors.New("appointment end time has not passed")

// Actor identifies who requested a cancellation. Identity itself is
// supplied and trusted; the engine does not authenticate.
type Actor string

const (
	ActorPatient Actor = "patient"
	ActorDoctor  Actor = "doctor"
)

const autoCancelReason = "payment deadline elapsed"

type BookRequest struct {
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	ClinicID           uuid.UUID
	AppointmentTypeID  uuid.UUID
	StartTime          time.Time
	ProblemDescription string
	rescheduledFrom    *uuid.UUID
}

type Service struct {
	repo     Repository
	clinics  clinic.Repository
	provider PaymentProvider
	logger   zerolog.Logger
	holdTTL  time.Duration
	now      func() time.Time
}

func NewService(repo Repository, clinics clinic.Repository, provider PaymentProvider, logger zerolog.Logger, holdTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		clinics:  clinics,
		provider: provider,
		logger:   logger,
		holdTTL:  holdTTL,
		now:      time.Now,
	}
}

// WithNow overrides the service clock. Test hook.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// AvailableSlots returns the open slots for a doctor at a clinic on one
// day, for one appointment type. An empty result means no availability.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, clinicID, typeID uuid.UUID, date time.Time) ([]Slot, error) {
	if _, err := s.clinics.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := s.clinics.GetClinicByID(ctx, clinicID); err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	apptType, err := s.clinics.GetAppointmentTypeByID(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("load appointment type: %w", err)
	}
	if apptType.DoctorID != doctorID {
		return nil, ErrTypeDoctorMismatch
	}

	periods, err := s.clinics.ListWorkingPeriods(ctx, clinicID, clinic.DayOf(date))
	if err != nil {
		return nil, fmt.Errorf("load working periods: %w", err)
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	booked, err := s.repo.ListActiveIntervals(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load booked intervals: %w", err)
	}

	return ComputeSlots(date, periods, apptType.Duration, booked), nil
}

// Book validates a booking request against the current slot set, creates
// a provider payment intent, and persists the appointment and its pending
// payment as one atomic unit.
//
// Losing the uniqueness race returns ErrSlotConflict: the caller should
// re-fetch slots, not assume its input was malformed. An intent created
// before a failed commit is left to expire provider-side; the local
// transaction is the source of truth for slot occupancy.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, *Payment, error) {
	if _, err := s.clinics.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, nil, fmt.Errorf("load patient: %w", err)
	}

	apptType, err := s.clinics.GetAppointmentTypeByID(ctx, req.AppointmentTypeID)
	if err != nil {
		return nil, nil, fmt.Errorf("load appointment type: %w", err)
	}

	now := s.now()
	if !req.StartTime.After(now) {
		return nil, nil, ErrStartTimeInPast
	}

	slots, err := s.AvailableSlots(ctx, req.DoctorID, req.ClinicID, req.AppointmentTypeID, req.StartTime)
	if err != nil {
		return nil, nil, err
	}
	if !slotSetContains(slots, req.StartTime) {
		return nil, nil, ErrSlotNotAvailable
	}

	apptID := uuid.New()

	intent, err := s.provider.CreateIntent(ctx, apptType.FeeCents, map[string]string{
		"appointment_id": apptID.String(),
		"patient_id":     req.PatientID.String(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	appt := &Appointment{
		ID:                 apptID,
		DoctorID:           req.DoctorID,
		PatientID:          req.PatientID,
		ClinicID:           req.ClinicID,
		AppointmentTypeID:  req.AppointmentTypeID,
		StartTime:          req.StartTime,
		EndTime:            req.StartTime.Add(apptType.Duration),
		Status:             StatusPendingPayment,
		ProblemDescription: req.ProblemDescription,
		PaymentDueTime:     now.Add(s.holdTTL),
		RescheduledFrom:    req.rescheduledFrom,
	}
	payment := &Payment{
		ID:               uuid.New(),
		AppointmentID:    apptID,
		AmountCents:      apptType.FeeCents,
		Status:           PaymentPending,
		ProviderIntentID: intent.ID,
		ClientSecret:     intent.ClientSecret,
	}

	if err := s.repo.CreateWithPayment(ctx, appt, payment); err != nil {
		return nil, nil, err
	}

	appt.CreatedAt = now
	appt.UpdatedAt = now

	s.logEvent(ctx, appt.ID, EventLogBooked, map[string]any{
		"doctor_id":        req.DoctorID.String(),
		"patient_id":       req.PatientID.String(),
		"start_time":       req.StartTime,
		"payment_due_time": appt.PaymentDueTime,
	})

	return appt, payment, nil
}

// Approve records doctor approval without changing status.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(appt.Status, EventApprove); err != nil {
		return nil, err
	}

	updated, err := s.repo.SetApproved(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventLogApproved, map[string]any{})
	return updated, nil
}

// Reject terminates a booking at the doctor's initiative, releasing the
// slot and refunding a paid payment.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Transition(appt.Status, EventReject)
	if err != nil {
		return nil, err
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	updated, err := s.repo.UpdateStatus(ctx, id, StatusChange{
		From:            appt.Status,
		To:              next,
		RejectionReason: reasonPtr,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventLogRejected, map[string]any{"reason": reason})

	if err := s.refundIfPaid(ctx, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// Cancel terminates a booking for either party, releasing the slot and
// refunding a paid payment.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ev := EventCancelByDoctor
	if actor == ActorPatient {
		ev = EventCancelByPatient
	}
	next, err := Transition(appt.Status, ev)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	updated, err := s.repo.UpdateStatus(ctx, id, StatusChange{
		From:               appt.Status,
		To:                 next,
		CancelledAt:        &now,
		CancellationReason: reasonPtr,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventLogCanceled, map[string]any{
		"actor":  string(actor),
		"reason": reason,
	})

	if err := s.refundIfPaid(ctx, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// Complete marks a confirmed appointment done, once its end time passed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Transition(appt.Status, EventComplete)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if now.Before(appt.EndTime) {
		return nil, ErrAppointmentNotEnded
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusChange{
		From:        appt.Status,
		To:          next,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, EventLogCompleted, map[string]any{})
	return updated, nil
}

// Reschedule books a new pending-payment appointment for the target slot
// and cancels the original, preserving the audit trail. The original
// interval is never mutated in place.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, actor Actor) (*Appointment, *Payment, error) {
	orig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if orig.Status.Terminal() {
		return nil, nil, &TransitionError{Status: orig.Status, Event: EventReschedule}
	}

	replacement, payment, err := s.Book(ctx, BookRequest{
		DoctorID:           orig.DoctorID,
		PatientID:          orig.PatientID,
		ClinicID:           orig.ClinicID,
		AppointmentTypeID:  orig.AppointmentTypeID,
		StartTime:          newStart,
		ProblemDescription: orig.ProblemDescription,
		rescheduledFrom:    &orig.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.Cancel(ctx, orig.ID, actor, "rescheduled"); err != nil {
		// The replacement booking stands; the caller must retry the
		// cancel of the original.
		s.logger.Error().Err(err).
			Stringer("appointment_id", orig.ID).
			Stringer("replacement_id", replacement.ID).
			Msg("reschedule: failed to cancel original appointment")
		return replacement, payment, fmt.Errorf("cancel original appointment: %w", err)
	}

	s.logEvent(ctx, orig.ID, EventLogRescheduled, map[string]any{
		"replacement_id": replacement.ID.String(),
		"new_start":      newStart,
	})

	return replacement, payment, nil
}

// SweepOverdue cancels pending-payment appointments whose payment
// deadline elapsed, releasing their slots. Safe to run concurrently with
// booking traffic and with itself: rows that already moved on are
// skipped, and a single row's failure never aborts the scan.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	overdue, err := s.repo.FindOverduePending(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find overdue pending appointments: %w", err)
	}

	cancelled := 0
	for _, appt := range overdue {
		now := s.now()
		reason := autoCancelReason
		_, err := s.repo.UpdateStatus(ctx, appt.ID, StatusChange{
			From:               StatusPendingPayment,
			To:                 StatusCanceledByDoctor,
			CancelledAt:        &now,
			CancellationReason: &reason,
		})
		if err != nil {
			if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.logger.Error().Err(err).
				Stringer("appointment_id", appt.ID).
				Msg("sweep: failed to cancel overdue appointment")
			continue
		}
		cancelled++
		s.logEvent(ctx, appt.ID, EventLogAutoCanceled, map[string]any{
			"payment_due_time": appt.PaymentDueTime,
		})
	}

	return cancelled, nil
}

// Get retrieves an appointment with its payment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, *Payment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payment, err := s.repo.GetPaymentByAppointmentID(ctx, id)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, nil, err
	}
	return appt, payment, nil
}

// ListByPatient retrieves a patient's appointment history.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// refundIfPaid issues a provider refund when the appointment's payment
// was already captured. A provider failure marks the payment
// refund_failed (manual follow-up) and is surfaced to the caller; the
// payment is never left paid on a terminated appointment.
func (s *Service) refundIfPaid(ctx context.Context, appt *Appointment) error {
	payment, err := s.repo.GetPaymentByAppointmentID(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil
		}
		return err
	}
	if payment.Status != PaymentPaid {
		return nil
	}

	outcome, err := s.provider.CreateRefund(ctx, payment.ProviderIntentID)
	if err != nil {
		if _, markErr := s.repo.MarkPaymentRefundFailed(ctx, payment.ID); markErr != nil {
			s.logger.Error().Err(markErr).
				Stringer("payment_id", payment.ID).
				Msg("failed to mark refund_failed after provider error")
		}
		return fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	if outcome == RefundSucceeded {
		_, err = s.repo.MarkPaymentRefunded(ctx, payment.ID, appt.ID, s.now())
	} else {
		_, err = s.repo.MarkPaymentRefundFailed(ctx, payment.ID)
	}
	if err != nil {
		return fmt.Errorf("record refund outcome: %w", err)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Stringer("appointment_id", appointmentID).
			Msg("failed to insert event log")
	}
}

func slotSetContains(slots []Slot, start time.Time) bool {
	for _, slot := range slots {
		if slot.Start.Equal(start) {
			return true
		}
	}
	return false
}
