package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPaymentNotFound     = errors.New("payment not found")

	// ErrSlotConflict means the booking lost the race for an interval:
	// the caller should re-fetch slots and retry, its input was not
	// malformed.
	ErrSlotConflict = errors.New("slot already taken by another booking")

	// ErrConcurrentUpdate means a conditional status update matched no
	// row because the appointment moved on in the meantime.
	ErrConcurrentUpdate = errors.New("appointment status changed concurrently")

	ErrValidation         = errors.New("validation failed")
	ErrStartTimeInPast    = fmt.Errorf("%w: start time must be in the future", ErrValidation)
	ErrSlotNotAvailable   = fmt.Errorf("%w: requested interval is not an open slot", ErrValidation)
	ErrTypeDoctorMismatch = fmt.Errorf("%w: appointment type does not belong to this doctor", ErrValidation)
)

// StatusChange is a conditional (compare-and-set) status update plus the
// lifecycle stamps that go with it. Nil stamp fields are left untouched.
type StatusChange struct {
	From               Status
	To                 Status
	ConfirmedAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
	RejectionReason    *string
}

// Repository contains all DB interactions needed by the booking service
// and the payment reconciler.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	GetPaymentByIntentID(ctx context.Context, intentID string) (*Payment, error)

	// ListActiveIntervals returns the [start, end) intervals of all
	// non-terminal appointments for a doctor within [from, to).
	ListActiveIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Interval, error)

	// CreateWithPayment inserts the appointment and its payment in one
	// transaction. A violation of the active-slot uniqueness index is
	// returned as ErrSlotConflict.
	CreateWithPayment(ctx context.Context, appt *Appointment, payment *Payment) error

	// UpdateStatus applies a StatusChange only if the row is still in
	// change.From; a miss on a live row is ErrConcurrentUpdate.
	UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange) (*Appointment, error)

	SetApproved(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Payment transitions used by the reconciler and the refund path.
	// Each is conditional on the current payment status and updates
	// payment and appointment rows in one transaction; applied=false
	// means the event was already absorbed (idempotent no-op).
	MarkPaymentPaidAndConfirm(ctx context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (applied bool, err error)
	MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, reason string) (applied bool, err error)
	MarkPaymentRefunded(ctx context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (applied bool, err error)
	MarkPaymentRefundFailed(ctx context.Context, paymentID uuid.UUID) (applied bool, err error)

	// Sweep support
	FindOverduePending(ctx context.Context, now time.Time) ([]Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
