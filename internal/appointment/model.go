package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment    Status = "pending_payment"
	StatusConfirmed         Status = "confirmed"
	StatusCompleted         Status = "completed"
	StatusCanceledByPatient Status = "canceled_by_patient"
	StatusCanceledByDoctor  Status = "canceled_by_doctor"
	StatusRejected          Status = "rejected"
	StatusNoShow            Status = "no_show"
)

// Terminal reports whether no further transitions are possible. Only
// non-terminal appointments block a doctor's interval.
func (s Status) Terminal() bool {
	switch s {
	case StatusPendingPayment, StatusConfirmed:
		return false
	}
	return true
}

type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "pending"
	PaymentPaid         PaymentStatus = "paid"
	PaymentFailed       PaymentStatus = "failed"
	PaymentRefunded     PaymentStatus = "refunded"
	PaymentRefundFailed PaymentStatus = "refund_failed"
)

// Appointment is the central aggregate. It is created in pending_payment
// together with its Payment and never physically deleted.
type Appointment struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	ClinicID           uuid.UUID
	AppointmentTypeID  uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Status             Status
	ProblemDescription string
	PaymentDueTime     time.Time
	ApprovedByDoctor   bool
	ConfirmedAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
	RejectionReason    *string
	RescheduledFrom    *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Payment is created atomically with its appointment. ClientSecret is
// opaque, handed back to the caller once and never mutated.
type Payment struct {
	ID               uuid.UUID
	AppointmentID    uuid.UUID
	AmountCents      int64
	Status           PaymentStatus
	ProviderIntentID string
	ClientSecret     string
	FailureReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses the half-open test: touching endpoints do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
