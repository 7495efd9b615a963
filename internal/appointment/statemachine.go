package appointment

import (
	"errors"
	"fmt"
)

// Event is something that happens to an appointment: an actor's action,
// a payment outcome, or the sweep reclaiming an unpaid hold.
type Event string

const (
	EventApprove          Event = "approve"
	EventReject           Event = "reject"
	EventCancelByPatient  Event = "cancel_by_patient"
	EventCancelByDoctor   Event = "cancel_by_doctor"
	EventAutoCancel       Event = "auto_cancel"
	EventComplete         Event = "complete"
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventReschedule       Event = "reschedule"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionError names the current state and the attempted action, so a
// rejected transition is never a generic failure.
type TransitionError struct {
	Status Status
	Event  Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s to appointment in status %s", e.Event, e.Status)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Transition is the single place legal status changes are decided:
// (current status, event) -> new status, or a TransitionError. It has no
// side effects; time-based guards (e.g. complete only after end time) are
// checked by the caller before applying the event.
func Transition(s Status, ev Event) (Status, error) {
	if s.Terminal() {
		return s, &TransitionError{Status: s, Event: ev}
	}

	switch ev {
	case EventApprove:
		// Approval marks doctor intent without changing status.
		return s, nil

	case EventReject:
		return StatusRejected, nil

	case EventCancelByPatient:
		return StatusCanceledByPatient, nil

	case EventCancelByDoctor, EventAutoCancel, EventReschedule:
		// Rescheduling cancels the original; the replacement is booked
		// as a brand new appointment.
		return StatusCanceledByDoctor, nil

	case EventComplete:
		if s != StatusConfirmed {
			return s, &TransitionError{Status: s, Event: ev}
		}
		return StatusCompleted, nil

	case EventPaymentSucceeded:
		if s != StatusPendingPayment {
			return s, &TransitionError{Status: s, Event: ev}
		}
		return StatusConfirmed, nil

	case EventPaymentFailed:
		// The appointment stays pending_payment: the hold survives until
		// a retry pays or the sweep reclaims it.
		if s != StatusPendingPayment {
			return s, &TransitionError{Status: s, Event: ev}
		}
		return StatusPendingPayment, nil
	}

	return s, &TransitionError{Status: s, Event: ev}
}
