package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/appointment"
	redisclient "github.com/carebook/booking-engine/internal/redis"
)

// Webhook event types consumed by the reconciler.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventRefundUpdated   = "charge.refund.updated"
)

// NextPaymentStatus decides how a webhook event maps onto the current
// payment status. applied=false means the event is a duplicate, arrived
// out of order, or is otherwise already absorbed: a no-op, not an error.
//
// refunded is sticky; a succeeded event never overrides it.
func NextPaymentStatus(current appointment.PaymentStatus, eventType, refundStatus string) (appointment.PaymentStatus, bool) {
	switch eventType {
	case EventIntentSucceeded:
		if current == appointment.PaymentPending {
			return appointment.PaymentPaid, true
		}
		return current, false

	case EventIntentFailed:
		if current == appointment.PaymentPending {
			return appointment.PaymentFailed, true
		}
		return current, false

	case EventRefundUpdated:
		if current == appointment.PaymentRefunded {
			return current, false
		}
		if refundStatus == appointment.RefundSucceeded {
			return appointment.PaymentRefunded, true
		}
		if current == appointment.PaymentRefundFailed {
			return current, false
		}
		return appointment.PaymentRefundFailed, true
	}

	return current, false
}

// paymentStore is the slice of the appointment repository the reconciler
// needs.
type paymentStore interface {
	GetPaymentByIntentID(ctx context.Context, intentID string) (*appointment.Payment, error)
	MarkPaymentPaidAndConfirm(ctx context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error)
	MarkPaymentRefunded(ctx context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (bool, error)
	MarkPaymentRefundFailed(ctx context.Context, paymentID uuid.UUID) (bool, error)
	InsertEvent(ctx context.Context, ev appointment.EventLog) error
}

// Reconciler maps provider webhook events idempotently onto local
// Payment/Appointment state. Processing for one intent id is serialized
// through the intent lock so racing deliveries cannot interleave.
type Reconciler struct {
	store  paymentStore
	locker redisclient.Locker
	logger zerolog.Logger
	now    func() time.Time
}

func NewReconciler(store paymentStore, locker redisclient.Locker, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the reconciler clock. Test hook.
func (r *Reconciler) WithNow(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Process applies one webhook event. An intent unknown locally is a
// successful no-op: the event may be a stale or duplicate delivery for
// something not tracked here. Lock contention surfaces as
// redisclient.ErrLockNotAcquired so the transport can ask the provider
// to redeliver.
func (r *Reconciler) Process(ctx context.Context, evt WebhookEvent) error {
	intentID := evt.IntentID()
	if intentID == "" {
		r.logger.Warn().Str("event_type", evt.Type).Str("event_id", evt.ID).Msg("webhook event without intent id, ignoring")
		return nil
	}

	return r.locker.WithIntentLock(ctx, intentID, func(lockCtx context.Context) error {
		return r.apply(lockCtx, evt, intentID)
	})
}

func (r *Reconciler) apply(ctx context.Context, evt WebhookEvent, intentID string) error {
	payment, err := r.store.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, appointment.ErrPaymentNotFound) {
			r.logger.Info().Str("intent_id", intentID).Str("event_type", evt.Type).Msg("webhook for untracked intent, ignoring")
			return nil
		}
		return fmt.Errorf("load payment for intent: %w", err)
	}

	next, applied := NextPaymentStatus(payment.Status, evt.Type, evt.RefundStatus())
	if !applied {
		r.logger.Debug().
			Str("intent_id", intentID).
			Str("event_type", evt.Type).
			Str("payment_status", string(payment.Status)).
			Msg("webhook event already absorbed")
		return nil
	}

	now := r.now()
	switch next {
	case appointment.PaymentPaid:
		_, err = r.store.MarkPaymentPaidAndConfirm(ctx, payment.ID, payment.AppointmentID, now)
	case appointment.PaymentFailed:
		_, err = r.store.MarkPaymentFailed(ctx, payment.ID, evt.FailureReason())
	case appointment.PaymentRefunded:
		_, err = r.store.MarkPaymentRefunded(ctx, payment.ID, payment.AppointmentID, now)
	case appointment.PaymentRefundFailed:
		_, err = r.store.MarkPaymentRefundFailed(ctx, payment.ID)
	}
	if err != nil {
		return fmt.Errorf("apply %s to payment %s: %w", evt.Type, payment.ID, err)
	}

	r.logEvent(ctx, payment.AppointmentID, evt, next)
	return nil
}

func (r *Reconciler) logEvent(ctx context.Context, appointmentID uuid.UUID, evt WebhookEvent, next appointment.PaymentStatus) {
	apptID := appointmentID
	payload := []byte(fmt.Sprintf(`{"event_id":%q,"event_type":%q,"payment_status":%q}`, evt.ID, evt.Type, next))
	ev := appointment.EventLog{
		EventType:     "PAYMENT_" + strings.ToUpper(string(next)),
		AppointmentID: &apptID,
		Payload:       payload,
		CreatedAt:     r.now(),
	}
	if err := r.store.InsertEvent(ctx, ev); err != nil {
		r.logger.Error().Err(err).Stringer("appointment_id", appointmentID).Msg("failed to insert payment event log")
	}
}
