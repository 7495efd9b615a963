package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, doctor_id, patient_id, clinic_id, appointment_type_id,
		start_time, end_time, status, problem_description, payment_due_time,
		approved_by_doctor, confirmed_at, completed_at, cancelled_at,
		cancellation_reason, rejection_reason, rescheduled_from, created_at, updated_at`

const paymentColumns = `id, appointment_id, amount_cents, status, provider_intent_id,
		client_secret, failure_reason, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ClinicID,
		&a.AppointmentTypeID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.ProblemDescription,
		&a.PaymentDueTime,
		&a.ApprovedByDoctor,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CancellationReason,
		&a.RejectionReason,
		&a.RescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.AmountCents,
		&p.Status,
		&p.ProviderIntentID,
		&p.ClientSecret,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Interface methods

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetPaymentByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
	`, appointmentID)
	return scanPayment(row)
}

func (r *PgRepository) GetPaymentByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider_intent_id = $1
	`, intentID)
	return scanPayment(row)
}

func (r *PgRepository) ListActiveIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Interval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('pending_payment', 'confirmed')
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateWithPayment(ctx context.Context, appt *Appointment, payment *Payment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
	`,
		appt.ID, appt.DoctorID, appt.PatientID, appt.ClinicID, appt.AppointmentTypeID,
		appt.StartTime, appt.EndTime, appt.Status, appt.ProblemDescription, appt.PaymentDueTime,
		appt.ApprovedByDoctor, appt.ConfirmedAt, appt.CompletedAt, appt.CancelledAt,
		appt.CancellationReason, appt.RejectionReason, appt.RescheduledFrom,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`,
		payment.ID, payment.AppointmentID, payment.AmountCents, payment.Status,
		payment.ProviderIntentID, payment.ClientSecret, payment.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		// The uniqueness index is checked at commit as well when the
		// insert was deferred by the database.
		if isUniqueViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("commit booking tx: %w", err)
	}

	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now(),
		    confirmed_at = COALESCE($4, confirmed_at),
		    completed_at = COALESCE($5, completed_at),
		    cancelled_at = COALESCE($6, cancelled_at),
		    cancellation_reason = COALESCE($7, cancellation_reason),
		    rejection_reason = COALESCE($8, rejection_reason)
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, change.To, change.From,
		change.ConfirmedAt, change.CompletedAt, change.CancelledAt,
		change.CancellationReason, change.RejectionReason)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// Distinguish a raced transition from a missing row.
	if _, getErr := r.GetByID(ctx, id); getErr == nil {
		return nil, ErrConcurrentUpdate
	}
	return nil, ErrAppointmentNotFound
}

func (r *PgRepository) SetApproved(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET approved_by_doctor = true,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending_payment', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr == nil {
		return nil, ErrConcurrentUpdate
	}
	return nil, ErrAppointmentNotFound
}

func (r *PgRepository) MarkPaymentPaidAndConfirm(ctx context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin confirm tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'paid',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark payment paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// The confirm is conditional on its own: if the appointment already
	// left pending_payment (canceled, swept) the payment still records
	// the money that moved.
	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'confirmed',
		    confirmed_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending_payment'
	`, appointmentID, at)
	if err != nil {
		return false, fmt.Errorf("confirm appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit confirm tx: %w", err)
	}
	return true, nil
}

func (r *PgRepository) MarkPaymentFailed(ctx context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = 'failed',
		    failure_reason = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, paymentID, reason)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) MarkPaymentRefunded(ctx context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin refund tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Refunded is sticky: a late succeeded event must not regress it,
	// and a refund outcome may land before the succeeded event did.
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded',
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'refunded'
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark payment refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET cancelled_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('canceled_by_patient', 'canceled_by_doctor', 'rejected')
	`, appointmentID, at)
	if err != nil {
		return false, fmt.Errorf("restamp cancellation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit refund tx: %w", err)
	}
	return true, nil
}

func (r *PgRepository) MarkPaymentRefundFailed(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = 'refund_failed',
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('refunded', 'refund_failed')
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("mark refund failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) FindOverduePending(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending_payment'
		  AND payment_due_time < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
