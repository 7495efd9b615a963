package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentColumnNames = []string{
	"id", "doctor_id", "patient_id", "clinic_id", "appointment_type_id",
	"start_time", "end_time", "status", "problem_description", "payment_due_time",
	"approved_by_doctor", "confirmed_at", "completed_at", "cancelled_at",
	"cancellation_reason", "rejection_reason", "rescheduled_from", "created_at", "updated_at",
}

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock requires the expected
// argument count to match even when a test does not care about the values.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func sampleAppointment() *Appointment {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	return &Appointment{
		ID:                uuid.New(),
		DoctorID:          uuid.New(),
		PatientID:         uuid.New(),
		ClinicID:          uuid.New(),
		AppointmentTypeID: uuid.New(),
		StartTime:         now.Add(time.Hour),
		EndTime:           now.Add(90 * time.Minute),
		Status:            StatusPendingPayment,
		PaymentDueTime:    now.Add(15 * time.Minute),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func appointmentRows(a *Appointment) *pgxmock.Rows {
	return pgxmock.NewRows(appointmentColumnNames).AddRow(
		a.ID, a.DoctorID, a.PatientID, a.ClinicID, a.AppointmentTypeID,
		a.StartTime, a.EndTime, a.Status, a.ProblemDescription, a.PaymentDueTime,
		a.ApprovedByDoctor, a.ConfirmedAt, a.CompletedAt, a.CancelledAt,
		a.CancellationReason, a.RejectionReason, a.RescheduledFrom, a.CreatedAt, a.UpdatedAt,
	)
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgGetByID(t *testing.T) {
	mock, repo := newMockRepo(t)
	want := sampleAppointment()

	mock.ExpectQuery("FROM appointments").
		WithArgs(want.ID).
		WillReturnRows(appointmentRows(want))

	got, err := repo.GetByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, StatusPendingPayment, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM appointments").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetPaymentByIntentIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("FROM payments").
		WithArgs("pi_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetPaymentByIntentID(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateWithPayment(t *testing.T) {
	mock, repo := newMockRepo(t)
	appt := sampleAppointment()
	payment := &Payment{
		ID:               uuid.New(),
		AppointmentID:    appt.ID,
		AmountCents:      8000,
		Status:           PaymentPending,
		ProviderIntentID: "pi_1",
		ClientSecret:     "pi_1_secret",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(
			appt.ID, appt.DoctorID, appt.PatientID, appt.ClinicID, appt.AppointmentTypeID,
			appt.StartTime, appt.EndTime, appt.Status, appt.ProblemDescription, appt.PaymentDueTime,
			appt.ApprovedByDoctor, appt.ConfirmedAt, appt.CompletedAt, appt.CancelledAt,
			appt.CancellationReason, appt.RejectionReason, appt.RescheduledFrom,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(
			payment.ID, payment.AppointmentID, payment.AmountCents, payment.Status,
			payment.ProviderIntentID, payment.ClientSecret, payment.FailureReason,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.CreateWithPayment(context.Background(), appt, payment)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateWithPaymentSlotConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	appt := sampleAppointment()
	payment := &Payment{ID: uuid.New(), AppointmentID: appt.ID, Status: PaymentPending, ProviderIntentID: "pi_1"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(anyArgs(17)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_idx"})
	mock.ExpectRollback()

	err := repo.CreateWithPayment(context.Background(), appt, payment)
	assert.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatus(t *testing.T) {
	mock, repo := newMockRepo(t)
	appt := sampleAppointment()
	now := time.Now()

	updated := *appt
	updated.Status = StatusCanceledByPatient
	updated.CancelledAt = &now

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(
			appt.ID, StatusCanceledByPatient, StatusPendingPayment,
			(*time.Time)(nil), (*time.Time)(nil), &now, (*string)(nil), (*string)(nil),
		).
		WillReturnRows(appointmentRows(&updated))

	got, err := repo.UpdateStatus(context.Background(), appt.ID, StatusChange{
		From:        StatusPendingPayment,
		To:          StatusCanceledByPatient,
		CancelledAt: &now,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByPatient, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusConcurrentUpdate(t *testing.T) {
	mock, repo := newMockRepo(t)
	appt := sampleAppointment()
	appt.Status = StatusConfirmed // the row moved on

	// The conditional update matches nothing.
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(anyArgs(8)...).
		WillReturnError(pgx.ErrNoRows)
	// The row still exists, so it raced rather than vanished.
	mock.ExpectQuery("FROM appointments").
		WithArgs(appt.ID).
		WillReturnRows(appointmentRows(appt))

	_, err := repo.UpdateStatus(context.Background(), appt.ID, StatusChange{
		From: StatusPendingPayment,
		To:   StatusCanceledByDoctor,
	})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(anyArgs(8)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM appointments").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), id, StatusChange{
		From: StatusPendingPayment,
		To:   StatusCanceledByDoctor,
	})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkPaymentPaidAndConfirm(t *testing.T) {
	mock, repo := newMockRepo(t)
	paymentID, apptID := uuid.New(), uuid.New()
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs(paymentID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(apptID, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	applied, err := repo.MarkPaymentPaidAndConfirm(context.Background(), paymentID, apptID, at)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkPaymentPaidAndConfirmAlreadyPaid(t *testing.T) {
	mock, repo := newMockRepo(t)
	paymentID, apptID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs(paymentID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	applied, err := repo.MarkPaymentPaidAndConfirm(context.Background(), paymentID, apptID, time.Now())
	require.NoError(t, err)
	assert.False(t, applied, "duplicate delivery is an idempotent no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkPaymentFailed(t *testing.T) {
	mock, repo := newMockRepo(t)
	paymentID := uuid.New()

	mock.ExpectExec("UPDATE payments").
		WithArgs(paymentID, "card declined").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.MarkPaymentFailed(context.Background(), paymentID, "card declined")
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMarkPaymentRefundedSticky(t *testing.T) {
	mock, repo := newMockRepo(t)
	paymentID, apptID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments").
		WithArgs(paymentID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	applied, err := repo.MarkPaymentRefunded(context.Background(), paymentID, apptID, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListActiveIntervals(t *testing.T) {
	mock, repo := newMockRepo(t)
	doctorID := uuid.New()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT start_time, end_time").
		WithArgs(doctorID, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"start_time", "end_time"}).
			AddRow(from.Add(9*time.Hour), from.Add(9*time.Hour+30*time.Minute)).
			AddRow(from.Add(10*time.Hour), from.Add(10*time.Hour+30*time.Minute)))

	got, err := repo.ListActiveIntervals(context.Background(), doctorID, from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, from.Add(9*time.Hour), got[0].Start)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindOverduePending(t *testing.T) {
	mock, repo := newMockRepo(t)
	appt := sampleAppointment()
	now := appt.PaymentDueTime.Add(time.Minute)

	mock.ExpectQuery("FROM appointments").
		WithArgs(now).
		WillReturnRows(appointmentRows(appt))

	got, err := repo.FindOverduePending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, appt.ID, got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgInsertEvent(t *testing.T) {
	mock, repo := newMockRepo(t)
	apptID := uuid.New()
	created := time.Now()

	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs("APPOINTMENT_BOOKED", &apptID, []byte(`{}`), &created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.InsertEvent(context.Background(), EventLog{
		EventType:     "APPOINTMENT_BOOKED",
		AppointmentID: &apptID,
		Payload:       []byte(`{}`),
		CreatedAt:     created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
