package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/booking-engine/internal/clinic"
)

// In-memory fakes. The pg repository has its own tests; these cover the
// service orchestration on top of the Repository contract.

type fakeClinicRepo struct {
	doctors  map[uuid.UUID]*clinic.Doctor
	clinics  map[uuid.UUID]*clinic.Clinic
	patients map[uuid.UUID]*clinic.Patient
	types    map[uuid.UUID]*clinic.AppointmentType
	periods  map[clinic.Day][]clinic.WorkingPeriod
}

func (f *fakeClinicRepo) GetClinicByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	if c, ok := f.clinics[id]; ok {
		return c, nil
	}
	return nil, clinic.ErrClinicNotFound
}

func (f *fakeClinicRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*clinic.Doctor, error) {
	if d, ok := f.doctors[id]; ok {
		return d, nil
	}
	return nil, clinic.ErrDoctorNotFound
}

func (f *fakeClinicRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*clinic.Patient, error) {
	if p, ok := f.patients[id]; ok {
		return p, nil
	}
	return nil, clinic.ErrPatientNotFound
}

func (f *fakeClinicRepo) GetAppointmentTypeByID(_ context.Context, id uuid.UUID) (*clinic.AppointmentType, error) {
	if t, ok := f.types[id]; ok {
		return t, nil
	}
	return nil, clinic.ErrAppointmentTypeNotFound
}

func (f *fakeClinicRepo) ListWorkingPeriods(_ context.Context, _ uuid.UUID, day clinic.Day) ([]clinic.WorkingPeriod, error) {
	return f.periods[day], nil
}

func (f *fakeClinicRepo) CreateWorkingPeriod(_ context.Context, period clinic.WorkingPeriod) (*clinic.WorkingPeriod, error) {
	f.periods[period.Day] = append(f.periods[period.Day], period)
	return &period, nil
}

func (f *fakeClinicRepo) CreateAppointmentType(_ context.Context, t clinic.AppointmentType) (*clinic.AppointmentType, error) {
	f.types[t.ID] = &t
	return &t, nil
}

type fakeRepo struct {
	appointments map[uuid.UUID]*Appointment
	payments     map[uuid.UUID]*Payment
	events       []EventLog

	createErr  error
	updateHook func(id uuid.UUID) error
	lastLimit  int
	lastOffset int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		appointments: make(map[uuid.UUID]*Appointment),
		payments:     make(map[uuid.UUID]*Payment),
	}
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := f.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) GetPaymentByAppointmentID(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	for _, p := range f.payments {
		if p.AppointmentID == appointmentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (f *fakeRepo) GetPaymentByIntentID(_ context.Context, intentID string) (*Payment, error) {
	for _, p := range f.payments {
		if p.ProviderIntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (f *fakeRepo) ListActiveIntervals(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Interval, error) {
	var out []Interval
	for _, a := range f.appointments {
		if a.DoctorID != doctorID || a.Status.Terminal() {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateWithPayment(_ context.Context, appt *Appointment, payment *Payment) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.appointments {
		if existing.DoctorID == appt.DoctorID && !existing.Status.Terminal() &&
			existing.StartTime.Equal(appt.StartTime) && existing.EndTime.Equal(appt.EndTime) {
			return ErrSlotConflict
		}
	}
	cpA, cpP := *appt, *payment
	f.appointments[appt.ID] = &cpA
	f.payments[payment.ID] = &cpP
	return nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, change StatusChange) (*Appointment, error) {
	if f.updateHook != nil {
		if err := f.updateHook(id); err != nil {
			return nil, err
		}
	}
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != change.From {
		return nil, ErrConcurrentUpdate
	}
	a.Status = change.To
	if change.ConfirmedAt != nil {
		a.ConfirmedAt = change.ConfirmedAt
	}
	if change.CompletedAt != nil {
		a.CompletedAt = change.CompletedAt
	}
	if change.CancelledAt != nil {
		a.CancelledAt = change.CancelledAt
	}
	if change.CancellationReason != nil {
		a.CancellationReason = change.CancellationReason
	}
	if change.RejectionReason != nil {
		a.RejectionReason = change.RejectionReason
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) SetApproved(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status.Terminal() {
		return nil, ErrConcurrentUpdate
	}
	a.ApprovedByDoctor = true
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) MarkPaymentPaidAndConfirm(_ context.Context, paymentID, appointmentID uuid.UUID, at time.Time) (bool, error) {
	p, ok := f.payments[paymentID]
	if !ok || p.Status != PaymentPending {
		return false, nil
	}
	p.Status = PaymentPaid
	if a, ok := f.appointments[appointmentID]; ok && a.Status == StatusPendingPayment {
		a.Status = StatusConfirmed
		a.ConfirmedAt = &at
	}
	return true, nil
}

func (f *fakeRepo) MarkPaymentFailed(_ context.Context, paymentID uuid.UUID, reason string) (bool, error) {
	p, ok := f.payments[paymentID]
	if !ok || p.Status != PaymentPending {
		return false, nil
	}
	p.Status = PaymentFailed
	p.FailureReason = &reason
	return true, nil
}

func (f *fakeRepo) MarkPaymentRefunded(_ context.Context, paymentID, _ uuid.UUID, _ time.Time) (bool, error) {
	p, ok := f.payments[paymentID]
	if !ok || p.Status == PaymentRefunded {
		return false, nil
	}
	p.Status = PaymentRefunded
	return true, nil
}

func (f *fakeRepo) MarkPaymentRefundFailed(_ context.Context, paymentID uuid.UUID) (bool, error) {
	p, ok := f.payments[paymentID]
	if !ok || p.Status == PaymentRefunded || p.Status == PaymentRefundFailed {
		return false, nil
	}
	p.Status = PaymentRefundFailed
	return true, nil
}

func (f *fakeRepo) FindOverduePending(_ context.Context, now time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range f.appointments {
		if a.Status == StatusPendingPayment && a.PaymentDueTime.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.lastLimit = limit
	f.lastOffset = offset
	var out []Appointment
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

type stubProvider struct {
	intents      int
	intentErr    error
	refunds      []string
	refundStatus string
	refundErr    error
}

func (p *stubProvider) CreateIntent(_ context.Context, _ int64, _ map[string]string) (*PaymentIntent, error) {
	if p.intentErr != nil {
		return nil, p.intentErr
	}
	p.intents++
	id := fmt.Sprintf("pi_test_%d", p.intents)
	return &PaymentIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (p *stubProvider) CreateRefund(_ context.Context, intentID string) (string, error) {
	if p.refundErr != nil {
		return "", p.refundErr
	}
	p.refunds = append(p.refunds, intentID)
	if p.refundStatus != "" {
		return p.refundStatus, nil
	}
	return RefundSucceeded, nil
}

// Fixture: one doctor at one clinic, open Monday 09:00-12:00, offering a
// 30 minute consultation. The clock starts Monday 2026-03-02 08:00 UTC.

type fixture struct {
	svc      *Service
	repo     *fakeRepo
	clinics  *fakeClinicRepo
	provider *stubProvider
	now      time.Time

	doctorID  uuid.UUID
	clinicID  uuid.UUID
	patientID uuid.UUID
	typeID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      newFakeRepo(),
		provider:  &stubProvider{},
		now:       time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		doctorID:  uuid.New(),
		clinicID:  uuid.New(),
		patientID: uuid.New(),
		typeID:    uuid.New(),
	}

	f.clinics = &fakeClinicRepo{
		doctors:  map[uuid.UUID]*clinic.Doctor{f.doctorID: {ID: f.doctorID, Name: "Dr. Vega"}},
		clinics:  map[uuid.UUID]*clinic.Clinic{f.clinicID: {ID: f.clinicID, Name: "Downtown"}},
		patients: map[uuid.UUID]*clinic.Patient{f.patientID: {ID: f.patientID, Name: "Ada"}},
		types: map[uuid.UUID]*clinic.AppointmentType{
			f.typeID: {ID: f.typeID, DoctorID: f.doctorID, Name: "Consultation", Duration: 30 * time.Minute, FeeCents: 8000},
		},
		periods: map[clinic.Day][]clinic.WorkingPeriod{
			clinic.Monday: {{ClinicID: f.clinicID, Day: clinic.Monday, Start: 9 * 60, End: 12 * 60}},
		},
	}

	f.svc = NewService(f.repo, f.clinics, f.provider, zerolog.Nop(), 15*time.Minute).
		WithNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) bookRequest(start time.Time) BookRequest {
	return BookRequest{
		DoctorID:          f.doctorID,
		PatientID:         f.patientID,
		ClinicID:          f.clinicID,
		AppointmentTypeID: f.typeID,
		StartTime:         start,
	}
}

func monday(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.svc.AvailableSlots(ctx, f.doctorID, f.clinicID, f.typeID, monday(0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 6)
	assert.Equal(t, monday(9, 0), slots[0].Start)

	// Book one slot and it disappears.
	_, _, err = f.svc.Book(ctx, f.bookRequest(monday(10, 0)))
	require.NoError(t, err)

	slots, err = f.svc.AvailableSlots(ctx, f.doctorID, f.clinicID, f.typeID, monday(0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 5)
	for _, s := range slots {
		assert.False(t, s.Start.Equal(monday(10, 0)))
	}
}

func TestAvailableSlotsTypeDoctorMismatch(t *testing.T) {
	f := newFixture(t)
	otherDoctor := uuid.New()
	f.clinics.doctors[otherDoctor] = &clinic.Doctor{ID: otherDoctor, Name: "Dr. Okafor"}

	_, err := f.svc.AvailableSlots(context.Background(), otherDoctor, f.clinicID, f.typeID, monday(0, 0))
	assert.ErrorIs(t, err, ErrTypeDoctorMismatch)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBook(t *testing.T) {
	f := newFixture(t)

	appt, payment, err := f.svc.Book(context.Background(), f.bookRequest(monday(9, 30)))
	require.NoError(t, err)

	assert.Equal(t, StatusPendingPayment, appt.Status)
	assert.Equal(t, monday(9, 30), appt.StartTime)
	assert.Equal(t, monday(10, 0), appt.EndTime)
	assert.Equal(t, f.now.Add(15*time.Minute), appt.PaymentDueTime)
	assert.False(t, appt.ApprovedByDoctor)

	require.NotNil(t, payment)
	assert.Equal(t, PaymentPending, payment.Status)
	assert.Equal(t, int64(8000), payment.AmountCents)
	assert.Equal(t, "pi_test_1", payment.ProviderIntentID)
	assert.NotEmpty(t, payment.ClientSecret)

	assert.Equal(t, []string{EventLogBooked}, f.repo.eventTypes())
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Start time in the past.
	f.now = monday(10, 0)
	_, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 30)))
	assert.ErrorIs(t, err, ErrStartTimeInPast)
	assert.ErrorIs(t, err, ErrValidation)
	f.now = monday(8, 0)

	// Off-grid start time.
	_, _, err = f.svc.Book(ctx, f.bookRequest(monday(9, 10)))
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	// Outside working hours.
	_, _, err = f.svc.Book(ctx, f.bookRequest(monday(13, 0)))
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	// Unknown patient.
	req := f.bookRequest(monday(9, 30))
	req.PatientID = uuid.New()
	_, _, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, clinic.ErrPatientNotFound)

	// No intents were created for rejected requests.
	assert.Zero(t, f.provider.intents)
	assert.Empty(t, f.repo.events)
}

func TestBookSlotConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The slot looked free at validation time but another booking won the
	// uniqueness race at commit.
	f.repo.createErr = ErrSlotConflict
	_, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Empty(t, f.repo.events, "no booked event for a lost race")
}

func TestBookProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.intentErr = errors.New("provider down")

	_, _, err := f.svc.Book(context.Background(), f.bookRequest(monday(9, 0)))
	assert.ErrorIs(t, err, ErrPaymentProvider)
	assert.Empty(t, f.repo.appointments, "nothing persisted when the intent fails")
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	updated, err := f.svc.Approve(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, updated.ApprovedByDoctor)
	assert.Equal(t, StatusPendingPayment, updated.Status, "approval does not change status")

	// Approving a terminal appointment is rejected.
	f.repo.appointments[appt.ID].Status = StatusCanceledByPatient
	_, err = f.svc.Approve(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	updated, err := f.svc.Reject(ctx, appt.ID, "fully booked elsewhere")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, updated.Status)
	require.NotNil(t, updated.RejectionReason)
	assert.Equal(t, "fully booked elsewhere", *updated.RejectionReason)

	// The pending payment is left alone; there is nothing to refund.
	p, err := f.repo.GetPaymentByAppointmentID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, p.Status)
	assert.Empty(t, f.provider.refunds)
}

func TestCancelByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	updated, err := f.svc.Cancel(ctx, appt.ID, ActorPatient, "cannot make it")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByPatient, updated.Status)
	require.NotNil(t, updated.CancelledAt)
	require.NotNil(t, updated.CancellationReason)
	assert.Equal(t, "cannot make it", *updated.CancellationReason)

	// The slot is released.
	slots, err := f.svc.AvailableSlots(ctx, f.doctorID, f.clinicID, f.typeID, monday(0, 0))
	require.NoError(t, err)
	assert.Len(t, slots, 6)

	// Cancelling again is illegal.
	_, err = f.svc.Cancel(ctx, appt.ID, ActorPatient, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCancelRefundsPaidPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, payment, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	applied, err := f.repo.MarkPaymentPaidAndConfirm(ctx, payment.ID, appt.ID, f.now)
	require.NoError(t, err)
	require.True(t, applied)

	updated, err := f.svc.Cancel(ctx, appt.ID, ActorDoctor, "emergency")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByDoctor, updated.Status)

	assert.Equal(t, []string{payment.ProviderIntentID}, f.provider.refunds)
	p, err := f.repo.GetPaymentByAppointmentID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, p.Status)
}

func TestCancelRefundProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, payment, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)
	_, err = f.repo.MarkPaymentPaidAndConfirm(ctx, payment.ID, appt.ID, f.now)
	require.NoError(t, err)

	f.provider.refundErr = errors.New("refund endpoint down")

	updated, err := f.svc.Cancel(ctx, appt.ID, ActorPatient, "")
	assert.ErrorIs(t, err, ErrPaymentProvider)
	require.NotNil(t, updated, "the cancellation itself stands")
	assert.Equal(t, StatusCanceledByPatient, updated.Status)

	p, err := f.repo.GetPaymentByAppointmentID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefundFailed, p.Status)
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, payment, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)
	_, err = f.repo.MarkPaymentPaidAndConfirm(ctx, payment.ID, appt.ID, f.now)
	require.NoError(t, err)

	// Too early: the visit has not ended yet.
	f.now = monday(9, 15)
	_, err = f.svc.Complete(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotEnded)

	f.now = monday(9, 30)
	updated, err := f.svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, monday(9, 30), *updated.CompletedAt)
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	f.now = monday(10, 0)
	_, err = f.svc.Complete(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	replacement, payment, err := f.svc.Reschedule(ctx, orig.ID, monday(11, 0), ActorPatient)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingPayment, replacement.Status)
	assert.Equal(t, monday(11, 0), replacement.StartTime)
	require.NotNil(t, replacement.RescheduledFrom)
	assert.Equal(t, orig.ID, *replacement.RescheduledFrom)
	require.NotNil(t, payment)
	assert.Equal(t, PaymentPending, payment.Status)

	// The original is cancelled and its slot released.
	got, err := f.repo.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByPatient, got.Status)

	slots, err := f.svc.AvailableSlots(ctx, f.doctorID, f.clinicID, f.typeID, monday(0, 0))
	require.NoError(t, err)
	starts := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		starts = append(starts, s.Start)
	}
	assert.Contains(t, starts, monday(9, 0))
	assert.NotContains(t, starts, monday(11, 0))
}

func TestRescheduleTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, orig.ID, ActorPatient, "")
	require.NoError(t, err)

	_, _, err = f.svc.Reschedule(ctx, orig.ID, monday(11, 0), ActorPatient)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRescheduleTargetConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)
	_, _, err = f.svc.Book(ctx, f.bookRequest(monday(11, 0)))
	require.NoError(t, err)

	_, _, err = f.svc.Reschedule(ctx, orig.ID, monday(11, 0), ActorPatient)
	assert.ErrorIs(t, err, ErrSlotNotAvailable)

	// The original is untouched on failure.
	got, err := f.repo.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	overdue, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)
	fresh, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 30)))
	require.NoError(t, err)

	// Let the first hold expire, then book another to show fresh holds
	// survive the sweep.
	f.now = f.now.Add(16 * time.Minute)
	f.repo.appointments[fresh.ID].PaymentDueTime = f.now.Add(10 * time.Minute)

	cancelled, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	got, err := f.repo.GetByID(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByDoctor, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "payment deadline elapsed", *got.CancellationReason)
	require.NotNil(t, got.CancelledAt)

	got, err = f.repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPayment, got.Status)

	// Idempotent: a second run finds nothing.
	cancelled, err = f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, cancelled)
}

func TestSweepOverdueSkipsRacedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)
	b, _, err := f.svc.Book(ctx, f.bookRequest(monday(9, 30)))
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)

	// One row is confirmed between the scan and the update; the sweep
	// skips it and still cancels the other.
	f.repo.updateHook = func(id uuid.UUID) error {
		if id == a.ID {
			return ErrConcurrentUpdate
		}
		return nil
	}

	cancelled, err := f.svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	got, err := f.repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceledByDoctor, got.Status)
}

func TestListByPatientClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListByPatient(ctx, f.patientID, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 20, f.repo.lastLimit)
	assert.Equal(t, 0, f.repo.lastOffset)

	_, err = f.svc.ListByPatient(ctx, f.patientID, 500, 40)
	require.NoError(t, err)
	assert.Equal(t, 100, f.repo.lastLimit)
	assert.Equal(t, 40, f.repo.lastOffset)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, payment, err := f.svc.Book(ctx, f.bookRequest(monday(9, 0)))
	require.NoError(t, err)

	gotAppt, gotPayment, err := f.svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, gotAppt.ID)
	require.NotNil(t, gotPayment)
	assert.Equal(t, payment.ID, gotPayment.ID)

	_, _, err = f.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
