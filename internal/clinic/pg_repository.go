package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointmentType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	var durationMinutes int
	err := row.Scan(&t.ID, &t.DoctorID, &t.Name, &durationMinutes, &t.FeeCents, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentTypeNotFound
		}
		return nil, err
	}
	t.Duration = time.Duration(durationMinutes) * time.Minute
	return &t, nil
}

func scanWorkingPeriod(row pgx.Row) (*WorkingPeriod, error) {
	var p WorkingPeriod
	var day, start, end int
	err := row.Scan(&p.ID, &p.ClinicID, &day, &start, &end, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Day = Day(day)
	p.Start = TimeOfDay(start)
	p.End = TimeOfDay(end)
	return &p, nil
}

// Interface methods

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentTypeByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, name, duration_minutes, fee_cents, created_at, updated_at
		FROM appointment_types
		WHERE id = $1
	`, id)
	return scanAppointmentType(row)
}

func (r *PgRepository) ListWorkingPeriods(ctx context.Context, clinicID uuid.UUID, day Day) ([]WorkingPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, clinic_id, day_of_week, start_minute, end_minute, created_at, updated_at
		FROM working_periods
		WHERE clinic_id = $1 AND day_of_week = $2
		ORDER BY start_minute
	`, clinicID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingPeriod
	for rows.Next() {
		p, err := scanWorkingPeriod(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateWorkingPeriod(ctx context.Context, period WorkingPeriod) (*WorkingPeriod, error) {
	existing, err := r.ListWorkingPeriods(ctx, period.ClinicID, period.Day)
	if err != nil {
		return nil, err
	}
	if err := ValidatePeriodSet(period, existing); err != nil {
		return nil, err
	}

	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO working_periods (id, clinic_id, day_of_week, start_minute, end_minute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, clinic_id, day_of_week, start_minute, end_minute, created_at, updated_at
	`, id, period.ClinicID, int(period.Day), int(period.Start), int(period.End))

	return scanWorkingPeriod(row)
}

func (r *PgRepository) CreateAppointmentType(ctx context.Context, t AppointmentType) (*AppointmentType, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_types (id, doctor_id, name, duration_minutes, fee_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, doctor_id, name, duration_minutes, fee_cents, created_at, updated_at
	`, id, t.DoctorID, t.Name, int(t.Duration/time.Minute), t.FeeCents)

	return scanAppointmentType(row)
}
