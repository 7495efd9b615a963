package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/booking-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinicIDs, err := seedClinics(context.Background(), pool, 20)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, 100)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedWorkingPeriods(context.Background(), pool, clinicIDs); err != nil {
		log.Fatalf("seed working periods: %v", err)
	}
	if err := seedAppointmentTypes(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed appointment types: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Clinic"
		address := gofakeit.Address().Address

		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, address, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, address)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clinics seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedWorkingPeriods gives every clinic a morning and an afternoon
// period Monday through Friday, plus a Saturday morning for some.
func seedWorkingPeriods(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID) error {
	log.Printf("seeding working periods for %d clinics", len(clinicIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	insert := func(clinicID uuid.UUID, day, startMinute, endMinute int) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO working_periods (id, clinic_id, day_of_week, start_minute, end_minute, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, uuid.New(), clinicID, day, startMinute, endMinute)
		return err
	}

	for _, clinicID := range clinicIDs {
		for day := 1; day <= 5; day++ {
			if err := insert(clinicID, day, 9*60, 12*60); err != nil {
				return err
			}
			if err := insert(clinicID, day, 14*60, 18*60); err != nil {
				return err
			}
		}
		if gofakeit.Bool() {
			if err := insert(clinicID, 6, 9*60, 13*60); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("working periods seeded")
	return nil
}

func seedAppointmentTypes(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding appointment types for %d doctors", len(doctorIDs))

	types := []struct {
		name     string
		minutes  int
		feeCents int64
	}{
		{"Consultation", 30, 8000},
		{"Follow-up", 15, 4000},
		{"Extended Visit", 60, 15000},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		for _, t := range types {
			_, err := tx.Exec(ctx, `
				INSERT INTO appointment_types (id, doctor_id, name, duration_minutes, fee_cents, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, uuid.New(), doctorID, t.name, t.minutes, t.feeCents)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("appointment types seeded")
	return nil
}
