package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/scheduling-engine/internal/db"
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

	doctorIDs, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedSchedules(context.Background(), pool, doctorIDs); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
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
		first := gofakeit.FirstName()
		last := gofakeit.LastName()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		phone := gofakeit.Phone()
		location := gofakeit.Street()

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, first_name, last_name, specialty, phone, office_location, on_roster, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, now(), now())
		`, id, first, last, spec, phone, location)
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

// seedSchedules gives every doctor a Monday-Friday 09:00-17:00 week, with a
// random weekday off for some of them.
func seedSchedules(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID) error {
	log.Printf("seeding schedules for %d doctors", len(doctorIDs))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, doctorID := range doctorIDs {
		dayOff := 0
		if gofakeit.Bool() {
			dayOff = gofakeit.Number(1, 5)
		}

		for day := 1; day <= 5; day++ {
			available := day != dayOff
			_, err := tx.Exec(ctx, `
				INSERT INTO schedules (id, doctor_id, day_of_week, start_time, end_time, available)
				VALUES ($1, $2, $3, '09:00', '17:00', $4)
			`, uuid.New(), doctorID, day, available)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("schedules seeded")
	return nil
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
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, phone)
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
