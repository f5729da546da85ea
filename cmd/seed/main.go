package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/patient"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
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

	clinicID, err := seedClinic(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed clinic: %v", err)
	}
	if err := seedDoctors(context.Background(), pool, clinicID, 20); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, clinicID, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Printf("seed complete, clinic_id=%s", clinicID)
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, id, gofakeit.Company()+" Clinic", "America/New_York")
	if err != nil {
		return uuid.Nil, err
	}
	log.Println("clinic seeded")
	return id, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) error {
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
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, full_name, specialty, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, now(), now())
		`, id, clinicID, name, spec)
		if err != nil {
			return err
		}

		// Weekday shifts, 09:00-13:00 and 14:00-18:00.
		for weekday := 1; weekday <= 5; weekday++ {
			for _, shift := range [][2]int{{9 * 60, 13 * 60}, {14 * 60, 18 * 60}} {
				_, err := tx.Exec(ctx, `
					INSERT INTO working_hour_rules (id, clinic_id, doctor_id, weekday, start_minute, end_minute)
					VALUES ($1, $2, $3, $4, $5, $6)
				`, uuid.New(), clinicID, id, weekday, shift[0], shift[1])
				if err != nil {
					return err
				}
			}
		}

		slotMinutes := []int{15, 20, 30}[gofakeit.Number(0, 2)]
		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_settings (doctor_id, clinic_id, slot_minutes, lead_time_minutes, buffer_minutes)
			VALUES ($1, $2, $3, $4, $5)
		`, id, clinicID, slotMinutes, scheduling.DefaultLeadTimeMinutes, gofakeit.Number(0, 1)*5)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) error {
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
			phone := "+1" + gofakeit.Numerify("##########")

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, clinic_id, full_name, created_at)
				VALUES ($1, $2, $3, now())
			`, id, clinicID, name)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO patient_contacts (id, clinic_id, patient_id, phone, relationship)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), clinicID, id, phone, patient.RelationshipSelf)
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
