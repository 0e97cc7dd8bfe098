package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitacall/teleconsult/internal/auth"
	"github.com/vitacall/teleconsult/internal/config"
	"github.com/vitacall/teleconsult/internal/consult"
	"github.com/vitacall/teleconsult/internal/db"
)

const (
	patientCount  = 5
	scheduleCount = 3
	tokenTTL      = 24 * time.Hour
)

// seed provisions a demo clinic: one doctor, a handful of patients, a few
// schedules starting today, and every patient queued on the first
// schedule. It prints bearer tokens so the API can be exercised by hand
// or by the simulator.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorID, err := seedUser(ctx, pool, consult.RoleDoctor)
	if err != nil {
		logger.Error("seed doctor", "error", err)
		os.Exit(1)
	}

	patientIDs := make([]uuid.UUID, 0, patientCount)
	for i := 0; i < patientCount; i++ {
		id, err := seedUser(ctx, pool, consult.RolePatient)
		if err != nil {
			logger.Error("seed patient", "error", err)
			os.Exit(1)
		}
		patientIDs = append(patientIDs, id)
	}

	scheduleIDs, err := seedSchedules(ctx, pool, doctorID)
	if err != nil {
		logger.Error("seed schedules", "error", err)
		os.Exit(1)
	}

	if err := seedQueue(ctx, pool, scheduleIDs[0], patientIDs); err != nil {
		logger.Error("seed queue", "error", err)
		os.Exit(1)
	}

	printToken(cfg.JWTSecret, "doctor", doctorID, consult.RoleDoctor)
	for i, id := range patientIDs {
		printToken(cfg.JWTSecret, fmt.Sprintf("patient-%d", i+1), id, consult.RolePatient)
	}
	for i, id := range scheduleIDs {
		fmt.Printf("schedule-%d  %s\n", i+1, id)
	}

	logger.Info("seed complete",
		"doctor_id", doctorID,
		"patients", len(patientIDs),
		"schedules", len(scheduleIDs),
	)
}

func seedUser(ctx context.Context, pool *pgxpool.Pool, role consult.Role) (uuid.UUID, error) {
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, gofakeit.Name(), gofakeit.Email(), string(role))
	return id, err
}

func seedSchedules(ctx context.Context, pool *pgxpool.Pool, doctorID uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, scheduleCount)
	for i := 0; i < scheduleCount; i++ {
		id := uuid.New()
		day := time.Now().UTC().AddDate(0, 0, i)
		_, err := pool.Exec(ctx, `
			INSERT INTO schedules (id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, id, doctorID, day.Format("2006-01-02"), "09:00", "12:00", string(consult.ScheduleUpcoming))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedQueue(ctx context.Context, pool *pgxpool.Pool, scheduleID uuid.UUID, patientIDs []uuid.UUID) error {
	for i, patientID := range patientIDs {
		_, err := pool.Exec(ctx, `
			INSERT INTO queue_entries (id, schedule_id, patient_id, queue_number, status, is_ready, joined_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, false, now(), now())
		`, uuid.New(), scheduleID, patientID, i+1, string(consult.QueueWaiting))
		if err != nil {
			return err
		}
	}
	return nil
}

func printToken(secret, label string, actorID uuid.UUID, role consult.Role) {
	token, err := auth.Sign(secret, actorID, role, tokenTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token for %s: %v\n", label, err)
		return
	}
	fmt.Printf("%-10s  %s  %s\n", label, actorID, token)
}
