package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/db"
	"github.com/clinicdesk/scheduling-engine/internal/scheduling"
)

// slot-generator expands each roster doctor's weekly schedule into concrete
// free slots over the configured horizon. Re-running it is safe: existing
// (doctor, start_time) pairs are left alone, so booked slots are never
// touched.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("slot-generator starting",
		zap.Int("horizon_days", cfg.HorizonDays),
		zap.Int("slot_minutes", cfg.SlotMinutes),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	repo := scheduling.NewPgRepository(pool)

	doctorIDs, err := repo.ListRosterDoctorIDs(ctx)
	if err != nil {
		logger.Fatal("list doctors", zap.Error(err))
	}

	from := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour)
	totalInserted := 0

	for _, doctorID := range doctorIDs {
		schedules, err := repo.ListSchedules(ctx, doctorID)
		if err != nil {
			logger.Fatal("list schedules", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		}
		if len(schedules) == 0 {
			continue
		}

		slots, err := scheduling.GenerateSlots(doctorID, schedules, from, cfg.HorizonDays, cfg.SlotMinutes)
		if err != nil {
			logger.Fatal("generate slots", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		}

		inserted, err := repo.InsertSlots(ctx, slots)
		if err != nil {
			logger.Fatal("insert slots", zap.String("doctor_id", doctorID.String()), zap.Error(err))
		}
		totalInserted += inserted
	}

	logger.Info("slot generation complete",
		zap.Int("doctors", len(doctorIDs)),
		zap.Int("slots_inserted", totalInserted),
	)
}
