package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/db"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	EmergencyRatio float64
	CancelRatio    float64
	ReadRatio      float64
	PatientLimit   int
	SlotLimit      int
	PostgresDSN    string
	SessionSecret  string
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

type Metrics struct {
	Booking      OperationMetrics
	Emergency    OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d free slots, %d doctors",
		len(dataPool.Patients), len(dataPool.Slots), len(dataPool.Doctors))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	if err := verifyInvariants(context.Background(), pgPool); err != nil {
		log.Fatalf("INVARIANT VIOLATION: %v", err)
	}
	log.Println("invariants hold: no double-booked or dangling held slots")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.5),
		EmergencyRatio: getFloat("SIM_EMERGENCY_RATIO", 0.1),
		CancelRatio:    getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:   getInt("SIM_PATIENT_LIMIT", 2000),
		SlotLimit:      getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:    baseCfg.PostgresDSN,
		SessionSecret:  baseCfg.SessionSecret,
	}

	total := cfg.BookingRatio + cfg.EmergencyRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.EmergencyRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required to mint simulator tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	if err := collectIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit, &dataPool.Patients); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if err := collectIDs(ctx, pool, `
		SELECT id FROM slots
		WHERE state = 'free' AND start_time > now()
		LIMIT $1
	`, cfg.SlotLimit, &dataPool.Slots); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if err := collectIDs(ctx, pool, `SELECT id FROM doctors WHERE on_roster LIMIT $1`, 200, &dataPool.Doctors); err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no free slots loaded")
	}

	return dataPool, nil
}

func collectIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int, out *[]uuid.UUID) error {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		*out = append(*out, id)
	}
	return rows.Err()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.EmergencyRatio:
				s.doEmergency(ctx, rng)
			case r < s.config.BookingRatio+s.config.EmergencyRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doAvailability(ctx, rng)
			}
		}
	}
}

// mintToken issues the same HS256 token the login collaborator would.
func (s *Simulator) mintToken(patientID uuid.UUID) string {
	claims := jwt.RegisteredClaims{
		Subject:   patientID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.SessionSecret))
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	return token
}

func (s *Simulator) post(ctx context.Context, patientID uuid.UUID, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.mintToken(patientID))
	return s.client.Do(req)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	resp, err := s.post(ctx, patientID, "/bookings", map[string]string{
		"kind":    "routine",
		"slot_id": slotID.String(),
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &apptResp) == nil && apptResp.ID != uuid.Nil {
				s.pool.AddAppointment(apptResp.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doEmergency(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Doctors) == 0 {
		return
	}
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	day := time.Now().AddDate(0, 0, 1+rng.Intn(7)).Truncate(24 * time.Hour)
	windowFrom := day.Add(9 * time.Hour)
	windowTo := day.Add(17 * time.Hour)

	start := time.Now()
	resp, err := s.post(ctx, patientID, "/bookings", map[string]any{
		"kind":        "emergency",
		"doctor_id":   doctorID.String(),
		"window_from": windowFrom.Format(time.RFC3339),
		"window_to":   windowTo.Format(time.RFC3339),
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Emergency.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	resp, err := s.post(ctx, patientID, fmt.Sprintf("/appointments/%s/cancel", apptID), nil)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Doctors) == 0 {
		return
	}
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	from := time.Now().Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	url := fmt.Sprintf("%s/availability?doctor_id=%s&from=%s&to=%s", s.config.APIBaseURL, doctorID, from, to)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+s.mintToken(patientID))
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	report := func(name string, om *OperationMetrics) {
		avg, p50, p95 := om.Stats()
		log.Printf("%-14s total=%d success=%d conflict=%d error=%d avg=%s p50=%s p95=%s",
			name,
			atomic.LoadInt64(&om.Total),
			atomic.LoadInt64(&om.Success),
			atomic.LoadInt64(&om.Conflict),
			atomic.LoadInt64(&om.Error),
			avg, p50, p95,
		)
	}
	report("booking", &s.metrics.Booking)
	report("emergency", &s.metrics.Emergency)
	report("cancel", &s.metrics.Cancel)
	report("availability", &s.metrics.Availability)
}

// verifyInvariants checks the core safety properties directly in Postgres.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var doubleBooked int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT slot_id FROM appointments
			WHERE status = 'confirmed'
			GROUP BY slot_id
			HAVING count(*) > 1
		) dup
	`).Scan(&doubleBooked)
	if err != nil {
		return err
	}
	if doubleBooked > 0 {
		return fmt.Errorf("%d slots have multiple confirmed appointments", doubleBooked)
	}

	var held int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM slots WHERE state = 'held'`).Scan(&held); err != nil {
		return err
	}
	if held > 0 {
		return fmt.Errorf("%d slots left in held state", held)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
