package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/config"
	"github.com/dheovanwa/serenity/internal/db"
	"github.com/dheovanwa/serenity/internal/logger"
)

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	MessageRatio     float64
	CancelRatio      float64
	RateRatio        float64
	ReadRatio        float64
	AppointmentLimit int
	PostgresDSN      string
	JWTSecret        string
}

type target struct {
	id           uuid.UUID
	patient      auth.Principal
	psychiatrist auth.Principal
}

// DataPool holds appointments grouped by the lifecycle state the load targets.
type DataPool struct {
	Live        []target // in progress: chat traffic
	Cancellable []target // awaiting payment or scheduled: contended cancels
	Finished    []target // contended ratings
	All         []target
}

func pick(rng *rand.Rand, ts []target) (target, bool) {
	if len(ts) == 0 {
		return target{}, false
	}
	return ts[rng.Intn(len(ts))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
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

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	SendMessage OperationMetrics
	OpenChat    OperationMetrics
	Cancel      OperationMetrics
	Rate        OperationMetrics
	Permissions OperationMetrics
}

type Simulator struct {
	config   SimConfig
	pool     *DataPool
	client   *http.Client
	verifier *auth.Verifier
	tokens   sync.Map // uuid.UUID -> string
	log      *zap.Logger
	metrics  Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(baseCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("message", cfg.MessageRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("rate", cfg.RateRatio),
		zap.Float64("read", cfg.ReadRatio))

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}

	log.Info("data pool loaded",
		zap.Int("live", len(dataPool.Live)),
		zap.Int("cancellable", len(dataPool.Cancellable)),
		zap.Int("finished", len(dataPool.Finished)))

	sim := &Simulator{
		config:   cfg,
		pool:     dataPool,
		client:   &http.Client{Timeout: 10 * time.Second},
		verifier: auth.NewVerifier(cfg.JWTSecret),
		log:      log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:         getDuration("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		MessageRatio:     getFloat("SIM_MESSAGE_RATIO", 0.4),
		CancelRatio:      getFloat("SIM_CANCEL_RATIO", 0.15),
		RateRatio:        getFloat("SIM_RATE_RATIO", 0.15),
		ReadRatio:        getFloat("SIM_READ_RATIO", 0.3),
		AppointmentLimit: getInt("SIM_APPOINTMENT_LIMIT", 5000),
		PostgresDSN:      base.PostgresDSN,
		JWTSecret:        base.JWTSecret,
	}

	// Normalize ratios
	total := cfg.MessageRatio + cfg.CancelRatio + cfg.RateRatio + cfg.ReadRatio
	if total > 0 {
		cfg.MessageRatio /= total
		cfg.CancelRatio /= total
		cfg.RateRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint simulator tokens")
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
	rows, err := pool.Query(ctx, `
		SELECT id, patient_id, patient_name, psychiatrist_id, psychiatrist_name, status
		FROM appointments
		ORDER BY updated_at DESC
		LIMIT $1
	`, cfg.AppointmentLimit)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	dataPool := &DataPool{}
	for rows.Next() {
		var t target
		var status string
		if err := rows.Scan(&t.id, &t.patient.UserID, &t.patient.Name, &t.psychiatrist.UserID, &t.psychiatrist.Name, &status); err != nil {
			return nil, err
		}
		t.patient.Role = auth.RolePatient
		t.psychiatrist.Role = auth.RolePsychiatrist

		dataPool.All = append(dataPool.All, t)
		switch appointment.AppointmentStatus(status) {
		case appointment.StatusInProgress:
			dataPool.Live = append(dataPool.Live, t)
		case appointment.StatusAwaitingPayment, appointment.StatusScheduled:
			dataPool.Cancellable = append(dataPool.Cancellable, t)
		case appointment.StatusFinished:
			dataPool.Finished = append(dataPool.Finished, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.All) == 0 {
		return nil, fmt.Errorf("no appointments loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
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
			case r < s.config.MessageRatio:
				if rng.Intn(4) == 0 {
					s.doOpenChat(ctx, rng)
				} else {
					s.doSendMessage(ctx, rng)
				}
			case r < s.config.MessageRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.MessageRatio+s.config.CancelRatio+s.config.RateRatio:
				s.doRate(ctx, rng)
			default:
				s.doPermissions(ctx, rng)
			}
		}
	}
}

func (s *Simulator) token(p auth.Principal) (string, error) {
	if tok, ok := s.tokens.Load(p.UserID); ok {
		return tok.(string), nil
	}
	tok, err := s.verifier.Issue(p, time.Hour)
	if err != nil {
		return "", err
	}
	s.tokens.Store(p.UserID, tok)
	return tok, nil
}

// call performs one authenticated request and returns the status code, or 0
// when the request never produced a response.
func (s *Simulator) call(ctx context.Context, p auth.Principal, method, path string, body any) int {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := s.token(p)
	if err != nil {
		return 0
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

func participant(rng *rand.Rand, t target) auth.Principal {
	if rng.Intn(2) == 0 {
		return t.patient
	}
	return t.psychiatrist
}

func (s *Simulator) doSendMessage(ctx context.Context, rng *rand.Rand) {
	t, ok := pick(rng, s.pool.Live)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, participant(rng, t), http.MethodPost,
		fmt.Sprintf("/chats/%s/messages", t.id),
		map[string]string{"text": fmt.Sprintf("pesan simulasi %d", rng.Intn(1000))})

	s.metrics.SendMessage.Record(time.Since(start), code == http.StatusCreated, code == http.StatusConflict)
}

func (s *Simulator) doOpenChat(ctx context.Context, rng *rand.Rand) {
	t, ok := pick(rng, s.pool.Live)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, participant(rng, t), http.MethodPost, fmt.Sprintf("/chats/%s/open", t.id), nil)

	s.metrics.OpenChat.Record(time.Since(start), code == http.StatusOK, false)
}

// doCancel races cancels on the same appointment. Only the first may succeed;
// the rest must come back as conflicts.
func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	t, ok := pick(rng, s.pool.Cancellable)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, t.patient, http.MethodPost, fmt.Sprintf("/appointments/%s/cancel", t.id), nil)

	s.metrics.Cancel.Record(time.Since(start), code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doRate(ctx context.Context, rng *rand.Rand) {
	t, ok := pick(rng, s.pool.Finished)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, t.patient, http.MethodPost, fmt.Sprintf("/chats/%s/rating", t.id),
		map[string]int{"stars": 1 + rng.Intn(5)})

	s.metrics.Rate.Record(time.Since(start), code == http.StatusCreated, code == http.StatusConflict)
}

func (s *Simulator) doPermissions(ctx context.Context, rng *rand.Rand) {
	t, ok := pick(rng, s.pool.All)
	if !ok {
		return
	}

	start := time.Now()
	code := s.call(ctx, participant(rng, t), http.MethodGet, fmt.Sprintf("/appointments/%s/permissions", t.id), nil)

	s.metrics.Permissions.Record(time.Since(start), code == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Send message", &s.metrics.SendMessage)
	printOperationReport("Open chat", &s.metrics.OpenChat)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Rate", &s.metrics.Rate)
	printOperationReport("Permissions", &s.metrics.Permissions)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
