package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitacall/teleconsult/internal/auth"
	"github.com/vitacall/teleconsult/internal/client"
	"github.com/vitacall/teleconsult/internal/config"
	"github.com/vitacall/teleconsult/internal/consult"
	"github.com/vitacall/teleconsult/internal/db"
	"github.com/vitacall/teleconsult/internal/invitation"
	"github.com/vitacall/teleconsult/internal/peer"
	"github.com/vitacall/teleconsult/internal/reconcile"
)

type SimConfig struct {
	APIBaseURL   string
	Rounds       int
	DeclineRatio float64
	HoldTime     time.Duration
	JWTSecret    string
	PostgresDSN  string
	DisplayTTL   time.Duration
	PollOpts     reconcile.Options
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

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Invite    OperationMetrics // invite command round trip
	Delivery  OperationMetrics // invite sent -> patient observes it via poll
	Confirm   OperationMetrics
	Decline   OperationMetrics
	CallSetup OperationMetrics // confirm -> both peers connected and ACTIVE
	FullRound OperationMetrics // invite -> ENDED
}

type Simulator struct {
	cfg     SimConfig
	logger  *slog.Logger
	doctor  *client.Client
	rng     *rand.Rand
	metrics Metrics

	doctorID   uuid.UUID
	scheduleID uuid.UUID
	patients   []simPatient
}

type simPatient struct {
	id     uuid.UUID
	client *client.Client
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("simulator starting")

	cfg := loadSimConfig(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	sim, err := buildSimulator(ctx, pgPool, cfg, logger)
	if err != nil {
		logger.Error("load simulation fixtures", "error", err)
		os.Exit(1)
	}

	logger.Info("fixtures loaded",
		"doctor_id", sim.doctorID,
		"schedule_id", sim.scheduleID,
		"patients", len(sim.patients),
	)

	sim.Run(context.Background())
	sim.PrintReport()
}

func loadSimConfig(logger *slog.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load base config", "error", err)
		os.Exit(1)
	}

	return SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:       getInt("SIM_ROUNDS", 20),
		DeclineRatio: getFloat("SIM_DECLINE_RATIO", 0.2),
		HoldTime:     getDuration("SIM_HOLD_TIME", 2*time.Second),
		JWTSecret:    baseCfg.JWTSecret,
		PostgresDSN:  baseCfg.PostgresDSN,
		DisplayTTL:   baseCfg.InvitationDisplayTTL,
		PollOpts: reconcile.Options{
			SessionInterval:    baseCfg.DoctorPollInterval,
			InvitationInterval: baseCfg.PatientPollInterval,
			ActiveInterval:     baseCfg.ActivePollInterval,
		},
	}
}

// buildSimulator loads the seeded doctor, schedule and patients and mints
// a bearer token per actor.
func buildSimulator(ctx context.Context, pgPool *pgxpool.Pool, cfg SimConfig, logger *slog.Logger) (*Simulator, error) {
	sim := &Simulator{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	row := pgPool.QueryRow(ctx, `SELECT id FROM users WHERE role = 'DOCTOR' LIMIT 1`)
	if err := row.Scan(&sim.doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	row = pgPool.QueryRow(ctx, `
		SELECT id FROM schedules WHERE doctor_id = $1 AND status <> 'COMPLETED'
		ORDER BY date LIMIT 1
	`, sim.doctorID)
	if err := row.Scan(&sim.scheduleID); err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	rows, err := pgPool.Query(ctx, `SELECT id FROM users WHERE role = 'PATIENT' LIMIT 20`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		token, err := auth.Sign(cfg.JWTSecret, id, consult.RolePatient, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("sign patient token: %w", err)
		}
		sim.patients = append(sim.patients, simPatient{
			id:     id,
			client: client.New(cfg.APIBaseURL, token),
		})
	}
	if len(sim.patients) == 0 {
		return nil, fmt.Errorf("no patients found, run cmd/seed first")
	}

	doctorToken, err := auth.Sign(cfg.JWTSecret, sim.doctorID, consult.RoleDoctor, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("sign doctor token: %w", err)
	}
	sim.doctor = client.New(cfg.APIBaseURL, doctorToken)

	return sim, nil
}

func (s *Simulator) Run(ctx context.Context) {
	if _, err := s.doctor.StartPractice(ctx, s.scheduleID); err != nil {
		s.logger.Error("start practice", "error", err)
		return
	}

	for round := 0; round < s.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			return
		}
		patient := s.patients[s.rng.Intn(len(s.patients))]
		s.runRound(ctx, round, patient)
	}

	if _, err := s.doctor.EndPractice(ctx, s.scheduleID); err != nil {
		s.logger.Warn("end practice", "error", err)
	}
	s.logger.Info("simulation complete", "rounds", s.cfg.Rounds)
}

// runRound plays one full consultation: queue, invite, patient response,
// peer setup, a short active hold, then end. A single schedule runs one
// consultation at a time, so rounds are sequential.
func (s *Simulator) runRound(ctx context.Context, round int, patient simPatient) {
	if _, err := patient.client.JoinQueue(ctx, s.scheduleID); err != nil {
		// Already queued from a previous round is fine.
		if !isConflict(err) {
			s.logger.Warn("join queue", "round", round, "error", err)
			return
		}
	}
	if _, err := patient.client.ToggleReady(ctx, s.scheduleID, true); err != nil {
		if _, rerr := s.doctor.Requeue(ctx, s.scheduleID, patient.id); rerr != nil {
			s.logger.Warn("requeue", "round", round, "error", rerr)
			return
		}
	}

	roundStart := time.Now()
	sess, err := s.doctor.Invite(ctx, s.scheduleID, patient.id)
	inviteLatency := time.Since(roundStart)
	if err != nil {
		s.metrics.Invite.Record(inviteLatency, false, isConflict(err))
		s.logger.Warn("invite", "round", round, "error", err)
		return
	}
	s.metrics.Invite.Record(inviteLatency, true, false)

	// The patient discovers the invitation the way a real client does:
	// through the polling reconciler, with push treated as unavailable.
	inv, ok := s.awaitInvitation(ctx, patient)
	if !ok || inv.CallSessionID != sess.ID {
		s.metrics.Delivery.Record(time.Since(roundStart), false, false)
		return
	}
	s.metrics.Delivery.Record(time.Since(roundStart), true, false)

	if s.rng.Float64() < s.cfg.DeclineRatio {
		s.respondDecline(ctx, patient, sess.ID)
		s.metrics.FullRound.Record(time.Since(roundStart), true, false)
		return
	}

	confirmStart := time.Now()
	if !s.respondConfirm(ctx, patient, sess.ID) {
		return
	}
	s.metrics.Confirm.Record(time.Since(confirmStart), true, false)

	if !s.runCall(ctx, patient, sess.ID, confirmStart) {
		return
	}
	s.metrics.FullRound.Record(time.Since(roundStart), true, false)
}

func (s *Simulator) awaitInvitation(ctx context.Context, patient simPatient) (consult.PendingInvitation, bool) {
	watchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rec := reconcile.New(patient.client, s.logger, s.cfg.PollOpts)
	for inv := range rec.WatchPendingInvitation(watchCtx) {
		if inv.HasInvitation {
			return inv, true
		}
	}
	return consult.PendingInvitation{}, false
}

// respondConfirm answers through the display countdown's one-shot guard,
// exactly as an interactive client would.
func (s *Simulator) respondConfirm(ctx context.Context, patient simPatient, sessionID uuid.UUID) bool {
	guard := invitation.NewGuard()
	countdown := invitation.NewCountdown(sessionID, s.cfg.DisplayTTL, guard, nil, func(id uuid.UUID) {
		if _, err := patient.client.Decline(ctx, id); err != nil {
			s.logger.Warn("auto-decline", "session_id", id, "error", err)
		}
	})
	countdown.Start(ctx)

	// Simulated think time before tapping accept.
	thinkTime := time.Duration(s.rng.Int63n(int64(2 * time.Second)))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(thinkTime):
	}

	if !countdown.Resolve() {
		// Lost the race to the auto-decline.
		return false
	}
	sess, err := patient.client.Confirm(ctx, sessionID)
	if err != nil {
		s.logger.Warn("confirm", "session_id", sessionID, "error", err)
		return false
	}
	return sess.Status == consult.SessionConfirmed || sess.Status == consult.SessionActive
}

func (s *Simulator) respondDecline(ctx context.Context, patient simPatient, sessionID uuid.UUID) {
	start := time.Now()
	_, err := patient.client.Decline(ctx, sessionID)
	s.metrics.Decline.Record(time.Since(start), err == nil, false)
	if err != nil {
		s.logger.Warn("decline", "session_id", sessionID, "error", err)
	}
}

// runCall runs both peer orchestrators over an in-process loopback
// transport, holds the active call briefly, then the doctor hangs up.
func (s *Simulator) runCall(ctx context.Context, patient simPatient, sessionID uuid.UUID, confirmStart time.Time) bool {
	callCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	lb := newLoopback()
	peerOpts := peer.Options{DiscoverInterval: 200 * time.Millisecond}

	doctorOrch := peer.NewOrchestrator(sessionID, consult.RoleDoctor, lb.transport(), s.doctor, s.logger, peerOpts)
	patientOrch := peer.NewOrchestrator(sessionID, consult.RolePatient, lb.transport(), patient.client, s.logger, peerOpts)

	connected := make(chan struct{}, 2)
	doctorOrch.OnStateChange(func(st peer.State) {
		if st == peer.StateConnected {
			connected <- struct{}{}
		}
	})
	patientOrch.OnStateChange(func(st peer.State) {
		if st == peer.StateConnected {
			connected <- struct{}{}
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); doctorOrch.Run(callCtx) }()
	go func() { defer wg.Done(); patientOrch.Run(callCtx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-callCtx.Done():
			s.metrics.CallSetup.Record(time.Since(confirmStart), false, false)
			cancel()
			wg.Wait()
			return false
		}
	}
	s.metrics.CallSetup.Record(time.Since(confirmStart), true, false)

	select {
	case <-callCtx.Done():
	case <-time.After(s.cfg.HoldTime):
	}

	if _, err := s.doctor.End(callCtx, sessionID); err != nil {
		s.logger.Warn("end call", "session_id", sessionID, "error", err)
	}
	wg.Wait()
	return true
}

// ---- loopback transport ----

// loopback connects two in-process endpoints through net.Pipe, keyed by
// synthetic addresses.
type loopback struct {
	mu      sync.Mutex
	next    int
	accepts map[string]chan net.Conn
}

func newLoopback() *loopback {
	return &loopback{accepts: make(map[string]chan net.Conn)}
}

func (l *loopback) transport() peer.Transport {
	return &loopbackTransport{lb: l}
}

type loopbackTransport struct {
	lb *loopback
}

func (t *loopbackTransport) Open(ctx context.Context) (peer.Endpoint, error) {
	t.lb.mu.Lock()
	defer t.lb.mu.Unlock()

	t.lb.next++
	addr := fmt.Sprintf("loopback:%d", t.lb.next)
	accept := make(chan net.Conn, 1)
	t.lb.accepts[addr] = accept
	return &loopbackEndpoint{lb: t.lb, addr: addr, accept: accept}, nil
}

type loopbackEndpoint struct {
	lb     *loopback
	addr   string
	accept chan net.Conn
}

func (e *loopbackEndpoint) Address() string { return e.addr }

func (e *loopbackEndpoint) Dial(ctx context.Context, remote string) (peer.Connection, error) {
	e.lb.mu.Lock()
	accept, ok := e.lb.accepts[remote]
	e.lb.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no endpoint at %s", remote)
	}

	local, far := net.Pipe()
	select {
	case accept <- far:
		return newLoopbackConn(local), nil
	case <-ctx.Done():
		local.Close()
		far.Close()
		return nil, ctx.Err()
	}
}

func (e *loopbackEndpoint) Accept(ctx context.Context) (peer.Connection, error) {
	select {
	case conn := <-e.accept:
		return newLoopbackConn(conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *loopbackEndpoint) Close() error {
	e.lb.mu.Lock()
	delete(e.lb.accepts, e.addr)
	e.lb.mu.Unlock()
	return nil
}

type loopbackConn struct {
	conn   net.Conn
	closed chan struct{}
	once   sync.Once
}

func newLoopbackConn(conn net.Conn) *loopbackConn {
	return &loopbackConn{conn: conn, closed: make(chan struct{})}
}

func (c *loopbackConn) Closed() <-chan struct{} { return c.closed }

func (c *loopbackConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.conn.Close()
}

// ---- reporting ----

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Rounds: %d\n", s.cfg.Rounds)
	fmt.Println()

	printOperationReport("Invite", &s.metrics.Invite)
	printOperationReport("Invitation delivery (poll)", &s.metrics.Delivery)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Decline", &s.metrics.Decline)
	printOperationReport("Call setup", &s.metrics.CallSetup)
	printOperationReport("Full round", &s.metrics.FullRound)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// ---- helpers ----

func isConflict(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
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
