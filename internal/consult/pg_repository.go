package consult

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry

	err := row.Scan(
		&e.ID,
		&e.ScheduleID,
		&e.PatientID,
		&e.QueueNumber,
		&e.Status,
		&e.IsReady,
		&e.JoinedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}

	return &e, nil
}

func scanCallSession(row pgx.Row) (*CallSession, error) {
	var c CallSession

	err := row.Scan(
		&c.ID,
		&c.ScheduleID,
		&c.DoctorID,
		&c.PatientID,
		&c.Status,
		&c.CreatedAt,
		&c.ConfirmedAt,
		&c.EndedAt,
		&c.DoctorPeerAddress,
		&c.PatientPeerAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return &c, nil
}

const scheduleColumns = `id, doctor_id, date, start_time, end_time, status, created_at, updated_at`
const queueColumns = `id, schedule_id, patient_id, queue_number, status, is_ready, joined_at, updated_at`
const sessionColumns = `id, schedule_id, doctor_id, patient_id, status, created_at, confirmed_at, ended_at, doctor_peer_address, patient_peer_address`

// Schedules

func (r *PgRepository) CreateSchedule(ctx context.Context, s *Schedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedules (id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`, s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.Status)
	return err
}

func (r *PgRepository) GetScheduleByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *PgRepository) ListSchedulesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE doctor_id = $1
		ORDER BY date, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func (r *PgRepository) ListSchedulesFromDate(ctx context.Context, date string) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE date >= $1
		ORDER BY date, start_time
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func collectSchedules(rows pgx.Rows) ([]Schedule, error) {
	var result []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE schedules
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+scheduleColumns+`
	`, id, to, from)

	s, err := scanSchedule(row)
	if errors.Is(err, ErrScheduleNotFound) {
		return nil, ErrStaleTransition
	}
	return s, err
}

// Queue entries

func (r *PgRepository) CreateQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID, joinedAt time.Time) (*QueueEntry, error) {
	id := uuid.New()

	// Queue numbers are dense per schedule, assigned at insert and never
	// reused; the pair uniqueness is backed by an index.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO queue_entries (id, schedule_id, patient_id, queue_number, status, is_ready, joined_at, updated_at)
		VALUES (
			$1, $2, $3,
			(SELECT COALESCE(MAX(queue_number), 0) + 1 FROM queue_entries WHERE schedule_id = $2),
			'WAITING', false, $4, now()
		)
		RETURNING `+queueColumns+`
	`, id, scheduleID, patientID, joinedAt)

	e, err := scanQueueEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}
	return e, nil
}

func (r *PgRepository) GetQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID) (*QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE schedule_id = $1 AND patient_id = $2
	`, scheduleID, patientID)
	return scanQueueEntry(row)
}

func (r *PgRepository) ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE schedule_id = $1
		ORDER BY queue_number
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountQueue(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM queue_entries WHERE schedule_id = $1
	`, scheduleID).Scan(&n)
	return n, err
}

func (r *PgRepository) SetQueueStatus(ctx context.Context, scheduleID, patientID uuid.UUID, status QueueStatus, isReady bool) (*QueueEntry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $3,
		    is_ready = $4,
		    updated_at = now()
		WHERE schedule_id = $1 AND patient_id = $2
		RETURNING `+queueColumns+`
	`, scheduleID, patientID, status, isReady)
	return scanQueueEntry(row)
}

// Call sessions

func (r *PgRepository) CreateCallSession(ctx context.Context, s *CallSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_sessions (id, schedule_id, doctor_id, patient_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.ScheduleID, s.DoctorID, s.PatientID, s.Status, s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateSession
		}
		return err
	}
	return nil
}

func (r *PgRepository) GetCallSessionByID(ctx context.Context, id uuid.UUID) (*CallSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE id = $1
	`, id)
	return scanCallSession(row)
}

func (r *PgRepository) GetNonTerminalSession(ctx context.Context, scheduleID, patientID uuid.UUID) (*CallSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE schedule_id = $1
		  AND patient_id = $2
		  AND status IN ('INVITED', 'CONFIRMED', 'ACTIVE')
	`, scheduleID, patientID)
	return scanCallSession(row)
}

func (r *PgRepository) GetInvitedSessionForPatient(ctx context.Context, patientID uuid.UUID) (*CallSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE patient_id = $1
		  AND status = 'INVITED'
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID)
	return scanCallSession(row)
}

func (r *PgRepository) ListNonTerminalSessionsBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]CallSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE schedule_id = $1
		  AND status IN ('INVITED', 'CONFIRMED', 'ACTIVE')
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CallSession
	for rows.Next() {
		s, err := scanCallSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus, at time.Time) (*CallSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE call_sessions
		SET status = $2,
		    confirmed_at = CASE WHEN $2 = 'CONFIRMED' THEN $4 ELSE confirmed_at END,
		    ended_at = CASE WHEN $2 IN ('ENDED', 'DECLINED', 'EXPIRED') THEN $4 ELSE ended_at END
		WHERE id = $1
		  AND status = $3
		RETURNING `+sessionColumns+`
	`, id, to, from, at)

	s, err := scanCallSession(row)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrStaleTransition
	}
	return s, err
}

func (r *PgRepository) SetPeerAddress(ctx context.Context, id uuid.UUID, role Role, address string) (*CallSession, error) {
	column := "patient_peer_address"
	if role == RoleDoctor {
		column = "doctor_peer_address"
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE call_sessions
		SET `+column+` = $2
		WHERE id = $1
		RETURNING `+sessionColumns+`
	`, id, address)
	return scanCallSession(row)
}

func (r *PgRepository) FindExpiredInvited(ctx context.Context, cutoff time.Time) ([]CallSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM call_sessions
		WHERE status = 'INVITED'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CallSession
	for rows.Next() {
		s, err := scanCallSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}
