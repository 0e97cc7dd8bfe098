package consult

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrQueueEntryNotFound = errors.New("queue entry not found")
	ErrSessionNotFound    = errors.New("call session not found")
	ErrAlreadyQueued      = errors.New("patient already in queue")
	ErrDuplicateSession   = errors.New("a non-terminal call session already exists for this patient")
	ErrStaleTransition    = errors.New("status changed concurrently")
)

// Repository contains all store interactions needed by the service. Every
// status update is compare-and-set: the write names the expected current
// status and fails with ErrStaleTransition when it no longer holds.
type Repository interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetScheduleByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListSchedulesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Schedule, error)
	ListSchedulesFromDate(ctx context.Context, date string) ([]Schedule, error)
	UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error)

	// CreateQueueEntry assigns the next queue number for the schedule and
	// rejects a second entry for the same (schedule, patient) pair.
	CreateQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID, joinedAt time.Time) (*QueueEntry, error)
	GetQueueEntry(ctx context.Context, scheduleID, patientID uuid.UUID) (*QueueEntry, error)
	ListQueue(ctx context.Context, scheduleID uuid.UUID) ([]QueueEntry, error)
	CountQueue(ctx context.Context, scheduleID uuid.UUID) (int, error)
	SetQueueStatus(ctx context.Context, scheduleID, patientID uuid.UUID, status QueueStatus, isReady bool) (*QueueEntry, error)

	// CreateCallSession inserts an INVITED session. The store enforces at
	// most one non-terminal session per (schedule, patient) pair and
	// reports a violation as ErrDuplicateSession.
	CreateCallSession(ctx context.Context, s *CallSession) error
	GetCallSessionByID(ctx context.Context, id uuid.UUID) (*CallSession, error)
	GetNonTerminalSession(ctx context.Context, scheduleID, patientID uuid.UUID) (*CallSession, error)
	GetInvitedSessionForPatient(ctx context.Context, patientID uuid.UUID) (*CallSession, error)
	ListNonTerminalSessionsBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]CallSession, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to SessionStatus, at time.Time) (*CallSession, error)
	SetPeerAddress(ctx context.Context, id uuid.UUID, role Role, address string) (*CallSession, error)

	// Expiry sweep.
	FindExpiredInvited(ctx context.Context, cutoff time.Time) ([]CallSession, error)
}
