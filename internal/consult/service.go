package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/config"
	"github.com/vitacall/teleconsult/internal/fanout"
	redisclient "github.com/vitacall/teleconsult/internal/redis"
)

var (
	ErrPermissionDenied       = errors.New("actor is not a party to this resource")
	ErrScheduleNotOnline      = errors.New("schedule is not online")
	ErrScheduleCompleted      = errors.New("schedule is already completed")
	ErrPatientNotReady        = errors.New("patient is not ready to be called")
	ErrConsultationInProgress = errors.New("another consultation is already in progress on this schedule")
	ErrInviteInFlight         = errors.New("an invite for this patient is already being processed, please retry")
	ErrCurrentlyInCall        = errors.New("queue entry is currently in a call")
	ErrConsultationDone       = errors.New("consultation already completed")
)

// Service owns every state transition against the session store. All call
// commands are idempotent on retry: a command that targets a session
// already past the requested transition returns the current snapshot
// instead of failing, which is what makes at-least-once delivery safe.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	pub    fanout.Publisher
	logger *slog.Logger
	cfg    config.Config

	// now is injectable so expiry guards are testable.
	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, pub fanout.Publisher, logger *slog.Logger, cfg config.Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		locker: locker,
		pub:    pub,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *Service) publish(topic, event string, payload map[string]any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(topic, event, payload)
}

// ---- Schedules ----

func (s *Service) CreateSchedule(ctx context.Context, doctorID uuid.UUID, date, startTime, endTime string) (*Schedule, error) {
	sched := &Schedule{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Date:      date,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    ScheduleUpcoming,
	}
	if err := s.repo.CreateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return sched, nil
}

func (s *Service) SchedulesByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Schedule, error) {
	return s.repo.ListSchedulesByDoctor(ctx, doctorID)
}

// OpenSchedules lists schedules from the given date onward, the patient's
// browsing view.
func (s *Service) OpenSchedules(ctx context.Context, fromDate string) ([]Schedule, error) {
	return s.repo.ListSchedulesFromDate(ctx, fromDate)
}

func (s *Service) ownedSchedule(ctx context.Context, doctorID, scheduleID uuid.UUID) (*Schedule, error) {
	sched, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.DoctorID != doctorID {
		return nil, ErrPermissionDenied
	}
	return sched, nil
}

// StartPractice moves a schedule UPCOMING -> ONLINE. Only the owning
// doctor may transition a schedule.
func (s *Service) StartPractice(ctx context.Context, doctorID, scheduleID uuid.UUID) (*Schedule, error) {
	sched, err := s.ownedSchedule(ctx, doctorID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status == ScheduleCompleted {
		return nil, ErrScheduleCompleted
	}
	if sched.Status == ScheduleOnline {
		// Retried command, nothing to do.
		return sched, nil
	}

	updated, err := s.repo.UpdateScheduleStatus(ctx, scheduleID, ScheduleUpcoming, ScheduleOnline)
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return s.repo.GetScheduleByID(ctx, scheduleID)
		}
		return nil, fmt.Errorf("start practice: %w", err)
	}

	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventScheduleStatusChanged, map[string]any{
		"scheduleId": scheduleID.String(),
		"status":     string(ScheduleOnline),
	})
	return updated, nil
}

// EndPractice moves a schedule to its terminal COMPLETED status and
// force-ends every non-terminal call session still attached to it.
func (s *Service) EndPractice(ctx context.Context, doctorID, scheduleID uuid.UUID) (*Schedule, error) {
	sched, err := s.ownedSchedule(ctx, doctorID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status == ScheduleCompleted {
		return sched, nil
	}

	updated, err := s.repo.UpdateScheduleStatus(ctx, scheduleID, sched.Status, ScheduleCompleted)
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return s.repo.GetScheduleByID(ctx, scheduleID)
		}
		return nil, fmt.Errorf("end practice: %w", err)
	}

	open, err := s.repo.ListNonTerminalSessionsBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	for _, sess := range open {
		ended, err := s.repo.UpdateSessionStatus(ctx, sess.ID, sess.Status, SessionEnded, s.now())
		if err != nil {
			// Lost the race against a concurrent transition; the sweep on
			// the next read settles it.
			s.logger.Warn("failed to force-end session on practice end",
				"session_id", sess.ID, "error", err)
			continue
		}
		if _, err := s.repo.SetQueueStatus(ctx, scheduleID, sess.PatientID, QueueDone, false); err != nil {
			s.logger.Warn("failed to mark queue entry done", "session_id", sess.ID, "error", err)
		}
		s.publish(fanout.CallTopic(ended.ID), fanout.EventCallEnded, map[string]any{
			"callSessionId": ended.ID.String(),
			"endedBy":       "schedule",
		})
	}

	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventScheduleStatusChanged, map[string]any{
		"scheduleId": scheduleID.String(),
		"status":     string(ScheduleCompleted),
	})
	return updated, nil
}

// ---- Queue ----

func (s *Service) Queue(ctx context.Context, doctorID, scheduleID uuid.UUID) ([]QueueEntry, error) {
	if _, err := s.ownedSchedule(ctx, doctorID, scheduleID); err != nil {
		return nil, err
	}
	return s.repo.ListQueue(ctx, scheduleID)
}

// ScheduleDetail is the patient's view of one schedule.
type ScheduleDetail struct {
	Schedule     Schedule
	QueueEntry   *QueueEntry
	TotalInQueue int
}

func (s *Service) ScheduleDetail(ctx context.Context, patientID, scheduleID uuid.UUID) (*ScheduleDetail, error) {
	sched, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	detail := &ScheduleDetail{Schedule: *sched}

	entry, err := s.repo.GetQueueEntry(ctx, scheduleID, patientID)
	if err != nil && !errors.Is(err, ErrQueueEntryNotFound) {
		return nil, err
	}
	detail.QueueEntry = entry

	detail.TotalInQueue, err = s.repo.CountQueue(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) JoinQueue(ctx context.Context, patientID, scheduleID uuid.UUID) (*QueueEntry, error) {
	sched, err := s.repo.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status == ScheduleCompleted {
		return nil, ErrScheduleCompleted
	}

	entry, err := s.repo.CreateQueueEntry(ctx, scheduleID, patientID, s.now())
	if err != nil {
		return nil, err
	}

	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": scheduleID.String(),
	})
	return entry, nil
}

// ToggleReady flips the patient between WAITING and READY. Entries that
// are IN_CALL or DONE cannot be toggled by the patient.
func (s *Service) ToggleReady(ctx context.Context, patientID, scheduleID uuid.UUID, ready bool) (*QueueEntry, error) {
	entry, err := s.repo.GetQueueEntry(ctx, scheduleID, patientID)
	if err != nil {
		return nil, err
	}
	switch entry.Status {
	case QueueDone:
		return nil, ErrConsultationDone
	case QueueInCall:
		return nil, ErrCurrentlyInCall
	}

	status := QueueWaiting
	if ready {
		status = QueueReady
	}
	updated, err := s.repo.SetQueueStatus(ctx, scheduleID, patientID, status, ready)
	if err != nil {
		return nil, err
	}

	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": scheduleID.String(),
	})
	return updated, nil
}

// RequeuePatient resets a finished or waiting patient back to READY so the
// doctor can call them (again).
func (s *Service) RequeuePatient(ctx context.Context, doctorID, scheduleID, patientID uuid.UUID) (*QueueEntry, error) {
	if _, err := s.ownedSchedule(ctx, doctorID, scheduleID); err != nil {
		return nil, err
	}
	entry, err := s.repo.GetQueueEntry(ctx, scheduleID, patientID)
	if err != nil {
		return nil, err
	}
	if entry.Status == QueueInCall {
		return nil, ErrCurrentlyInCall
	}

	updated, err := s.repo.SetQueueStatus(ctx, scheduleID, patientID, QueueReady, true)
	if err != nil {
		return nil, err
	}

	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": scheduleID.String(),
	})
	return updated, nil
}

// ---- Call session commands ----

// resolveExpiry applies the lazy expiry rule: any read or command against
// an INVITED session whose TTL has elapsed observes it as EXPIRED. Safe to
// race with confirm/decline because the transition is compare-and-set.
func (s *Service) resolveExpiry(ctx context.Context, sess *CallSession) *CallSession {
	if sess.Status != SessionInvited {
		return sess
	}
	if s.now().Sub(sess.CreatedAt) < s.cfg.InvitationTTL {
		return sess
	}

	expired, err := s.repo.UpdateSessionStatus(ctx, sess.ID, SessionInvited, SessionExpired, s.now())
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			if current, rerr := s.repo.GetCallSessionByID(ctx, sess.ID); rerr == nil {
				return current
			}
		}
		s.logger.Warn("failed to expire invitation", "session_id", sess.ID, "error", err)
		return sess
	}

	if _, err := s.repo.SetQueueStatus(ctx, sess.ScheduleID, sess.PatientID, QueueWaiting, false); err != nil {
		s.logger.Warn("failed to reset queue entry after expiry", "session_id", sess.ID, "error", err)
	}
	s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": sess.ScheduleID.String(),
	})

	s.logger.Info("invitation expired", "session_id", sess.ID, "patient_id", sess.PatientID)
	return expired
}

// Invite creates an INVITED call session for a READY patient on an ONLINE
// schedule. The (schedule, patient) pair lock plus the store's partial
// unique index guarantee at most one non-terminal session per pair even
// under concurrent invites.
func (s *Service) Invite(ctx context.Context, doctorID, scheduleID, patientID uuid.UUID) (*CallSession, error) {
	sched, err := s.ownedSchedule(ctx, doctorID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status != ScheduleOnline {
		return nil, ErrScheduleNotOnline
	}

	// Settle overdue invitations before gating on open sessions, so an
	// abandoned invite does not block the schedule forever.
	open, err := s.repo.ListNonTerminalSessionsBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	stillOpen := open[:0]
	for i := range open {
		if resolved := s.resolveExpiry(ctx, &open[i]); !resolved.Status.Terminal() {
			stillOpen = append(stillOpen, *resolved)
		}
	}
	for _, sess := range stillOpen {
		if sess.PatientID == patientID {
			return nil, ErrDuplicateSession
		}
	}
	if len(stillOpen) > 0 {
		// A single doctor runs one consultation at a time.
		return nil, ErrConsultationInProgress
	}

	entry, err := s.repo.GetQueueEntry(ctx, scheduleID, patientID)
	if err != nil {
		return nil, err
	}
	if entry.Status != QueueReady {
		return nil, ErrPatientNotReady
	}

	var created *CallSession

	err = s.locker.WithPairLock(ctx, scheduleID, patientID, func(lockCtx context.Context) error {
		// Re-check inside the critical section.
		existing, err := s.repo.GetNonTerminalSession(lockCtx, scheduleID, patientID)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("check open session: %w", err)
		}
		if existing != nil {
			return ErrDuplicateSession
		}

		sess := &CallSession{
			ID:         uuid.New(),
			ScheduleID: scheduleID,
			DoctorID:   doctorID,
			PatientID:  patientID,
			Status:     SessionInvited,
			CreatedAt:  s.now(),
		}
		if err := s.repo.CreateCallSession(lockCtx, sess); err != nil {
			return fmt.Errorf("create call session: %w", err)
		}
		created = sess
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrInviteInFlight
		}
		return nil, err
	}

	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventCallInvitation, map[string]any{
		"callSessionId": created.ID.String(),
		"scheduleId":    scheduleID.String(),
		"doctorId":      doctorID.String(),
		"patientId":     patientID.String(),
	})
	s.publish(fanout.ScheduleTopic(scheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": scheduleID.String(),
	})

	s.logger.Info("invitation sent",
		"session_id", created.ID, "schedule_id", scheduleID, "patient_id", patientID)
	return created, nil
}

// Confirm moves INVITED -> CONFIRMED and the queue entry to IN_CALL.
// Confirming a session no longer INVITED is a no-op returning current
// state; confirming past the TTL observes EXPIRED.
func (s *Service) Confirm(ctx context.Context, patientID, sessionID uuid.UUID) (*CallSession, error) {
	sess, err := s.repo.GetCallSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PatientID != patientID {
		return nil, ErrPermissionDenied
	}

	sess = s.resolveExpiry(ctx, sess)
	if sess.Status != SessionInvited {
		return sess, nil
	}

	updated, err := s.repo.UpdateSessionStatus(ctx, sessionID, SessionInvited, SessionConfirmed, s.now())
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return s.repo.GetCallSessionByID(ctx, sessionID)
		}
		return nil, fmt.Errorf("confirm session: %w", err)
	}

	if _, err := s.repo.SetQueueStatus(ctx, sess.ScheduleID, patientID, QueueInCall, true); err != nil {
		s.logger.Warn("failed to mark queue entry in-call", "session_id", sessionID, "error", err)
	}

	s.publish(fanout.CallTopic(sessionID), fanout.EventCallConfirmed, map[string]any{
		"callSessionId": sessionID.String(),
		"patientId":     patientID.String(),
	})
	s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventCallConfirmed, map[string]any{
		"callSessionId": sessionID.String(),
		"scheduleId":    sess.ScheduleID.String(),
		"patientId":     patientID.String(),
	})
	s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": sess.ScheduleID.String(),
	})

	s.logger.Info("invitation confirmed", "session_id", sessionID, "patient_id", patientID)
	return updated, nil
}

// Decline moves INVITED -> DECLINED and resets the queue entry to WAITING.
func (s *Service) Decline(ctx context.Context, patientID, sessionID uuid.UUID) (*CallSession, error) {
	sess, err := s.repo.GetCallSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PatientID != patientID {
		return nil, ErrPermissionDenied
	}

	sess = s.resolveExpiry(ctx, sess)
	if sess.Status != SessionInvited {
		return sess, nil
	}

	updated, err := s.repo.UpdateSessionStatus(ctx, sessionID, SessionInvited, SessionDeclined, s.now())
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return s.repo.GetCallSessionByID(ctx, sessionID)
		}
		return nil, fmt.Errorf("decline session: %w", err)
	}

	if _, err := s.repo.SetQueueStatus(ctx, sess.ScheduleID, patientID, QueueWaiting, false); err != nil {
		s.logger.Warn("failed to reset queue entry after decline", "session_id", sessionID, "error", err)
	}

	s.publish(fanout.CallTopic(sessionID), fanout.EventCallDeclined, map[string]any{
		"callSessionId": sessionID.String(),
		"patientId":     patientID.String(),
	})
	s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventCallDeclined, map[string]any{
		"callSessionId": sessionID.String(),
		"scheduleId":    sess.ScheduleID.String(),
		"patientId":     patientID.String(),
	})
	s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": sess.ScheduleID.String(),
	})

	s.logger.Info("invitation declined", "session_id", sessionID, "patient_id", patientID)
	return updated, nil
}

// SetPeerAddress records the caller's own transport address on a
// CONFIRMED or ACTIVE session. Overwrite is allowed: reconnection opens a
// fresh transport and re-announces.
func (s *Service) SetPeerAddress(ctx context.Context, actorID, sessionID uuid.UUID, address string) (*CallSession, error) {
	sess, err := s.repo.GetCallSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Participant(actorID) {
		return nil, ErrPermissionDenied
	}

	sess = s.resolveExpiry(ctx, sess)
	if sess.Status != SessionConfirmed && sess.Status != SessionActive {
		return sess, nil
	}

	role := RolePatient
	if actorID == sess.DoctorID {
		role = RoleDoctor
	}

	updated, err := s.repo.SetPeerAddress(ctx, sessionID, role, address)
	if err != nil {
		return nil, fmt.Errorf("set peer address: %w", err)
	}

	s.publish(fanout.CallTopic(sessionID), fanout.EventPeerAddressUpdated, map[string]any{
		"callSessionId": sessionID.String(),
		"role":          string(role),
		"address":       address,
	})
	return updated, nil
}

// Activate moves CONFIRMED -> ACTIVE once both peer addresses are set.
// Calling it earlier, or again once ACTIVE, is a no-op returning current
// state.
func (s *Service) Activate(ctx context.Context, actorID, sessionID uuid.UUID) (*CallSession, error) {
	sess, err := s.repo.GetCallSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Participant(actorID) {
		return nil, ErrPermissionDenied
	}

	sess = s.resolveExpiry(ctx, sess)
	if sess.Status != SessionConfirmed {
		return sess, nil
	}
	if sess.DoctorPeerAddress == nil || sess.PatientPeerAddress == nil {
		return sess, nil
	}

	updated, err := s.repo.UpdateSessionStatus(ctx, sessionID, SessionConfirmed, SessionActive, s.now())
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return s.repo.GetCallSessionByID(ctx, sessionID)
		}
		return nil, fmt.Errorf("activate session: %w", err)
	}

	s.publish(fanout.CallTopic(sessionID), fanout.EventCallActivated, map[string]any{
		"callSessionId": sessionID.String(),
	})

	s.logger.Info("call active", "session_id", sessionID)
	return updated, nil
}

// End moves a CONFIRMED or ACTIVE session to ENDED and the queue entry to
// DONE. Either party may end; ending an already-terminal session is a
// no-op returning current state.
func (s *Service) End(ctx context.Context, actorID, sessionID uuid.UUID) (*CallSession, error) {
	sess, err := s.repo.GetCallSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Participant(actorID) {
		return nil, ErrPermissionDenied
	}

	sess = s.resolveExpiry(ctx, sess)
	if sess.Status != SessionConfirmed && sess.Status != SessionActive {
		return sess, nil
	}

	updated, err := s.repo.UpdateSessionStatus(ctx, sessionID, sess.Status, SessionEnded, s.now())
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			// Concurrent activate or end; re-read and retry once from the
			// fresh status if the session is still open.
			current, rerr := s.repo.GetCallSessionByID(ctx, sessionID)
			if rerr != nil {
				return nil, rerr
			}
			if current.Status != SessionConfirmed && current.Status != SessionActive {
				return current, nil
			}
			updated, err = s.repo.UpdateSessionStatus(ctx, sessionID, current.Status, SessionEnded, s.now())
			if err != nil {
				return s.repo.GetCallSessionByID(ctx, sessionID)
			}
		} else {
			return nil, fmt.Errorf("end session: %w", err)
		}
	}

	if _, err := s.repo.SetQueueStatus(ctx, sess.ScheduleID, sess.PatientID, QueueDone, false); err != nil {
		s.logger.Warn("failed to mark queue entry done", "session_id", sessionID, "error", err)
	}

	endedBy := "patient"
	if actorID == sess.DoctorID {
		endedBy = "doctor"
	}
	s.publish(fanout.CallTopic(sessionID), fanout.EventCallEnded, map[string]any{
		"callSessionId": sessionID.String(),
		"endedBy":       endedBy,
	})
	s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventQueueUpdated, map[string]any{
		"scheduleId": sess.ScheduleID.String(),
	})

	s.logger.Info("call ended", "session_id", sessionID, "ended_by", endedBy)
	return updated, nil
}

// ---- Reads ----

// GetCallSession returns the authoritative snapshot for a participant,
// applying lazy expiry first. This backs both push-triggered refreshes
// and reconciler polls.
func (s *Service) GetCallSession(ctx context.Context, actorID, sessionID uuid.UUID) (*CallSession, error) {
	sess, err := s.repo.GetCallSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Participant(actorID) {
		return nil, ErrPermissionDenied
	}
	return s.resolveExpiry(ctx, sess), nil
}

// PendingInvitation is the patient-side reconciler read.
func (s *Service) PendingInvitation(ctx context.Context, patientID uuid.UUID) (*PendingInvitation, error) {
	sess, err := s.repo.GetInvitedSessionForPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return &PendingInvitation{}, nil
		}
		return nil, err
	}

	sess = s.resolveExpiry(ctx, sess)
	if sess.Status != SessionInvited {
		return &PendingInvitation{}, nil
	}

	return &PendingInvitation{
		HasInvitation: true,
		CallSessionID: sess.ID,
		ScheduleID:    sess.ScheduleID,
		DoctorID:      sess.DoctorID,
	}, nil
}

// ---- Worker ----

// ExpireStaleInvitations is the authoritative expiry sweep, run
// periodically by the worker. Lazy expiry on reads makes it a latency
// improvement, not a correctness requirement.
func (s *Service) ExpireStaleInvitations(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.InvitationTTL)
	stale, err := s.repo.FindExpiredInvited(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find expired invitations: %w", err)
	}

	for _, sess := range stale {
		if _, err := s.repo.UpdateSessionStatus(ctx, sess.ID, SessionInvited, SessionExpired, s.now()); err != nil {
			if !errors.Is(err, ErrStaleTransition) {
				s.logger.Warn("failed to expire invitation", "session_id", sess.ID, "error", err)
			}
			continue
		}
		if _, err := s.repo.SetQueueStatus(ctx, sess.ScheduleID, sess.PatientID, QueueWaiting, false); err != nil {
			s.logger.Warn("failed to reset queue entry after expiry", "session_id", sess.ID, "error", err)
		}
		s.publish(fanout.ScheduleTopic(sess.ScheduleID), fanout.EventQueueUpdated, map[string]any{
			"scheduleId": sess.ScheduleID.String(),
		})
		s.logger.Info("invitation expired by sweep", "session_id", sess.ID)
	}

	return nil
}
