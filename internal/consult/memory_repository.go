package consult

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory store with the same
// compare-and-set semantics as the Postgres repository. It backs tests and
// single-process setups; it is not a cache in front of Postgres.
type MemoryRepository struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*Schedule
	queue     map[uuid.UUID]*QueueEntry // keyed by entry id
	sessions  map[uuid.UUID]*CallSession
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		schedules: make(map[uuid.UUID]*Schedule),
		queue:     make(map[uuid.UUID]*QueueEntry),
		sessions:  make(map[uuid.UUID]*CallSession),
	}
}

func copySchedule(s *Schedule) *Schedule {
	c := *s
	return &c
}

func copyEntry(e *QueueEntry) *QueueEntry {
	c := *e
	return &c
}

func copySession(s *CallSession) *CallSession {
	c := *s
	if s.ConfirmedAt != nil {
		t := *s.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.DoctorPeerAddress != nil {
		a := *s.DoctorPeerAddress
		c.DoctorPeerAddress = &a
	}
	if s.PatientPeerAddress != nil {
		a := *s.PatientPeerAddress
		c.PatientPeerAddress = &a
	}
	return &c
}

// Schedules

func (r *MemoryRepository) CreateSchedule(_ context.Context, s *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := copySchedule(s)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.schedules[s.ID] = stored
	return nil
}

func (r *MemoryRepository) GetScheduleByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return copySchedule(s), nil
}

func (r *MemoryRepository) ListSchedulesByDoctor(_ context.Context, doctorID uuid.UUID) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Schedule
	for _, s := range r.schedules {
		if s.DoctorID == doctorID {
			result = append(result, *copySchedule(s))
		}
	}
	sortSchedules(result)
	return result, nil
}

func (r *MemoryRepository) ListSchedulesFromDate(_ context.Context, date string) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Schedule
	for _, s := range r.schedules {
		if s.Date >= date {
			result = append(result, *copySchedule(s))
		}
	}
	sortSchedules(result)
	return result, nil
}

func sortSchedules(list []Schedule) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return list[i].StartTime < list[j].StartTime
	})
}

func (r *MemoryRepository) UpdateScheduleStatus(_ context.Context, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	if s.Status != from {
		return nil, ErrStaleTransition
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return copySchedule(s), nil
}

// Queue entries

func (r *MemoryRepository) CreateQueueEntry(_ context.Context, scheduleID, patientID uuid.UUID, joinedAt time.Time) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := 1
	for _, e := range r.queue {
		if e.ScheduleID != scheduleID {
			continue
		}
		if e.PatientID == patientID {
			return nil, ErrAlreadyQueued
		}
		if e.QueueNumber >= next {
			next = e.QueueNumber + 1
		}
	}

	entry := &QueueEntry{
		ID:          uuid.New(),
		ScheduleID:  scheduleID,
		PatientID:   patientID,
		QueueNumber: next,
		Status:      QueueWaiting,
		IsReady:     false,
		JoinedAt:    joinedAt,
		UpdatedAt:   joinedAt,
	}
	r.queue[entry.ID] = entry
	return copyEntry(entry), nil
}

func (r *MemoryRepository) GetQueueEntry(_ context.Context, scheduleID, patientID uuid.UUID) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.findEntry(scheduleID, patientID)
	if e == nil {
		return nil, ErrQueueEntryNotFound
	}
	return copyEntry(e), nil
}

func (r *MemoryRepository) findEntry(scheduleID, patientID uuid.UUID) *QueueEntry {
	for _, e := range r.queue {
		if e.ScheduleID == scheduleID && e.PatientID == patientID {
			return e
		}
	}
	return nil
}

func (r *MemoryRepository) ListQueue(_ context.Context, scheduleID uuid.UUID) ([]QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []QueueEntry
	for _, e := range r.queue {
		if e.ScheduleID == scheduleID {
			result = append(result, *copyEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].QueueNumber < result[j].QueueNumber })
	return result, nil
}

func (r *MemoryRepository) CountQueue(_ context.Context, scheduleID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.queue {
		if e.ScheduleID == scheduleID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) SetQueueStatus(_ context.Context, scheduleID, patientID uuid.UUID, status QueueStatus, isReady bool) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.findEntry(scheduleID, patientID)
	if e == nil {
		return nil, ErrQueueEntryNotFound
	}
	e.Status = status
	e.IsReady = isReady
	e.UpdatedAt = time.Now()
	return copyEntry(e), nil
}

// Call sessions

func (r *MemoryRepository) CreateCallSession(_ context.Context, s *CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.ScheduleID == s.ScheduleID &&
			existing.PatientID == s.PatientID &&
			!existing.Status.Terminal() {
			return ErrDuplicateSession
		}
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *MemoryRepository) GetCallSessionByID(_ context.Context, id uuid.UUID) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (r *MemoryRepository) GetNonTerminalSession(_ context.Context, scheduleID, patientID uuid.UUID) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.ScheduleID == scheduleID && s.PatientID == patientID && !s.Status.Terminal() {
			return copySession(s), nil
		}
	}
	return nil, ErrSessionNotFound
}

func (r *MemoryRepository) GetInvitedSessionForPatient(_ context.Context, patientID uuid.UUID) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *CallSession
	for _, s := range r.sessions {
		if s.PatientID != patientID || s.Status != SessionInvited {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrSessionNotFound
	}
	return copySession(latest), nil
}

func (r *MemoryRepository) ListNonTerminalSessionsBySchedule(_ context.Context, scheduleID uuid.UUID) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []CallSession
	for _, s := range r.sessions {
		if s.ScheduleID == scheduleID && !s.Status.Terminal() {
			result = append(result, *copySession(s))
		}
	}
	return result, nil
}

func (r *MemoryRepository) UpdateSessionStatus(_ context.Context, id uuid.UUID, from, to SessionStatus, at time.Time) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Status != from {
		return nil, ErrStaleTransition
	}
	s.Status = to
	if to == SessionConfirmed {
		t := at
		s.ConfirmedAt = &t
	}
	if to.Terminal() {
		t := at
		s.EndedAt = &t
	}
	return copySession(s), nil
}

func (r *MemoryRepository) SetPeerAddress(_ context.Context, id uuid.UUID, role Role, address string) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if role == RoleDoctor {
		s.DoctorPeerAddress = &address
	} else {
		s.PatientPeerAddress = &address
	}
	return copySession(s), nil
}

func (r *MemoryRepository) FindExpiredInvited(_ context.Context, cutoff time.Time) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []CallSession
	for _, s := range r.sessions {
		if s.Status == SessionInvited && s.CreatedAt.Before(cutoff) {
			result = append(result, *copySession(s))
		}
	}
	return result, nil
}
