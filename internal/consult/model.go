package consult

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

type ScheduleStatus string

const (
	ScheduleUpcoming  ScheduleStatus = "UPCOMING"
	ScheduleOnline    ScheduleStatus = "ONLINE"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
)

type QueueStatus string

const (
	QueueWaiting QueueStatus = "WAITING"
	QueueReady   QueueStatus = "READY"
	QueueInCall  QueueStatus = "IN_CALL"
	QueueDone    QueueStatus = "DONE"
)

type SessionStatus string

const (
	SessionInvited   SessionStatus = "INVITED"
	SessionConfirmed SessionStatus = "CONFIRMED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionEnded     SessionStatus = "ENDED"
	SessionDeclined  SessionStatus = "DECLINED"
	SessionExpired   SessionStatus = "EXPIRED"
)

// Terminal reports whether the session status can never change again.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionEnded, SessionDeclined, SessionExpired:
		return true
	}
	return false
}

// Schedule is a doctor-owned online-availability window. Only its owning
// doctor transitions it; COMPLETED is terminal.
type Schedule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      string // YYYY-MM-DD
	StartTime string // HH:MM
	EndTime   string // HH:MM
	Status    ScheduleStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueEntry is one patient's position against one schedule. Queue numbers
// are assigned at creation, strictly increasing per schedule, never reused.
type QueueEntry struct {
	ID          uuid.UUID
	ScheduleID  uuid.UUID
	PatientID   uuid.UUID
	QueueNumber int
	Status      QueueStatus
	IsReady     bool
	JoinedAt    time.Time
	UpdatedAt   time.Time
}

// CallSession is the authoritative record of one invitation-to-call attempt.
// It is created INVITED, becomes terminal exactly once and is never
// resurrected; a retry means a new session.
type CallSession struct {
	ID          uuid.UUID
	ScheduleID  uuid.UUID
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	Status      SessionStatus
	CreatedAt   time.Time
	ConfirmedAt *time.Time
	EndedAt     *time.Time

	// Peer addresses are opaque handles published by the peer transport;
	// each party writes only its own field, overwrite allowed on reconnect.
	DoctorPeerAddress  *string
	PatientPeerAddress *string
}

// Participant reports whether actorID is a party to the session.
func (c *CallSession) Participant(actorID uuid.UUID) bool {
	return actorID == c.DoctorID || actorID == c.PatientID
}

// PeerAddress returns the address announced by the given role, if any.
func (c *CallSession) PeerAddress(role Role) *string {
	if role == RoleDoctor {
		return c.DoctorPeerAddress
	}
	return c.PatientPeerAddress
}

// PendingInvitation is the patient-side reconciler read: "do I have an
// outstanding INVITED session".
type PendingInvitation struct {
	HasInvitation bool
	CallSessionID uuid.UUID
	ScheduleID    uuid.UUID
	DoctorID      uuid.UUID
}
