package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
)

type CreateScheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type InviteRequest struct {
	PatientID string `json:"patientId"`
}

type ToggleReadyRequest struct {
	IsReady bool `json:"isReady"`
}

type SetPeerAddressRequest struct {
	Address string `json:"address"`
}

type ScheduleResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Status    string    `json:"status"`
}

type QueueEntryResponse struct {
	ID          uuid.UUID `json:"id"`
	ScheduleID  uuid.UUID `json:"scheduleId"`
	PatientID   uuid.UUID `json:"patientId"`
	QueueNumber int       `json:"queueNumber"`
	Status      string    `json:"status"`
	IsReady     bool      `json:"isReady"`
}

type CallSessionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ScheduleID         uuid.UUID  `json:"scheduleId"`
	DoctorID           uuid.UUID  `json:"doctorId"`
	PatientID          uuid.UUID  `json:"patientId"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	ConfirmedAt        *time.Time `json:"confirmedAt,omitempty"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
	DoctorPeerAddress  *string    `json:"doctorPeerAddress,omitempty"`
	PatientPeerAddress *string    `json:"patientPeerAddress,omitempty"`
}

type ScheduleDetailResponse struct {
	Schedule     ScheduleResponse    `json:"schedule"`
	QueueEntry   *QueueEntryResponse `json:"queueEntry,omitempty"`
	TotalInQueue int                 `json:"totalInQueue"`
}

type PendingInvitationResponse struct {
	HasInvitation bool   `json:"hasInvitation"`
	CallSessionID string `json:"callSessionId,omitempty"`
	ScheduleID    string `json:"scheduleId,omitempty"`
	DoctorID      string `json:"doctorId,omitempty"`
}

func toScheduleResponse(s *consult.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      s.Date,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
	}
}

func toQueueEntryResponse(e *consult.QueueEntry) QueueEntryResponse {
	return QueueEntryResponse{
		ID:          e.ID,
		ScheduleID:  e.ScheduleID,
		PatientID:   e.PatientID,
		QueueNumber: e.QueueNumber,
		Status:      string(e.Status),
		IsReady:     e.IsReady,
	}
}

func toCallSessionResponse(c *consult.CallSession) CallSessionResponse {
	return CallSessionResponse{
		ID:                 c.ID,
		ScheduleID:         c.ScheduleID,
		DoctorID:           c.DoctorID,
		PatientID:          c.PatientID,
		Status:             string(c.Status),
		CreatedAt:          c.CreatedAt,
		ConfirmedAt:        c.ConfirmedAt,
		EndedAt:            c.EndedAt,
		DoctorPeerAddress:  c.DoctorPeerAddress,
		PatientPeerAddress: c.PatientPeerAddress,
	}
}
