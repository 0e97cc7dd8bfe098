// Package client is the Go client for the teleconsult HTTP API. It backs
// the simulator and is the SessionReader/SessionCommands implementation
// the reconciler and peer orchestrator run against.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
)

// APIError carries the structured error body returned by the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client bound to one actor's bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			apiErr.Code = errBody.Error
			apiErr.Message = errBody.Details
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ---- wire DTOs ----

type scheduleDTO struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Status    string    `json:"status"`
}

func (d scheduleDTO) domain() consult.Schedule {
	return consult.Schedule{
		ID:        d.ID,
		DoctorID:  d.DoctorID,
		Date:      d.Date,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
		Status:    consult.ScheduleStatus(d.Status),
	}
}

type queueEntryDTO struct {
	ID          uuid.UUID `json:"id"`
	ScheduleID  uuid.UUID `json:"scheduleId"`
	PatientID   uuid.UUID `json:"patientId"`
	QueueNumber int       `json:"queueNumber"`
	Status      string    `json:"status"`
	IsReady     bool      `json:"isReady"`
}

func (d queueEntryDTO) domain() consult.QueueEntry {
	return consult.QueueEntry{
		ID:          d.ID,
		ScheduleID:  d.ScheduleID,
		PatientID:   d.PatientID,
		QueueNumber: d.QueueNumber,
		Status:      consult.QueueStatus(d.Status),
		IsReady:     d.IsReady,
	}
}

type callSessionDTO struct {
	ID                 uuid.UUID  `json:"id"`
	ScheduleID         uuid.UUID  `json:"scheduleId"`
	DoctorID           uuid.UUID  `json:"doctorId"`
	PatientID          uuid.UUID  `json:"patientId"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	ConfirmedAt        *time.Time `json:"confirmedAt"`
	EndedAt            *time.Time `json:"endedAt"`
	DoctorPeerAddress  *string    `json:"doctorPeerAddress"`
	PatientPeerAddress *string    `json:"patientPeerAddress"`
}

func (d callSessionDTO) domain() *consult.CallSession {
	return &consult.CallSession{
		ID:                 d.ID,
		ScheduleID:         d.ScheduleID,
		DoctorID:           d.DoctorID,
		PatientID:          d.PatientID,
		Status:             consult.SessionStatus(d.Status),
		CreatedAt:          d.CreatedAt,
		ConfirmedAt:        d.ConfirmedAt,
		EndedAt:            d.EndedAt,
		DoctorPeerAddress:  d.DoctorPeerAddress,
		PatientPeerAddress: d.PatientPeerAddress,
	}
}

// ---- doctor surface ----

func (c *Client) Schedules(ctx context.Context) ([]consult.Schedule, error) {
	var dtos []scheduleDTO
	if err := c.do(ctx, http.MethodGet, "/api/doctor/schedules", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]consult.Schedule, len(dtos))
	for i, d := range dtos {
		out[i] = d.domain()
	}
	return out, nil
}

func (c *Client) CreateSchedule(ctx context.Context, date, startTime, endTime string) (*consult.Schedule, error) {
	body := map[string]string{"date": date, "startTime": startTime, "endTime": endTime}
	var dto scheduleDTO
	if err := c.do(ctx, http.MethodPost, "/api/doctor/schedules", body, &dto); err != nil {
		return nil, err
	}
	sched := dto.domain()
	return &sched, nil
}

func (c *Client) StartPractice(ctx context.Context, scheduleID uuid.UUID) (*consult.Schedule, error) {
	var dto scheduleDTO
	if err := c.do(ctx, http.MethodPost, "/api/doctor/schedules/"+scheduleID.String()+"/start", nil, &dto); err != nil {
		return nil, err
	}
	sched := dto.domain()
	return &sched, nil
}

func (c *Client) EndPractice(ctx context.Context, scheduleID uuid.UUID) (*consult.Schedule, error) {
	var dto scheduleDTO
	if err := c.do(ctx, http.MethodPost, "/api/doctor/schedules/"+scheduleID.String()+"/end", nil, &dto); err != nil {
		return nil, err
	}
	sched := dto.domain()
	return &sched, nil
}

func (c *Client) Queue(ctx context.Context, scheduleID uuid.UUID) ([]consult.QueueEntry, error) {
	var dtos []queueEntryDTO
	if err := c.do(ctx, http.MethodGet, "/api/doctor/schedules/"+scheduleID.String()+"/queue", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]consult.QueueEntry, len(dtos))
	for i, d := range dtos {
		out[i] = d.domain()
	}
	return out, nil
}

func (c *Client) Invite(ctx context.Context, scheduleID, patientID uuid.UUID) (*consult.CallSession, error) {
	body := map[string]string{"patientId": patientID.String()}
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodPost, "/api/doctor/schedules/"+scheduleID.String()+"/invite", body, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}

func (c *Client) Requeue(ctx context.Context, scheduleID, patientID uuid.UUID) (*consult.QueueEntry, error) {
	path := "/api/doctor/schedules/" + scheduleID.String() + "/queue/" + patientID.String() + "/requeue"
	var dto queueEntryDTO
	if err := c.do(ctx, http.MethodPost, path, nil, &dto); err != nil {
		return nil, err
	}
	entry := dto.domain()
	return &entry, nil
}

// ---- patient surface ----

func (c *Client) OpenSchedules(ctx context.Context) ([]consult.Schedule, error) {
	var dtos []scheduleDTO
	if err := c.do(ctx, http.MethodGet, "/api/patient/schedules", nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]consult.Schedule, len(dtos))
	for i, d := range dtos {
		out[i] = d.domain()
	}
	return out, nil
}

// ScheduleDetail is the patient's view of one schedule, including their
// own queue entry when present.
type ScheduleDetail struct {
	Schedule     consult.Schedule
	QueueEntry   *consult.QueueEntry
	TotalInQueue int
}

func (c *Client) ScheduleDetail(ctx context.Context, scheduleID uuid.UUID) (*ScheduleDetail, error) {
	var dto struct {
		Schedule     scheduleDTO    `json:"schedule"`
		QueueEntry   *queueEntryDTO `json:"queueEntry"`
		TotalInQueue int            `json:"totalInQueue"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/patient/schedules/"+scheduleID.String(), nil, &dto); err != nil {
		return nil, err
	}

	detail := &ScheduleDetail{
		Schedule:     dto.Schedule.domain(),
		TotalInQueue: dto.TotalInQueue,
	}
	if dto.QueueEntry != nil {
		entry := dto.QueueEntry.domain()
		detail.QueueEntry = &entry
	}
	return detail, nil
}

func (c *Client) JoinQueue(ctx context.Context, scheduleID uuid.UUID) (*consult.QueueEntry, error) {
	var dto queueEntryDTO
	if err := c.do(ctx, http.MethodPost, "/api/patient/schedules/"+scheduleID.String()+"/queue", nil, &dto); err != nil {
		return nil, err
	}
	entry := dto.domain()
	return &entry, nil
}

func (c *Client) ToggleReady(ctx context.Context, scheduleID uuid.UUID, ready bool) (*consult.QueueEntry, error) {
	body := map[string]bool{"isReady": ready}
	var dto queueEntryDTO
	if err := c.do(ctx, http.MethodPost, "/api/patient/schedules/"+scheduleID.String()+"/ready", body, &dto); err != nil {
		return nil, err
	}
	entry := dto.domain()
	return &entry, nil
}

// PendingInvitation is the patient-side reconciler read.
func (c *Client) PendingInvitation(ctx context.Context) (*consult.PendingInvitation, error) {
	var dto struct {
		HasInvitation bool   `json:"hasInvitation"`
		CallSessionID string `json:"callSessionId"`
		ScheduleID    string `json:"scheduleId"`
		DoctorID      string `json:"doctorId"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/patient/invitation", nil, &dto); err != nil {
		return nil, err
	}

	inv := &consult.PendingInvitation{HasInvitation: dto.HasInvitation}
	if !dto.HasInvitation {
		return inv, nil
	}

	var err error
	if inv.CallSessionID, err = uuid.Parse(dto.CallSessionID); err != nil {
		return nil, fmt.Errorf("parse callSessionId: %w", err)
	}
	if inv.ScheduleID, err = uuid.Parse(dto.ScheduleID); err != nil {
		return nil, fmt.Errorf("parse scheduleId: %w", err)
	}
	if inv.DoctorID, err = uuid.Parse(dto.DoctorID); err != nil {
		return nil, fmt.Errorf("parse doctorId: %w", err)
	}
	return inv, nil
}

// ---- call-session surface ----

func (c *Client) CallSession(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodGet, "/api/call-sessions/"+sessionID.String(), nil, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}

func (c *Client) Confirm(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodPost, "/api/call-sessions/"+sessionID.String()+"/confirm", nil, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}

func (c *Client) Decline(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodPost, "/api/call-sessions/"+sessionID.String()+"/decline", nil, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}

func (c *Client) SetPeerAddress(ctx context.Context, sessionID uuid.UUID, address string) (*consult.CallSession, error) {
	body := map[string]string{"address": address}
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodPost, "/api/call-sessions/"+sessionID.String()+"/peer-address", body, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}

func (c *Client) Activate(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodPost, "/api/call-sessions/"+sessionID.String()+"/activate", nil, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}

func (c *Client) End(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	var dto callSessionDTO
	if err := c.do(ctx, http.MethodPost, "/api/call-sessions/"+sessionID.String()+"/end", nil, &dto); err != nil {
		return nil, err
	}
	return dto.domain(), nil
}
