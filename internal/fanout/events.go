package fanout

import "github.com/google/uuid"

// Event names pushed to topic subscribers. Payloads always carry enough
// identifiers for a recipient to decide relevance; a full re-fetch must
// remain a correct fallback.
const (
	EventScheduleStatusChanged = "scheduleStatusChanged"
	EventQueueUpdated          = "queueUpdated"
	EventCallInvitation        = "callInvitation"
	EventCallConfirmed         = "callConfirmed"
	EventCallDeclined          = "callDeclined"
	EventCallActivated         = "callActivated"
	EventCallEnded             = "callEnded"
	EventPeerAddressUpdated    = "peerAddressUpdated"
)

func ScheduleTopic(scheduleID uuid.UUID) string {
	return "schedule:" + scheduleID.String()
}

func CallTopic(sessionID uuid.UUID) string {
	return "call:" + sessionID.String()
}

// Message is one pushed notification. Delivery is best-effort and
// unordered relative to reconciler polls; treat it as a hint to re-fetch
// or apply, never as the sole source of truth.
type Message struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publisher is the write side of the hub. The consultation service works
// with a nil Publisher: push is an optimization, polling is the backstop.
type Publisher interface {
	Publish(topic, event string, payload map[string]any)
}
