package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Capture events, published by the capture service
	EventEvidenceCommitted = "capture.evidence.committed"
	EventPhotoReviewed     = "capture.photo.reviewed"

	// Procedure events, consumed by the capture service
	EventProcedureStepCancelled = "procedure.step.cancelled"
)

// Exchange names
const (
	ExchangeCaptureEvents   = "capture.events"
	ExchangeProcedureEvents = "procedure.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EvidenceCommittedEvent is published when a capture session is committed
type EvidenceCommittedEvent struct {
	EvidenceID  string    `json:"evidence_id"`
	TenantID    string    `json:"tenant_id"`
	SlotID      string    `json:"slot_id"`
	SessionID   string    `json:"session_id"`
	CommittedBy string    `json:"committed_by"`
	CommittedAt time.Time `json:"committed_at"`
	PhotoCount  int       `json:"photo_count"`
	Pending     int       `json:"pending"`
	Approved    int       `json:"approved"`
	Rejected    int       `json:"rejected"`
}

// PhotoReviewedEvent is published when a reviewer changes a photo's verification
type PhotoReviewedEvent struct {
	TenantID   string  `json:"tenant_id"`
	SlotID     string  `json:"slot_id"`
	SessionID  string  `json:"session_id"`
	PhotoID    string  `json:"photo_id"`
	Status     string  `json:"status"`
	Notes      *string `json:"notes,omitempty"`
	ReviewerID string  `json:"reviewer_id"`
}

// ProcedureStepCancelledEvent is consumed to discard capture sessions of a
// step that will no longer be completed
type ProcedureStepCancelledEvent struct {
	TenantID string `json:"tenant_id"`
	SlotID   string `json:"slot_id"`
	Reason   string `json:"reason,omitempty"`
}
