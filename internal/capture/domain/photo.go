// Package domain holds the capture model shared by the store, the annotation
// engine, the verification workflow and persistence.
package domain

import (
	"time"
)

// Capture is one still image produced by an image source, before it is
// given identity by a photo store.
type Capture struct {
	Payload    []byte
	Encoding   string
	SourceName string
	SizeBytes  int64
	Width      int
	Height     int
}

// Photo is one captured still image and the review work done on it.
// ID, Payload, Encoding, Width, Height, SourceName, SizeBytes and CapturedAt
// never change after insertion into a store.
type Photo struct {
	ID           string       `json:"id"`
	Payload      []byte       `json:"-"`
	Encoding     string       `json:"encoding"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	SourceName   string       `json:"source_name"`
	SizeBytes    int64        `json:"size_bytes"`
	CapturedAt   time.Time    `json:"captured_at"`
	Annotations  []Annotation `json:"annotations"`
	Verification Verification `json:"verification"`
}

// Clone returns a deep copy that shares no memory with p.
func (p Photo) Clone() Photo {
	out := p
	if p.Payload != nil {
		out.Payload = append([]byte(nil), p.Payload...)
	}
	out.Annotations = CloneAnnotations(p.Annotations)
	out.Verification = p.Verification.Clone()
	return out
}

// EvidenceSet is the committed content of one photo store: the evidence for
// a single procedure step.
type EvidenceSet struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	SlotID      string    `json:"slot_id"`
	SessionID   string    `json:"session_id"`
	CommittedBy string    `json:"committed_by,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
	Photos      []Photo   `json:"photos"`
}

// Clone returns a deep copy of the set and its photos.
func (e EvidenceSet) Clone() EvidenceSet {
	out := e
	out.Photos = make([]Photo, len(e.Photos))
	for i, p := range e.Photos {
		out.Photos[i] = p.Clone()
	}
	return out
}
