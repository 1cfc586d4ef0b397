package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
)

// PNG encodes a w by h test image
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes a w by h test image
func JPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 120, A: 255})
		}
	}
	return img
}

// FixtureFactory builds capture fixtures with unique, readable names
type FixtureFactory struct {
	mu  sync.Mutex
	seq int
	now time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{now: time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC)}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// Photo returns a pending photo with a small payload
func (f *FixtureFactory) Photo(opts ...func(*domain.Photo)) domain.Photo {
	seq := f.nextSeq()
	payload := []byte(fmt.Sprintf("photo-payload-%d", seq))
	p := domain.Photo{
		ID:           uuid.NewString(),
		Payload:      payload,
		Encoding:     "image/jpeg",
		Width:        640,
		Height:       480,
		SourceName:   fmt.Sprintf("pass-cam-%03d.jpg", seq),
		SizeBytes:    int64(len(payload)),
		CapturedAt:   f.now.Add(time.Duration(seq) * time.Second),
		Annotations:  []domain.Annotation{},
		Verification: domain.NewVerification(),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithCircle adds a finished circle annotation
func WithCircle(x, y, w, h float64) func(*domain.Photo) {
	return func(p *domain.Photo) {
		p.Annotations = append(p.Annotations, domain.Annotation{
			ID:     uuid.NewString(),
			Kind:   domain.KindCircle,
			Anchor: domain.Point{X: x, Y: y},
			Extent: &domain.Extent{Width: w, Height: h},
			Style:  domain.Style{Color: "#ff0000", StrokeWidth: 3},
		})
	}
}

// WithReview sets a review decision
func WithReview(status domain.Status, notes, reviewer string) func(*domain.Photo) {
	return func(p *domain.Photo) {
		at := p.CapturedAt.Add(time.Minute)
		p.Verification = domain.Verification{Status: status, ReviewedBy: reviewer, ReviewedAt: &at}
		if notes != "" {
			p.Verification.Notes = &notes
		}
	}
}

// EvidenceSet returns a committed set holding photos
func (f *FixtureFactory) EvidenceSet(tenantID, slotID string, photos ...domain.Photo) domain.EvidenceSet {
	return domain.EvidenceSet{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		SlotID:      slotID,
		SessionID:   uuid.NewString(),
		CommittedBy: "chef-1",
		CommittedAt: f.now.Add(time.Hour),
		Photos:      photos,
	}
}
