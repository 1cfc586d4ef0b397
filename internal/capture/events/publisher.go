package events

import (
	"context"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/verification"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
)

// Publisher is satisfied by messaging.Publisher
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// CaptureEventPublisher publishes capture-related events. A nil
// *CaptureEventPublisher publishes nothing, so the service runs without a broker.
type CaptureEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewCaptureEventPublisher creates a publisher on the capture exchange
func NewCaptureEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*CaptureEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeCaptureEvents, "capture-service", log)
	if err != nil {
		return nil, err
	}
	return NewCaptureEventPublisherWith(publisher, log), nil
}

// NewCaptureEventPublisherWith wraps an existing publisher
func NewCaptureEventPublisherWith(publisher Publisher, log *logger.Logger) *CaptureEventPublisher {
	return &CaptureEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishEvidenceCommitted publishes an evidence committed event
func (p *CaptureEventPublisher) PublishEvidenceCommitted(ctx context.Context, set domain.EvidenceSet) {
	if p == nil {
		return
	}

	summary := verification.Summarize(set.Photos)
	data := messaging.EvidenceCommittedEvent{
		EvidenceID:  set.ID,
		TenantID:    set.TenantID,
		SlotID:      set.SlotID,
		SessionID:   set.SessionID,
		CommittedBy: set.CommittedBy,
		CommittedAt: set.CommittedAt,
		PhotoCount:  len(set.Photos),
		Pending:     summary.Pending,
		Approved:    summary.Approved,
		Rejected:    summary.Rejected,
	}

	if err := p.publisher.Publish(ctx, messaging.EventEvidenceCommitted, data); err != nil {
		p.logger.Error().Err(err).Str("evidence_id", set.ID).Msg("failed to publish evidence committed event")
	}
}

// PhotoReview identifies a review decision for PublishPhotoReviewed
type PhotoReview struct {
	TenantID     string
	SlotID       string
	SessionID    string
	PhotoID      string
	Verification domain.Verification
}

// PublishPhotoReviewed publishes a photo reviewed event
func (p *CaptureEventPublisher) PublishPhotoReviewed(ctx context.Context, r PhotoReview) {
	if p == nil {
		return
	}

	data := messaging.PhotoReviewedEvent{
		TenantID:   r.TenantID,
		SlotID:     r.SlotID,
		SessionID:  r.SessionID,
		PhotoID:    r.PhotoID,
		Status:     r.Verification.Status.String(),
		Notes:      r.Verification.Notes,
		ReviewerID: r.Verification.ReviewedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventPhotoReviewed, data); err != nil {
		p.logger.Error().Err(err).Str("photo_id", r.PhotoID).Msg("failed to publish photo reviewed event")
	}
}
