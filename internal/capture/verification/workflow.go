package verification

import (
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

// Store is the part of the photo store the workflow writes through.
type Store interface {
	Get(id string) (domain.Photo, bool)
	UpdateVerification(id string, v domain.Verification) error
}

// Workflow records review decisions on photos. Every status may follow every
// other one, so a rejected photo can be re-reviewed and approved later.
type Workflow struct {
	store  Store
	now    func() time.Time
	logger *logger.Logger
}

// NewWorkflow creates a workflow over store
func NewWorkflow(store Store, log *logger.Logger) *Workflow {
	return &Workflow{
		store:  store,
		now:    time.Now,
		logger: log,
	}
}

// SetStatus sets the status of a photo and overwrites its notes, clearing
// them when notes is nil. Repeating the current status and notes is a no-op.
func (w *Workflow) SetStatus(photoID string, status domain.Status, notes *string, reviewerID string) (domain.Verification, error) {
	if !status.IsValid() {
		return domain.Verification{}, errors.Validation(map[string]string{
			"status": "must be one of: pending approved rejected",
		})
	}

	photo, ok := w.store.Get(photoID)
	if !ok {
		return domain.Verification{}, domain.PhotoNotFound(photoID)
	}

	if photo.Verification.Matches(status, notes) {
		return photo.Verification, nil
	}

	reviewedAt := w.now().UTC()
	next := domain.Verification{
		Status:     status,
		ReviewedBy: reviewerID,
		ReviewedAt: &reviewedAt,
	}
	if notes != nil {
		n := *notes
		next.Notes = &n
	}

	if err := w.store.UpdateVerification(photoID, next); err != nil {
		return domain.Verification{}, err
	}

	w.logger.Info().
		Str("photo_id", photoID).
		Str("from", photo.Verification.Status.String()).
		Str("to", status.String()).
		Str("reviewer_id", reviewerID).
		Msg("photo reviewed")

	return next.Clone(), nil
}

// Summary counts photos per review status.
type Summary struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Summarize counts the statuses of photos.
func Summarize(photos []domain.Photo) Summary {
	var s Summary
	for _, p := range photos {
		switch p.Verification.Status {
		case domain.StatusApproved:
			s.Approved++
		case domain.StatusRejected:
			s.Rejected++
		default:
			s.Pending++
		}
	}
	return s
}
