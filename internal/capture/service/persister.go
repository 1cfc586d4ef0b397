package service

import (
	"context"
	"fmt"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/repository"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

// persister writes payloads to the blob store, then the evidence rows.
// Blobs of a set that failed to save are removed again, and blobs of the
// set it replaced are removed once the rows are committed.
type persister struct {
	repo   EvidenceRepository
	blobs  repository.BlobStore
	logger *logger.Logger
}

func (p *persister) Save(ctx context.Context, slotID string, set domain.EvidenceSet) error {
	prefix := repository.BlobPrefix(set.TenantID, slotID, set.ID)

	for _, photo := range set.Photos {
		key := repository.BlobKey(set.TenantID, slotID, set.ID, photo.ID)
		if err := p.blobs.Put(ctx, key, photo.Payload, photo.Encoding); err != nil {
			p.cleanup(prefix)
			return fmt.Errorf("failed to store photo %s: %w", photo.ID, err)
		}
	}

	replaced, err := p.repo.Save(ctx, set)
	if err != nil {
		p.cleanup(prefix)
		return err
	}

	if replaced != "" {
		p.cleanup(repository.BlobPrefix(set.TenantID, slotID, replaced))
	}
	return nil
}

// cleanup runs on its own context: the save context may be what expired.
func (p *persister) cleanup(prefix string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := p.blobs.DeletePrefix(ctx, prefix); err != nil {
		p.logger.Warn().Err(err).Str("prefix", prefix).Msg("failed to delete orphaned evidence blobs")
	}
}
