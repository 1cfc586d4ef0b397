// Package repository persists committed evidence sets. Rows live in
// postgres or sqlite through sqlx; photo payloads live in a BlobStore.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

type setRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	SlotID      string    `db:"slot_id"`
	SessionID   string    `db:"session_id"`
	CommittedBy string    `db:"committed_by"`
	CommittedAt time.Time `db:"committed_at"`
}

type photoRow struct {
	ID          string     `db:"id"`
	EvidenceID  string     `db:"evidence_id"`
	TenantID    string     `db:"tenant_id"`
	Position    int        `db:"position"`
	Encoding    string     `db:"encoding"`
	Width       int        `db:"width"`
	Height      int        `db:"height"`
	SourceName  string     `db:"source_name"`
	SizeBytes   int64      `db:"size_bytes"`
	CapturedAt  time.Time  `db:"captured_at"`
	BlobKey     string     `db:"blob_key"`
	Annotations string     `db:"annotations"`
	Status      string     `db:"status"`
	Notes       *string    `db:"notes"`
	ReviewedBy  string     `db:"reviewed_by"`
	ReviewedAt  *time.Time `db:"reviewed_at"`
}

// PhotoBlob locates the stored payload of one committed photo.
type PhotoBlob struct {
	Key      string `db:"blob_key"`
	Encoding string `db:"encoding"`
}

// BlobPrefix is the key prefix under which every payload of one evidence
// set is stored.
func BlobPrefix(tenantID, slotID, evidenceID string) string {
	return path.Join(tenantID, slotID, evidenceID) + "/"
}

// BlobKey is the key of one photo payload.
func BlobKey(tenantID, slotID, evidenceID, photoID string) string {
	return BlobPrefix(tenantID, slotID, evidenceID) + photoID
}

// EvidenceRepository handles evidence persistence. A slot holds at most one
// evidence set per tenant; saving again replaces it.
type EvidenceRepository struct {
	db *database.DB
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *database.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// Save stores the set rows, replacing the slot's previous set. Payloads are
// not written here; each photo row points at BlobKey. It returns the ID of
// the replaced set, or "" when the slot was empty.
func (r *EvidenceRepository) Save(ctx context.Context, set domain.EvidenceSet) (string, error) {
	var replaced string

	err := r.db.WithTenant(ctx, set.TenantID, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &replaced,
			tx.Rebind(`SELECT id FROM evidence_sets WHERE tenant_id = ? AND slot_id = ?`),
			set.TenantID, set.SlotID)
		if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up previous evidence: %w", err)
		}

		if replaced != "" {
			if _, err := tx.ExecContext(ctx,
				tx.Rebind(`DELETE FROM evidence_photos WHERE evidence_id = ?`), replaced); err != nil {
				return fmt.Errorf("failed to delete previous evidence photos: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				tx.Rebind(`DELETE FROM evidence_sets WHERE id = ?`), replaced); err != nil {
				return fmt.Errorf("failed to delete previous evidence: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO evidence_sets (id, tenant_id, slot_id, session_id, committed_by, committed_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			set.ID, set.TenantID, set.SlotID, set.SessionID, set.CommittedBy, set.CommittedAt.UTC())
		if err != nil {
			return mapError(err, "failed to insert evidence")
		}

		for i, p := range set.Photos {
			annotations, err := json.Marshal(domain.CloneAnnotations(p.Annotations))
			if err != nil {
				return fmt.Errorf("failed to encode annotations: %w", err)
			}

			var reviewedAt *time.Time
			if p.Verification.ReviewedAt != nil {
				t := p.Verification.ReviewedAt.UTC()
				reviewedAt = &t
			}

			_, err = tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO evidence_photos (
					id, evidence_id, tenant_id, position, encoding, width, height,
					source_name, size_bytes, captured_at, blob_key, annotations,
					status, notes, reviewed_by, reviewed_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				p.ID, set.ID, set.TenantID, i, p.Encoding, p.Width, p.Height,
				p.SourceName, p.SizeBytes, p.CapturedAt.UTC(), BlobKey(set.TenantID, set.SlotID, set.ID, p.ID), string(annotations),
				string(p.Verification.Status), p.Verification.Notes, p.Verification.ReviewedBy, reviewedAt,
			)
			if err != nil {
				return mapError(err, "failed to insert evidence photo")
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return replaced, nil
}

// Load returns the slot's committed evidence without photo payloads.
func (r *EvidenceRepository) Load(ctx context.Context, tenantID, slotID string) (domain.EvidenceSet, error) {
	var set domain.EvidenceSet

	err := r.db.WithTenant(ctx, tenantID, func(tx *sqlx.Tx) error {
		var row setRow
		err := tx.GetContext(ctx, &row, tx.Rebind(`
			SELECT id, tenant_id, slot_id, session_id, committed_by, committed_at
			FROM evidence_sets WHERE tenant_id = ? AND slot_id = ?`),
			tenantID, slotID)
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NotFound("evidence")
		}
		if err != nil {
			return fmt.Errorf("failed to load evidence: %w", err)
		}

		var rows []photoRow
		err = tx.SelectContext(ctx, &rows, tx.Rebind(`
			SELECT id, evidence_id, tenant_id, position, encoding, width, height,
			       source_name, size_bytes, captured_at, blob_key, annotations,
			       status, notes, reviewed_by, reviewed_at
			FROM evidence_photos
			WHERE evidence_id = ? AND tenant_id = ?
			ORDER BY position`),
			row.ID, tenantID)
		if err != nil {
			return fmt.Errorf("failed to load evidence photos: %w", err)
		}

		set = domain.EvidenceSet{
			ID:          row.ID,
			TenantID:    row.TenantID,
			SlotID:      row.SlotID,
			SessionID:   row.SessionID,
			CommittedBy: row.CommittedBy,
			CommittedAt: row.CommittedAt.UTC(),
			Photos:      make([]domain.Photo, 0, len(rows)),
		}
		for _, pr := range rows {
			p, err := pr.toPhoto()
			if err != nil {
				return err
			}
			set.Photos = append(set.Photos, p)
		}
		return nil
	})
	if err != nil {
		return domain.EvidenceSet{}, err
	}
	return set, nil
}

// Blob locates the payload of a photo in the slot's committed evidence.
func (r *EvidenceRepository) Blob(ctx context.Context, tenantID, slotID, photoID string) (PhotoBlob, error) {
	var blob PhotoBlob

	err := r.db.WithTenant(ctx, tenantID, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &blob, tx.Rebind(`
			SELECT p.blob_key, p.encoding
			FROM evidence_photos p
			JOIN evidence_sets s ON s.id = p.evidence_id
			WHERE s.tenant_id = ? AND s.slot_id = ? AND p.id = ?`),
			tenantID, slotID, photoID)
		if stderrors.Is(err, sql.ErrNoRows) {
			return domain.PhotoNotFound(photoID)
		}
		if err != nil {
			return fmt.Errorf("failed to load photo blob key: %w", err)
		}
		return nil
	})
	return blob, err
}

func (pr photoRow) toPhoto() (domain.Photo, error) {
	annotations := []domain.Annotation{}
	if err := json.Unmarshal([]byte(pr.Annotations), &annotations); err != nil {
		return domain.Photo{}, fmt.Errorf("failed to decode annotations of photo %s: %w", pr.ID, err)
	}

	v := domain.Verification{
		Status:     domain.Status(pr.Status),
		Notes:      pr.Notes,
		ReviewedBy: pr.ReviewedBy,
	}
	if pr.ReviewedAt != nil {
		t := pr.ReviewedAt.UTC()
		v.ReviewedAt = &t
	}

	return domain.Photo{
		ID:           pr.ID,
		Encoding:     pr.Encoding,
		Width:        pr.Width,
		Height:       pr.Height,
		SourceName:   pr.SourceName,
		SizeBytes:    pr.SizeBytes,
		CapturedAt:   pr.CapturedAt.UTC(),
		Annotations:  annotations,
		Verification: v,
	}, nil
}

func mapError(err error, msg string) error {
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return fmt.Errorf("%s: %w", msg, err)
}
