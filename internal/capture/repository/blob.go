package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
)

// ErrBlobNotFound is returned when no payload is stored under a key.
var ErrBlobNotFound = stderrors.New("blob not found")

// BlobStore keeps photo payloads apart from the evidence rows.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) error
	Health(ctx context.Context) map[string]string
}

// DBBlobStore stores payloads in the evidence_blobs table. It is used when
// no object storage is configured.
type DBBlobStore struct {
	db *database.DB
}

// NewDBBlobStore creates a blob store on the evidence database
func NewDBBlobStore(db *database.DB) *DBBlobStore {
	return &DBBlobStore{db: db}
}

func (s *DBBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO evidence_blobs (blob_key, content_type, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (blob_key) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`),
		key, contentType, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store blob %s: %w", key, err)
	}
	return nil
}

func (s *DBBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, s.db.Rebind(`SELECT data FROM evidence_blobs WHERE blob_key = ?`), key)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	return data, nil
}

func (s *DBBlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	// substr instead of LIKE so tenant and slot ids need no escaping
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM evidence_blobs WHERE substr(blob_key, 1, length(?)) = ?`),
		prefix, prefix)
	if err != nil {
		return fmt.Errorf("failed to delete blobs under %s: %w", prefix, err)
	}
	return nil
}

func (s *DBBlobStore) Health(ctx context.Context) map[string]string {
	status := s.db.Health(ctx)
	status["backend"] = "database"
	return status
}
