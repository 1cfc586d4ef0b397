package source

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

// FileSource yields the single image held by an uploaded file.
type FileSource struct {
	name     string
	r        io.Reader
	declared int64
	policy   Policy

	mu       sync.Mutex
	consumed bool
	released bool
}

// NewFileSource wraps r. declared is the size reported by the client, or a
// negative value when unknown; an oversize declaration fails without reading.
func NewFileSource(name string, r io.Reader, declared int64, policy Policy) *FileSource {
	return &FileSource{
		name:     name,
		r:        r,
		declared: declared,
		policy:   policy,
	}
}

// Open is a no-op: files need no device.
func (f *FileSource) Open(ctx context.Context) error {
	return nil
}

// Acquire reads and validates the file. It never reads more than one byte
// past the size limit.
func (f *FileSource) Acquire(ctx context.Context) (domain.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Capture{}, err
	}
	if f.consumed || f.released {
		return domain.Capture{}, errors.BadRequest("file has already been read")
	}
	f.consumed = true

	limit := f.policy.MaxSizeBytes
	if limit > 0 && f.declared > limit {
		return domain.Capture{}, domain.FileTooLarge(f.declared, limit)
	}

	reader := f.r
	if limit > 0 {
		reader = io.LimitReader(f.r, limit+1)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return domain.Capture{}, fmt.Errorf("failed to read %s: %w", f.name, err)
	}

	encoding, cfg, err := f.policy.check(payload)
	if err != nil {
		return domain.Capture{}, err
	}

	name := f.name
	if name == "" {
		name = "upload" + extension(encoding)
	}

	return domain.Capture{
		Payload:    payload,
		Encoding:   encoding,
		SourceName: name,
		SizeBytes:  int64(len(payload)),
		Width:      cfg.Width,
		Height:     cfg.Height,
	}, nil
}

// Release closes the underlying reader when it is closable.
func (f *FileSource) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released {
		return nil
	}
	f.released = true

	if c, ok := f.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
