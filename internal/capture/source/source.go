// Package source produces still images for capture sessions, either from an
// uploaded file or from a camera device.
package source

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source yields still images. Open acquires whatever the source holds (a
// camera stream); Release frees it and is safe to call any number of times.
type Source interface {
	Open(ctx context.Context) error
	Acquire(ctx context.Context) (domain.Capture, error)
	Release() error
}

// Policy is the acceptance rule applied to every image a source yields.
type Policy struct {
	AcceptedEncodings []string
	MaxSizeBytes      int64
}

// check sniffs the payload encoding, enforces the allow-list and reads the
// image dimensions. Payloads that claim an accepted type but do not decode
// are rejected as unsupported.
func (p Policy) check(payload []byte) (string, image.Config, error) {
	if p.MaxSizeBytes > 0 && int64(len(payload)) > p.MaxSizeBytes {
		return "", image.Config{}, domain.FileTooLarge(int64(len(payload)), p.MaxSizeBytes)
	}

	mtype := mimetype.Detect(payload)
	encoding := mtype.String()
	if !p.accepts(mtype) {
		return encoding, image.Config{}, domain.UnsupportedFormat(encoding)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return encoding, image.Config{}, domain.UnsupportedFormat(encoding)
	}

	return encoding, cfg, nil
}

func (p Policy) accepts(mtype *mimetype.MIME) bool {
	for _, accepted := range p.AcceptedEncodings {
		if mtype.Is(accepted) {
			return true
		}
	}
	return false
}

// extension returns the file extension for an encoding, including the dot.
func extension(encoding string) string {
	if m := mimetype.Lookup(encoding); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".img"
}
