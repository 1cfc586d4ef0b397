// Package store holds the photos of a capture session in a bounded,
// insertion-ordered store.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
)

// Options bounds a photo store.
type Options struct {
	MaxPhotos    int
	MaxSizeBytes int64
	// RejectWhenFull refuses new photos at capacity instead of evicting the oldest.
	RejectWhenFull bool
	// OnEvict is called with each photo dropped to make room. It runs while
	// the store is locked and must not call back into the store.
	OnEvict func(domain.Photo)
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// PhotoStore is the ordered, bounded set of photos for one slot.
// Photos leave the store as deep copies; only annotations and verification
// can be changed afterwards, through UpdateAnnotations and UpdateVerification.
type PhotoStore struct {
	mu     sync.RWMutex
	opts   Options
	photos []*domain.Photo
}

// New creates an empty store. MaxPhotos below one is treated as one.
func New(opts Options) *PhotoStore {
	if opts.MaxPhotos < 1 {
		opts.MaxPhotos = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &PhotoStore{
		opts:   opts,
		photos: make([]*domain.Photo, 0, opts.MaxPhotos),
	}
}

// Insert gives the capture an identity and appends it. An oversize capture
// leaves the store unchanged. At capacity the oldest photo is evicted first,
// unless the store was configured to reject.
func (s *PhotoStore) Insert(c domain.Capture) (domain.Photo, error) {
	size := c.SizeBytes
	if size <= 0 {
		size = int64(len(c.Payload))
	}
	if s.opts.MaxSizeBytes > 0 && size > s.opts.MaxSizeBytes {
		return domain.Photo{}, domain.FileTooLarge(size, s.opts.MaxSizeBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.photos) >= s.opts.MaxPhotos && s.opts.RejectWhenFull {
		return domain.Photo{}, domain.StoreFull(s.opts.MaxPhotos)
	}
	for len(s.photos) >= s.opts.MaxPhotos {
		evicted := s.photos[0]
		s.photos[0] = nil
		s.photos = s.photos[1:]
		if s.opts.OnEvict != nil {
			s.opts.OnEvict(evicted.Clone())
		}
	}

	p := &domain.Photo{
		ID:           s.opts.NewID(),
		Payload:      append([]byte(nil), c.Payload...),
		Encoding:     c.Encoding,
		Width:        c.Width,
		Height:       c.Height,
		SourceName:   c.SourceName,
		SizeBytes:    size,
		CapturedAt:   s.opts.Now().UTC(),
		Annotations:  []domain.Annotation{},
		Verification: domain.NewVerification(),
	}
	s.photos = append(s.photos, p)

	return p.Clone(), nil
}

// Remove deletes the photo with the given id. It reports whether a photo was
// removed; an unknown id is not an error.
func (s *PhotoStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.photos = append(s.photos[:i], s.photos[i+1:]...)
	return true
}

// Get returns a copy of the photo with the given id.
func (s *PhotoStore) Get(id string) (domain.Photo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.Photo{}, false
	}
	return s.photos[i].Clone(), true
}

// All returns copies of every photo in insertion order.
func (s *PhotoStore) All() []domain.Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Photo, len(s.photos))
	for i, p := range s.photos {
		out[i] = p.Clone()
	}
	return out
}

// Len returns the number of photos held.
func (s *PhotoStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.photos)
}

// Contains reports whether a photo with the given id is held.
func (s *PhotoStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(id) >= 0
}

// MaxPhotos returns the capacity.
func (s *PhotoStore) MaxPhotos() int {
	return s.opts.MaxPhotos
}

// UpdateAnnotations replaces the annotation layer of a photo.
func (s *PhotoStore) UpdateAnnotations(id string, annotations []domain.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.PhotoNotFound(id)
	}
	s.photos[i].Annotations = domain.CloneAnnotations(annotations)
	return nil
}

// UpdateVerification replaces the verification of a photo.
func (s *PhotoStore) UpdateVerification(id string, v domain.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.PhotoNotFound(id)
	}
	s.photos[i].Verification = v.Clone()
	return nil
}

func (s *PhotoStore) indexOf(id string) int {
	for i, p := range s.photos {
		if p.ID == id {
			return i
		}
	}
	return -1
}
