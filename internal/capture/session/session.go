// Package session ties an image source, a photo store, per-photo annotation
// engines and the verification workflow into one capture session for a
// procedure step slot.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/annotation"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/source"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/store"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/verification"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

// Persister stores a committed evidence set. Save receives a deep copy.
type Persister interface {
	Save(ctx context.Context, slotID string, set domain.EvidenceSet) error
}

// Options configures a session.
type Options struct {
	ID       string
	SlotID   string
	TenantID string

	// Source is the long-lived source driven by Start, Stop and CapturePhoto.
	// It is nil for upload-only sessions.
	Source source.Source

	MaxPhotos      int
	MaxSizeBytes   int64
	RejectWhenFull bool
	MaxHistory     int

	// CommitTimeout bounds Persister.Save; zero leaves the caller's deadline.
	CommitTimeout time.Duration
	Persister     Persister
	Logger        *logger.Logger

	Now   func() time.Time
	NewID func() string
}

type state int

const (
	stateOpen state = iota
	stateClosed
)

// Session is one capture session. All methods are safe for concurrent use;
// they are serialized, except that a second concurrent selection is refused
// instead of waiting.
type Session struct {
	id        string
	slotID    string
	tenantID  string
	createdAt time.Time

	src        source.Source
	persister  Persister
	maxHistory int
	timeout    time.Duration
	now        func() time.Time
	newID      func() string
	logger     *logger.Logger

	selecting sync.Mutex

	mu       sync.Mutex
	state    state
	started  bool
	lastUsed time.Time
	store    *store.PhotoStore
	workflow *verification.Workflow
	engines  map[string]*annotation.Engine
	active   *Lease
}

// New creates an open, unstarted session.
func New(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.ID == "" {
		opts.ID = opts.NewID()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	log := opts.Logger.WithSession(opts.ID, opts.SlotID)
	now := opts.Now()

	s := &Session{
		id:         opts.ID,
		slotID:     opts.SlotID,
		tenantID:   opts.TenantID,
		createdAt:  now,
		src:        opts.Source,
		persister:  opts.Persister,
		maxHistory: opts.MaxHistory,
		timeout:    opts.CommitTimeout,
		now:        opts.Now,
		newID:      opts.NewID,
		logger:     log,
		lastUsed:   now,
		engines:    make(map[string]*annotation.Engine),
	}

	// Insert only runs under s.mu, so the eviction hook may touch session state.
	s.store = store.New(store.Options{
		MaxPhotos:      opts.MaxPhotos,
		MaxSizeBytes:   opts.MaxSizeBytes,
		RejectWhenFull: opts.RejectWhenFull,
		Now:            opts.Now,
		OnEvict: func(p domain.Photo) {
			s.dropPhoto(p.ID)
			s.logger.Info().Str("photo_id", p.ID).Msg("oldest photo evicted")
		},
	})
	s.workflow = verification.NewWorkflow(s.store, log)

	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) SlotID() string   { return s.slotID }
func (s *Session) TenantID() string { return s.tenantID }

// Start opens the long-lived source. Starting a started session, or one
// without a source, is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return err
	}
	if s.started || s.src == nil {
		s.started = true
		return nil
	}
	if err := s.src.Open(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to open image source")
		return err
	}
	s.started = true
	s.logger.Info().Msg("image source opened")
	return nil
}

// Stop releases the long-lived source. The session stays open and can be
// started again.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return err
	}
	return s.release()
}

// CapturePhoto takes a still from the started source and stores it.
func (s *Session) CapturePhoto(ctx context.Context) (domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return domain.Photo{}, err
	}
	if s.src == nil {
		return domain.Photo{}, domain.DeviceUnavailable(nil)
	}

	c, err := s.src.Acquire(ctx)
	if err != nil {
		return domain.Photo{}, err
	}
	return s.insert(c)
}

// ImportPhoto opens src, takes one image from it and releases it before
// returning, whatever the outcome.
func (s *Session) ImportPhoto(ctx context.Context, src source.Source) (photo domain.Photo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return domain.Photo{}, err
	}

	if err := src.Open(ctx); err != nil {
		_ = src.Release()
		return domain.Photo{}, err
	}
	defer func() {
		if rerr := src.Release(); rerr != nil && err == nil {
			s.logger.Warn().Err(rerr).Msg("failed to release import source")
		}
	}()

	c, err := src.Acquire(ctx)
	if err != nil {
		return domain.Photo{}, err
	}
	return s.insert(c)
}

func (s *Session) insert(c domain.Capture) (domain.Photo, error) {
	p, err := s.store.Insert(c)
	if err != nil {
		s.logger.Debug().Err(err).Str("source_name", c.SourceName).Msg("capture rejected")
		return domain.Photo{}, err
	}
	s.logger.Info().
		Str("photo_id", p.ID).
		Str("source_name", p.SourceName).
		Int64("size_bytes", p.SizeBytes).
		Msg("photo captured")
	return p, nil
}

// RemovePhoto deletes a photo and its annotation history. It reports whether
// a photo was removed.
func (s *Session) RemovePhoto(photoID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return false, err
	}
	if !s.store.Remove(photoID) {
		return false, nil
	}
	s.dropPhoto(photoID)
	s.logger.Info().Str("photo_id", photoID).Msg("photo removed")
	return true, nil
}

// Photos returns copies of all photos in capture order.
func (s *Session) Photos() ([]domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return nil, err
	}
	return s.store.All(), nil
}

// Photo returns a copy of one photo.
func (s *Session) Photo(photoID string) (domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return domain.Photo{}, err
	}
	p, ok := s.store.Get(photoID)
	if !ok {
		return domain.Photo{}, domain.PhotoNotFound(photoID)
	}
	return p, nil
}

// SetVerification records a review decision on a photo and reports whether
// it changed the photo's verification.
func (s *Session) SetVerification(photoID string, status domain.Status, notes *string, reviewerID string) (domain.Verification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return domain.Verification{}, false, err
	}

	photo, ok := s.store.Get(photoID)
	if !ok {
		return domain.Verification{}, false, domain.PhotoNotFound(photoID)
	}
	changed := !photo.Verification.Matches(status, notes)

	v, err := s.workflow.SetStatus(photoID, status, notes, reviewerID)
	if err != nil {
		return domain.Verification{}, false, err
	}
	return v, changed, nil
}

// Commit hands the photos to the persister and closes the session. A failed
// save leaves the session open and unchanged so the caller can retry.
func (s *Session) Commit(ctx context.Context, committedBy string) (domain.EvidenceSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return domain.EvidenceSet{}, err
	}
	if s.store.Len() == 0 {
		return domain.EvidenceSet{}, domain.EmptyStore()
	}
	for _, e := range s.engines {
		if e.Drawing() {
			return domain.EvidenceSet{}, domain.DraftPending()
		}
	}

	set := domain.EvidenceSet{
		ID:          s.newID(),
		TenantID:    s.tenantID,
		SlotID:      s.slotID,
		SessionID:   s.id,
		CommittedBy: committedBy,
		CommittedAt: s.now().UTC(),
		Photos:      s.store.All(),
	}

	if s.persister != nil {
		saveCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			saveCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := s.persister.Save(saveCtx, s.slotID, set.Clone()); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist evidence")
			return domain.EvidenceSet{}, err
		}
	}

	if err := s.release(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to release image source after commit")
	}
	s.close()

	s.logger.Info().
		Str("evidence_id", set.ID).
		Int("photos", len(set.Photos)).
		Msg("evidence committed")

	return set, nil
}

// Discard releases the source and closes the session without persisting.
func (s *Session) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return domain.SessionClosed()
	}
	err := s.release()
	s.close()
	s.logger.Info().Msg("session discarded")
	return err
}

// Info is a read-only view of a session, without photo payloads.
type Info struct {
	ID            string         `json:"id"`
	SlotID        string         `json:"slot_id"`
	TenantID      string         `json:"tenant_id,omitempty"`
	Started       bool           `json:"started"`
	Closed        bool           `json:"closed"`
	ActivePhotoID string         `json:"active_photo_id,omitempty"`
	MaxPhotos     int            `json:"max_photos"`
	Photos        []domain.Photo `json:"photos"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUsedAt    time.Time      `json:"last_used_at"`
}

// Info describes the session. It works on closed sessions too.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:         s.id,
		SlotID:     s.slotID,
		TenantID:   s.tenantID,
		Started:    s.started,
		Closed:     s.state == stateClosed,
		MaxPhotos:  s.store.MaxPhotos(),
		Photos:     []domain.Photo{},
		CreatedAt:  s.createdAt,
		LastUsedAt: s.lastUsed,
	}
	if s.active != nil {
		info.ActivePhotoID = s.active.photoID
	}
	if s.state == stateOpen {
		info.Photos = s.store.All()
		for i := range info.Photos {
			info.Photos[i].Payload = nil
		}
	}
	return info
}

// IdleSince reports when the session was last used.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Closed reports whether the session was committed or discarded.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// use checks the session is open and marks it used. Callers hold s.mu.
func (s *Session) use() error {
	if s.state == stateClosed {
		return domain.SessionClosed()
	}
	s.lastUsed = s.now()
	return nil
}

// release closes the long-lived source once per successful Start.
func (s *Session) release() error {
	if !s.started {
		return nil
	}
	s.started = false
	if s.src == nil {
		return nil
	}
	if err := s.src.Release(); err != nil {
		return err
	}
	s.logger.Info().Msg("image source released")
	return nil
}

func (s *Session) close() {
	s.state = stateClosed
	s.revoke()
	s.engines = nil
}

// dropPhoto forgets the engine of a photo that left the store and revokes
// the lease on it.
func (s *Session) dropPhoto(photoID string) {
	delete(s.engines, photoID)
	if s.active != nil && s.active.photoID == photoID {
		s.revoke()
	}
}

func (s *Session) revoke() {
	s.active = nil
}
