// Package service hosts capture sessions: it keeps one open session per
// procedure step slot, persists committed evidence and publishes capture
// events.
package service

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/session"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/source"
	"github.com/kitchenflow/kitchenflow-backend/pkg/config"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
)

// EvidenceRepository is satisfied by repository.EvidenceRepository
type EvidenceRepository interface {
	Save(ctx context.Context, set domain.EvidenceSet) (string, error)
	Load(ctx context.Context, tenantID, slotID string) (domain.EvidenceSet, error)
	Blob(ctx context.Context, tenantID, slotID, photoID string) (repository.PhotoBlob, error)
}

// Options configures the capture service
type Options struct {
	Capture config.CaptureConfig

	// NewDevice returns the camera used for live capture in a slot. Nil
	// means only uploads are available.
	NewDevice func(slotID string) source.Device

	Repository EvidenceRepository
	Blobs      repository.BlobStore
	Events     *events.CaptureEventPublisher
	Logger     *logger.Logger
	Now        func() time.Time
}

type slotKey struct {
	tenantID string
	slotID   string
}

// CaptureService owns the open capture sessions.
type CaptureService struct {
	opts   Options
	policy source.Policy
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	slots    map[slotKey]string
}

// NewCaptureService creates a new capture service
func NewCaptureService(opts Options) *CaptureService {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &CaptureService{
		opts: opts,
		policy: source.Policy{
			AcceptedEncodings: opts.Capture.AcceptedEncodings,
			MaxSizeBytes:      opts.Capture.MaxSizeBytes,
		},
		logger:   opts.Logger.WithComponent("capture"),
		sessions: make(map[string]*session.Session),
		slots:    make(map[slotKey]string),
	}
}

// Open creates and starts a session for a slot. A slot has at most one
// open session per tenant. With useDevice the session drives the slot's
// camera; otherwise photos arrive by upload only.
func (s *CaptureService) Open(ctx context.Context, tenantID, slotID string, useDevice bool) (*session.Session, error) {
	var src source.Source
	if useDevice {
		if s.opts.NewDevice == nil {
			return nil, domain.DeviceUnavailable(stderrors.New("no camera is configured"))
		}
		src = source.NewDeviceSource(s.opts.NewDevice(slotID), s.policy, s.opts.Capture.CaptureQuality)
	}

	sess := session.New(session.Options{
		SlotID:         slotID,
		TenantID:       tenantID,
		Source:         src,
		MaxPhotos:      s.opts.Capture.MaxPhotos,
		MaxSizeBytes:   s.opts.Capture.MaxSizeBytes,
		RejectWhenFull: s.opts.Capture.OverflowPolicy == config.OverflowReject,
		MaxHistory:     s.opts.Capture.MaxHistory,
		CommitTimeout:  s.opts.Capture.CommitTimeout,
		Persister:      &persister{repo: s.opts.Repository, blobs: s.opts.Blobs, logger: s.logger},
		Logger:         s.opts.Logger,
		Now:            s.opts.Now,
	})

	if err := s.register(sess); err != nil {
		return nil, err
	}

	// the slot stays reserved while the camera is negotiated
	if err := sess.Start(ctx); err != nil {
		sess.Discard()
		s.unregister(sess)
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sess.ID()).
		Str("slot_id", slotID).
		Str("tenant_id", tenantID).
		Bool("device", useDevice).
		Msg("capture session opened")

	return sess, nil
}

func (s *CaptureService) register(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{tenantID: sess.TenantID(), slotID: sess.SlotID()}
	if id, ok := s.slots[key]; ok {
		if existing, ok := s.sessions[id]; ok && !existing.Closed() {
			return errors.Conflict("a capture session is already open for this slot").
				WithDetails(map[string]string{"session_id": id})
		}
		delete(s.sessions, id)
	}

	s.sessions[sess.ID()] = sess
	s.slots[key] = sess.ID()
	return nil
}

func (s *CaptureService) unregister(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sess.ID())
	key := slotKey{tenantID: sess.TenantID(), slotID: sess.SlotID()}
	if s.slots[key] == sess.ID() {
		delete(s.slots, key)
	}
}

// Get returns a session of the tenant. Committed and discarded sessions are
// forgotten, so they are reported as not found.
func (s *CaptureService) Get(tenantID, sessionID string) (*session.Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok || sess.TenantID() != tenantID {
		return nil, errors.NotFound("capture session")
	}
	return sess, nil
}

// ImportPhoto adds an uploaded file to a session.
func (s *CaptureService) ImportPhoto(ctx context.Context, tenantID, sessionID, name string, r io.Reader, declared int64) (domain.Photo, error) {
	sess, err := s.Get(tenantID, sessionID)
	if err != nil {
		return domain.Photo{}, err
	}
	return sess.ImportPhoto(ctx, source.NewFileSource(name, r, declared, s.policy))
}

// SetVerification records a review decision and publishes it when the
// decision changed.
func (s *CaptureService) SetVerification(ctx context.Context, tenantID, sessionID, photoID string, status domain.Status, notes *string, reviewerID string) (domain.Verification, error) {
	sess, err := s.Get(tenantID, sessionID)
	if err != nil {
		return domain.Verification{}, err
	}

	v, changed, err := sess.SetVerification(photoID, status, notes, reviewerID)
	if err != nil {
		return domain.Verification{}, err
	}

	if changed {
		s.opts.Events.PublishPhotoReviewed(ctx, events.PhotoReview{
			TenantID:     tenantID,
			SlotID:       sess.SlotID(),
			SessionID:    sessionID,
			PhotoID:      photoID,
			Verification: v,
		})
	}
	return v, nil
}

// Commit persists the session's photos and closes it.
func (s *CaptureService) Commit(ctx context.Context, tenantID, sessionID, committedBy string) (domain.EvidenceSet, error) {
	sess, err := s.Get(tenantID, sessionID)
	if err != nil {
		return domain.EvidenceSet{}, err
	}

	set, err := sess.Commit(ctx, committedBy)
	if err != nil {
		return domain.EvidenceSet{}, err
	}
	s.unregister(sess)

	s.opts.Events.PublishEvidenceCommitted(ctx, set)
	return set, nil
}

// Discard drops a session without persisting anything.
func (s *CaptureService) Discard(tenantID, sessionID string) error {
	sess, err := s.Get(tenantID, sessionID)
	if err != nil {
		return err
	}
	defer s.unregister(sess)
	return sess.Discard()
}

// DiscardSlot discards the open session of a slot, if any.
func (s *CaptureService) DiscardSlot(tenantID, slotID string) (bool, error) {
	s.mu.Lock()
	id, ok := s.slots[slotKey{tenantID: tenantID, slotID: slotID}]
	sess := s.sessions[id]
	s.mu.Unlock()

	if !ok || sess == nil {
		return false, nil
	}
	defer s.unregister(sess)

	if err := sess.Discard(); err != nil && !stderrors.Is(err, domain.ErrSessionClosed) {
		return true, err
	}
	return true, nil
}

// LoadEvidence returns the slot's committed evidence without payloads.
func (s *CaptureService) LoadEvidence(ctx context.Context, tenantID, slotID string) (domain.EvidenceSet, error) {
	return s.opts.Repository.Load(ctx, tenantID, slotID)
}

// EvidenceContent returns the stored payload of a committed photo.
func (s *CaptureService) EvidenceContent(ctx context.Context, tenantID, slotID, photoID string) ([]byte, string, error) {
	blob, err := s.opts.Repository.Blob(ctx, tenantID, slotID, photoID)
	if err != nil {
		return nil, "", err
	}

	data, err := s.opts.Blobs.Get(ctx, blob.Key)
	if stderrors.Is(err, repository.ErrBlobNotFound) {
		s.logger.Error().Str("blob_key", blob.Key).Msg("evidence row points at a missing blob")
		return nil, "", domain.PhotoNotFound(photoID)
	}
	if err != nil {
		return nil, "", err
	}
	return data, blob.Encoding, nil
}

// Reap forgets closed sessions and discards sessions idle for longer than
// the session TTL. It returns the number of sessions discarded.
func (s *CaptureService) Reap(now time.Time) int {
	s.mu.Lock()
	all := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	ttl := s.opts.Capture.SessionTTL
	reaped := 0
	for _, sess := range all {
		if sess.Closed() {
			s.unregister(sess)
			continue
		}
		if ttl <= 0 || now.Sub(sess.IdleSince()) < ttl {
			continue
		}

		if err := sess.Discard(); err != nil && !stderrors.Is(err, domain.ErrSessionClosed) {
			s.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("failed to release idle session")
		}
		s.unregister(sess)
		reaped++

		s.logger.Info().
			Str("session_id", sess.ID()).
			Str("slot_id", sess.SlotID()).
			Msg("idle capture session discarded")
	}
	return reaped
}

// Count returns the number of registered sessions.
func (s *CaptureService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown discards every open session so camera streams are released.
func (s *CaptureService) Shutdown() {
	s.mu.Lock()
	all := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*session.Session)
	s.slots = make(map[slotKey]string)
	s.mu.Unlock()

	for _, sess := range all {
		if err := sess.Discard(); err != nil && !stderrors.Is(err, domain.ErrSessionClosed) {
			s.logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("failed to release session on shutdown")
		}
	}
}
