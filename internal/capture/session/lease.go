package session

import (
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/annotation"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

// Lease is the exclusive right to edit the annotations of the active photo.
// It stops working once another photo is selected, the photo leaves the
// store, or the session closes.
type Lease struct {
	id      string
	photoID string
	session *Session
	engine  *annotation.Engine
}

// ID identifies the lease to remote holders.
func (l *Lease) ID() string { return l.id }

// PhotoID returns the photo the lease edits.
func (l *Lease) PhotoID() string { return l.photoID }

// LeaseState describes the annotation layer a lease edits.
type LeaseState struct {
	LeaseID     string              `json:"lease_id"`
	PhotoID     string              `json:"photo_id"`
	Annotations []domain.Annotation `json:"annotations"`
	Draft       *domain.Annotation  `json:"draft,omitempty"`
	Cursor      int                 `json:"cursor"`
	CanUndo     bool                `json:"can_undo"`
	CanRedo     bool                `json:"can_redo"`
}

// SelectForAnnotation makes photoID the active photo and returns a lease on
// it, revoking any previous lease. Switching away from a photo with an open
// draft fails with DraftPending; selecting the active photo again hands out
// a fresh lease on the same layer, draft included. A selection attempted
// while another one is in progress fails with SessionBusy.
func (s *Session) SelectForAnnotation(photoID string) (*Lease, error) {
	if !s.selecting.TryLock() {
		return nil, domain.SessionBusy()
	}
	defer s.selecting.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return nil, err
	}

	photo, ok := s.store.Get(photoID)
	if !ok {
		return nil, domain.PhotoNotFound(photoID)
	}
	if s.active != nil && s.active.photoID != photoID && s.active.engine.Drawing() {
		return nil, domain.DraftPending()
	}

	engine, ok := s.engines[photoID]
	if !ok {
		engine = annotation.NewEngine(photoID, photo.Annotations, s.store, annotation.Options{
			MaxHistory: s.maxHistory,
			NewID:      s.newID,
		})
		s.engines[photoID] = engine
	}

	lease := &Lease{
		id:      s.newID(),
		photoID: photoID,
		session: s,
		engine:  engine,
	}
	s.active = lease

	s.logger.Debug().Str("photo_id", photoID).Str("lease_id", lease.id).Msg("photo selected for annotation")
	return lease, nil
}

// Lease returns the active lease if its id is leaseID.
func (s *Session) Lease(leaseID string) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return nil, err
	}
	if s.active == nil || s.active.id != leaseID {
		return nil, domain.LeaseRevoked()
	}
	return s.active, nil
}

// Active returns the id of the photo under annotation, if any.
func (s *Session) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return "", false
	}
	return s.active.photoID, true
}

// do runs fn on the engine while the lease is valid.
func (l *Lease) do(fn func(e *annotation.Engine) error) error {
	s := l.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.use(); err != nil {
		return err
	}
	if s.active != l {
		return domain.LeaseRevoked()
	}
	return fn(l.engine)
}

// Begin starts a draft annotation at anchor.
func (l *Lease) Begin(kind domain.Kind, anchor domain.Point, style domain.Style, text string) (domain.Annotation, error) {
	var out domain.Annotation
	err := l.do(func(e *annotation.Engine) (err error) {
		out, err = e.Begin(kind, anchor, style, text)
		return err
	})
	return out, err
}

// Update moves the draft's free corner to point.
func (l *Lease) Update(point domain.Point) (domain.Annotation, error) {
	var out domain.Annotation
	err := l.do(func(e *annotation.Engine) (err error) {
		out, err = e.Update(point)
		return err
	})
	return out, err
}

// Finish commits the draft to the photo.
func (l *Lease) Finish() (domain.Annotation, error) {
	var out domain.Annotation
	err := l.do(func(e *annotation.Engine) (err error) {
		out, err = e.Finish()
		return err
	})
	return out, err
}

// Cancel drops the draft without touching history.
func (l *Lease) Cancel() error {
	return l.do(func(e *annotation.Engine) error {
		return e.Cancel()
	})
}

// Delete removes a committed annotation.
func (l *Lease) Delete(annotationID string) error {
	return l.do(func(e *annotation.Engine) error {
		return e.Delete(annotationID)
	})
}

// Undo steps the history back one edit.
func (l *Lease) Undo() ([]domain.Annotation, error) {
	var out []domain.Annotation
	err := l.do(func(e *annotation.Engine) (err error) {
		out, err = e.Undo()
		return err
	})
	return out, err
}

// Redo reapplies the next undone edit.
func (l *Lease) Redo() ([]domain.Annotation, error) {
	var out []domain.Annotation
	err := l.do(func(e *annotation.Engine) (err error) {
		out, err = e.Redo()
		return err
	})
	return out, err
}

// Annotations returns the current annotations of the leased photo.
func (l *Lease) Annotations() ([]domain.Annotation, error) {
	var out []domain.Annotation
	err := l.do(func(e *annotation.Engine) error {
		out = e.Annotations()
		return nil
	})
	return out, err
}

// State describes the leased layer, including an open draft.
func (l *Lease) State() (LeaseState, error) {
	var st LeaseState
	err := l.do(func(e *annotation.Engine) error {
		st = LeaseState{
			LeaseID:     l.id,
			PhotoID:     l.photoID,
			Annotations: e.Annotations(),
			Cursor:      e.Cursor(),
			CanUndo:     e.CanUndo(),
			CanRedo:     e.CanRedo(),
		}
		if d, ok := e.Draft(); ok {
			st.Draft = &d
		}
		return nil
	})
	return st, err
}

// Snapshot returns history snapshot i of the leased photo.
func (l *Lease) Snapshot(i int) ([]domain.Annotation, error) {
	var out []domain.Annotation
	err := l.do(func(e *annotation.Engine) error {
		snap, ok := e.SnapshotAt(i)
		if !ok {
			return errors.BadRequest("snapshot index out of range")
		}
		out = snap
		return nil
	})
	return out, err
}
