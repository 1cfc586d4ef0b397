// Package annotation maintains the vector annotation layer of a photo: a
// two-state drawing machine (idle, drawing) plus linear undo/redo.
package annotation

import (
	"math"

	"github.com/google/uuid"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
)

// Sink receives the annotation set of a photo every time it changes.
// PhotoStore implements it.
type Sink interface {
	UpdateAnnotations(photoID string, annotations []domain.Annotation) error
}

// Options tunes an Engine.
type Options struct {
	// MaxHistory bounds the number of undoable edits; zero keeps everything.
	MaxHistory int
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Engine is the annotation layer of one photo. It is not safe for concurrent
// use; callers serialize access (see session.Lease).
type Engine struct {
	photoID string
	sink    Sink
	newID   func() string

	history *history
	current []domain.Annotation
	draft   *domain.Annotation
}

// NewEngine starts an engine over the photo's existing annotations, which
// become the oldest snapshot. A nil sink keeps the layer in memory only.
func NewEngine(photoID string, initial []domain.Annotation, sink Sink, opts Options) *Engine {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		photoID: photoID,
		sink:    sink,
		newID:   opts.NewID,
		history: newHistory(initial, opts.MaxHistory),
		current: domain.CloneAnnotations(initial),
	}
}

// PhotoID returns the photo this engine annotates.
func (e *Engine) PhotoID() string {
	return e.photoID
}

// Begin starts a draft at anchor and moves to drawing.
func (e *Engine) Begin(kind domain.Kind, anchor domain.Point, style domain.Style, text string) (domain.Annotation, error) {
	if e.draft != nil {
		return domain.Annotation{}, domain.AlreadyDrawing()
	}
	if details := validateDraft(kind, anchor, style, text); len(details) > 0 {
		return domain.Annotation{}, domain.InvalidAnnotation(details)
	}

	draft := domain.Annotation{
		ID:     e.newID(),
		Kind:   kind,
		Anchor: anchor,
		Style:  style,
	}
	if kind == domain.KindText {
		draft.Text = text
	}
	e.draft = &draft

	return draft.Clone(), nil
}

// Update stretches the draft to point. Text drafts do not change.
// Intermediate updates are not recorded in history.
func (e *Engine) Update(point domain.Point) (domain.Annotation, error) {
	if e.draft == nil {
		return domain.Annotation{}, domain.NothingToFinish()
	}
	if !finite(point) {
		return domain.Annotation{}, domain.InvalidAnnotation(map[string]string{"point": "must be finite"})
	}

	if e.draft.Kind.HasExtent() {
		e.draft.Extent = &domain.Extent{
			Width:  math.Abs(point.X - e.draft.Anchor.X),
			Height: math.Abs(point.Y - e.draft.Anchor.Y),
		}
	}
	return e.draft.Clone(), nil
}

// Finish commits the draft as the newest annotation and returns to idle.
// Redo entries past the cursor are discarded.
func (e *Engine) Finish() (domain.Annotation, error) {
	if e.draft == nil {
		return domain.Annotation{}, domain.NothingToFinish()
	}

	committed := e.draft.Clone()
	if committed.Kind.HasExtent() && committed.Extent == nil {
		committed.Extent = &domain.Extent{}
	}

	if err := e.record(edit{op: opAdd, index: len(e.current), annotation: committed}); err != nil {
		return domain.Annotation{}, err
	}
	e.draft = nil

	return committed.Clone(), nil
}

// Cancel drops the draft without touching history.
func (e *Engine) Cancel() error {
	if e.draft == nil {
		return domain.NothingToFinish()
	}
	e.draft = nil
	return nil
}

// Delete removes the annotation with the given id as a new history entry.
func (e *Engine) Delete(id string) error {
	for i, a := range e.current {
		if a.ID == id {
			return e.record(edit{op: opRemove, index: i, annotation: a.Clone()})
		}
	}
	return domain.AnnotationNotFound(id)
}

// Undo steps back one snapshot and returns the annotations now current.
func (e *Engine) Undo() ([]domain.Annotation, error) {
	if !e.history.canUndo() {
		return nil, domain.NothingToUndo()
	}

	prev := e.history.log[e.history.cursor-1].revert(e.current)
	if err := e.publish(prev); err != nil {
		return nil, err
	}
	e.history.cursor--
	e.current = prev

	return e.Annotations(), nil
}

// Redo steps forward one snapshot and returns the annotations now current.
func (e *Engine) Redo() ([]domain.Annotation, error) {
	if !e.history.canRedo() {
		return nil, domain.NothingToRedo()
	}

	next := e.history.log[e.history.cursor].apply(e.current)
	if err := e.publish(next); err != nil {
		return nil, err
	}
	e.history.cursor++
	e.current = next

	return e.Annotations(), nil
}

// Annotations returns a copy of the current annotation set.
func (e *Engine) Annotations() []domain.Annotation {
	return domain.CloneAnnotations(e.current)
}

// Drawing reports whether a draft is open.
func (e *Engine) Drawing() bool {
	return e.draft != nil
}

// Draft returns the open draft, if any.
func (e *Engine) Draft() (domain.Annotation, bool) {
	if e.draft == nil {
		return domain.Annotation{}, false
	}
	return e.draft.Clone(), true
}

// Cursor returns the index of the current snapshot.
func (e *Engine) Cursor() int {
	return e.history.cursor
}

// Len returns the number of snapshots in history, including the oldest.
func (e *Engine) Len() int {
	return e.history.snapshots()
}

// CanUndo reports whether Undo would succeed.
func (e *Engine) CanUndo() bool {
	return e.history.canUndo()
}

// CanRedo reports whether Redo would succeed.
func (e *Engine) CanRedo() bool {
	return e.history.canRedo()
}

// SnapshotAt materializes snapshot i, 0 <= i < Len().
func (e *Engine) SnapshotAt(i int) ([]domain.Annotation, bool) {
	if i < 0 || i >= e.history.snapshots() {
		return nil, false
	}
	return e.history.at(i), true
}

// record publishes the result of ed and only then pushes it, so a failed
// write-back leaves both the layer and the history untouched.
func (e *Engine) record(ed edit) error {
	next := ed.apply(e.current)
	if err := e.publish(next); err != nil {
		return err
	}
	e.history.push(ed)
	e.current = next
	return nil
}

func (e *Engine) publish(anns []domain.Annotation) error {
	if e.sink == nil {
		return nil
	}
	return e.sink.UpdateAnnotations(e.photoID, anns)
}

func validateDraft(kind domain.Kind, anchor domain.Point, style domain.Style, text string) map[string]string {
	details := make(map[string]string)
	if !kind.IsValid() {
		details["kind"] = "must be one of: arrow circle rectangle text"
	}
	if kind == domain.KindText && text == "" {
		details["text"] = "is required for text annotations"
	}
	if kind != domain.KindText && text != "" {
		details["text"] = "is only allowed on text annotations"
	}
	if !finite(anchor) {
		details["anchor"] = "must be finite"
	}
	if style.StrokeWidth < 0 || math.IsNaN(style.StrokeWidth) || math.IsInf(style.StrokeWidth, 0) {
		details["stroke_width"] = "must be a non-negative number"
	}
	return details
}

func finite(p domain.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
