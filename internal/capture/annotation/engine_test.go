package annotation_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/annotation"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	apperrors "github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var red = domain.Style{Color: "#e53935", StrokeWidth: 3}

// recordingSink remembers the last annotation set per photo and can be told to fail.
type recordingSink struct {
	last  map[string][]domain.Annotation
	calls int
	err   error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{last: make(map[string][]domain.Annotation)}
}

func (s *recordingSink) UpdateAnnotations(photoID string, anns []domain.Annotation) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.last[photoID] = domain.CloneAnnotations(anns)
	return nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("a%d", n)
	}
}

func newEngine(sink annotation.Sink) *annotation.Engine {
	return annotation.NewEngine("photo-1", nil, sink, annotation.Options{NewID: sequentialIDs()})
}

// draw runs a full begin/update/finish gesture.
func draw(t *testing.T, e *annotation.Engine, kind domain.Kind, from, to domain.Point) domain.Annotation {
	t.Helper()
	_, err := e.Begin(kind, from, red, "")
	require.NoError(t, err)
	_, err = e.Update(to)
	require.NoError(t, err)
	a, err := e.Finish()
	require.NoError(t, err)
	return a
}

func kinds(anns []domain.Annotation) []domain.Kind {
	out := make([]domain.Kind, len(anns))
	for i, a := range anns {
		out[i] = a.Kind
	}
	return out
}

func TestEngine_DrawGesture(t *testing.T) {
	sink := newRecordingSink()
	e := newEngine(sink)

	draft, err := e.Begin(domain.KindRectangle, domain.Point{X: 50, Y: 40}, red, "")
	require.NoError(t, err)
	assert.Equal(t, "a1", draft.ID)
	assert.Nil(t, draft.Extent)
	assert.True(t, e.Drawing())

	// dragging up and left still yields a positive extent
	updated, err := e.Update(domain.Point{X: 20, Y: 10})
	require.NoError(t, err)
	require.NotNil(t, updated.Extent)
	assert.Equal(t, domain.Extent{Width: 30, Height: 30}, *updated.Extent)

	_, err = e.Update(domain.Point{X: 60, Y: 45})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Len(), "updates must not create history entries")

	committed, err := e.Finish()
	require.NoError(t, err)
	assert.False(t, e.Drawing())
	assert.Equal(t, domain.Extent{Width: 10, Height: 5}, *committed.Extent)
	assert.Equal(t, red, committed.Style)

	assert.Equal(t, []domain.Annotation{committed}, e.Annotations())
	assert.Equal(t, e.Annotations(), sink.last["photo-1"])
	assert.Equal(t, 1, sink.calls, "only the finished shape is written back")
	assert.Equal(t, 1, e.Cursor())
	assert.Equal(t, 2, e.Len())
}

func TestEngine_TextAnnotation(t *testing.T) {
	e := newEngine(nil)

	_, err := e.Begin(domain.KindText, domain.Point{X: 5, Y: 5}, red, "grease build-up")
	require.NoError(t, err)
	draft, err := e.Update(domain.Point{X: 100, Y: 100})
	require.NoError(t, err)
	assert.Nil(t, draft.Extent)

	a, err := e.Finish()
	require.NoError(t, err)
	assert.Equal(t, "grease build-up", a.Text)
	assert.Nil(t, a.Extent)
}

func TestEngine_FinishWithoutUpdateGetsZeroExtent(t *testing.T) {
	e := newEngine(nil)

	_, err := e.Begin(domain.KindCircle, domain.Point{X: 1, Y: 1}, red, "")
	require.NoError(t, err)
	a, err := e.Finish()
	require.NoError(t, err)

	require.NotNil(t, a.Extent)
	assert.Equal(t, domain.Extent{}, *a.Extent)
}

func TestEngine_StateMachineErrors(t *testing.T) {
	e := newEngine(nil)

	_, err := e.Finish()
	assert.ErrorIs(t, err, domain.ErrNothingToFinish)
	_, err = e.Update(domain.Point{X: 1, Y: 1})
	assert.ErrorIs(t, err, domain.ErrNothingToFinish)
	assert.ErrorIs(t, e.Cancel(), domain.ErrNothingToFinish)

	_, err = e.Begin(domain.KindArrow, domain.Point{}, red, "")
	require.NoError(t, err)
	_, err = e.Begin(domain.KindCircle, domain.Point{}, red, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyDrawing)

	require.NoError(t, e.Cancel())
	assert.False(t, e.Drawing())
	assert.Empty(t, e.Annotations())
	assert.Equal(t, 0, e.Cursor())
}

func TestEngine_InvalidDrafts(t *testing.T) {
	tests := []struct {
		name  string
		kind  domain.Kind
		style domain.Style
		text  string
		field string
	}{
		{"unknown kind", domain.Kind("star"), red, "", "kind"},
		{"text without text", domain.KindText, red, "", "text"},
		{"text on a shape", domain.KindCircle, red, "hello", "text"},
		{"negative stroke", domain.KindArrow, domain.Style{Color: "#000", StrokeWidth: -1}, "", "stroke_width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(nil)
			_, err := e.Begin(tt.kind, domain.Point{}, tt.style, tt.text)
			require.ErrorIs(t, err, domain.ErrInvalidAnnotation)
			assert.False(t, e.Drawing())

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Contains(t, appErr.Details, tt.field)
		})
	}
}

func TestEngine_UndoRedo(t *testing.T) {
	e := newEngine(nil)

	_, err := e.Undo()
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)
	_, err = e.Redo()
	assert.ErrorIs(t, err, domain.ErrNothingToRedo)

	draw(t, e, domain.KindCircle, domain.Point{X: 10, Y: 10}, domain.Point{X: 20, Y: 20})
	draw(t, e, domain.KindArrow, domain.Point{X: 0, Y: 0}, domain.Point{X: 5, Y: 5})

	anns, err := e.Undo()
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindCircle}, kinds(anns))
	assert.True(t, e.CanRedo())

	anns, err = e.Redo()
	require.NoError(t, err)
	assert.Equal(t, []domain.Kind{domain.KindCircle, domain.KindArrow}, kinds(anns))

	_, err = e.Redo()
	assert.ErrorIs(t, err, domain.ErrNothingToRedo)
}

func TestEngine_EditAfterUndoTruncatesRedo(t *testing.T) {
	e := newEngine(nil)
	draw(t, e, domain.KindCircle, domain.Point{}, domain.Point{X: 1, Y: 1})
	draw(t, e, domain.KindArrow, domain.Point{}, domain.Point{X: 1, Y: 1})
	draw(t, e, domain.KindRectangle, domain.Point{}, domain.Point{X: 1, Y: 1})

	_, err := e.Undo()
	require.NoError(t, err)
	_, err = e.Undo()
	require.NoError(t, err)
	require.Equal(t, 4, e.Len())

	_, err = e.Begin(domain.KindText, domain.Point{}, red, "new edit")
	require.NoError(t, err)
	_, err = e.Finish()
	require.NoError(t, err)

	assert.Equal(t, 3, e.Len())
	assert.Equal(t, 2, e.Cursor())
	assert.False(t, e.CanRedo())
	_, err = e.Redo()
	assert.ErrorIs(t, err, domain.ErrNothingToRedo)
	assert.Equal(t, []domain.Kind{domain.KindCircle, domain.KindText}, kinds(e.Annotations()))
}

func TestEngine_DeleteAndUndoRestoresPosition(t *testing.T) {
	e := newEngine(nil)
	first := draw(t, e, domain.KindCircle, domain.Point{}, domain.Point{X: 1, Y: 1})
	second := draw(t, e, domain.KindArrow, domain.Point{}, domain.Point{X: 1, Y: 1})
	third := draw(t, e, domain.KindRectangle, domain.Point{}, domain.Point{X: 1, Y: 1})

	require.NoError(t, e.Delete(second.ID))
	assert.Equal(t, []domain.Annotation{first, third}, e.Annotations())

	_, err := e.Undo()
	require.NoError(t, err)
	assert.Equal(t, []domain.Annotation{first, second, third}, e.Annotations())

	assert.ErrorIs(t, e.Delete("missing"), domain.ErrAnnotationNotFound)
}

func TestEngine_DeleteAfterUndoTruncates(t *testing.T) {
	e := newEngine(nil)
	first := draw(t, e, domain.KindCircle, domain.Point{}, domain.Point{X: 1, Y: 1})
	draw(t, e, domain.KindArrow, domain.Point{}, domain.Point{X: 1, Y: 1})

	_, err := e.Undo()
	require.NoError(t, err)
	require.NoError(t, e.Delete(first.ID))

	assert.False(t, e.CanRedo())
	assert.Empty(t, e.Annotations())
}

func TestEngine_RoundTripLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	allKinds := []domain.Kind{domain.KindArrow, domain.KindCircle, domain.KindRectangle}

	for run := 0; run < 50; run++ {
		e := newEngine(nil)
		for step := 0; step < 25; step++ {
			current := e.Annotations()
			if len(current) > 0 && rng.Intn(3) == 0 {
				victim := current[rng.Intn(len(current))]
				require.NoError(t, e.Delete(victim.ID))
			} else {
				kind := allKinds[rng.Intn(len(allKinds))]
				draw(t, e, kind,
					domain.Point{X: float64(rng.Intn(500)), Y: float64(rng.Intn(500))},
					domain.Point{X: float64(rng.Intn(500)), Y: float64(rng.Intn(500))})
			}
			snap, ok := e.SnapshotAt(e.Cursor())
			require.True(t, ok)
			require.Equal(t, e.Annotations(), snap)
		}

		final := e.Annotations()
		for e.CanUndo() {
			_, err := e.Undo()
			require.NoError(t, err)
		}
		assert.Empty(t, e.Annotations())
		assert.Equal(t, 0, e.Cursor())

		for e.CanRedo() {
			_, err := e.Redo()
			require.NoError(t, err)
		}
		assert.Equal(t, final, e.Annotations(), "run %d", run)
	}
}

func TestEngine_SinkFailureIsAtomic(t *testing.T) {
	sink := newRecordingSink()
	e := newEngine(sink)
	draw(t, e, domain.KindCircle, domain.Point{}, domain.Point{X: 2, Y: 2})

	sink.err = errors.New("photo evicted")

	_, err := e.Begin(domain.KindArrow, domain.Point{}, red, "")
	require.NoError(t, err)
	_, err = e.Finish()
	require.Error(t, err)
	assert.True(t, e.Drawing(), "draft survives a failed commit")
	assert.Equal(t, 2, e.Len())
	assert.Len(t, e.Annotations(), 1)

	_, err = e.Undo()
	require.Error(t, err)
	assert.Equal(t, 1, e.Cursor())
	assert.Len(t, e.Annotations(), 1)
}

func TestEngine_MaxHistoryFoldsOldest(t *testing.T) {
	e := annotation.NewEngine("photo-1", nil, nil, annotation.Options{MaxHistory: 2, NewID: sequentialIDs()})
	draw(t, e, domain.KindCircle, domain.Point{}, domain.Point{X: 1, Y: 1})
	draw(t, e, domain.KindArrow, domain.Point{}, domain.Point{X: 1, Y: 1})
	draw(t, e, domain.KindRectangle, domain.Point{}, domain.Point{X: 1, Y: 1})

	assert.Equal(t, 3, e.Len())
	assert.Equal(t, 2, e.Cursor())

	_, err := e.Undo()
	require.NoError(t, err)
	_, err = e.Undo()
	require.NoError(t, err)
	_, err = e.Undo()
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)

	// the folded circle is now part of the oldest snapshot
	assert.Equal(t, []domain.Kind{domain.KindCircle}, kinds(e.Annotations()))
}

func TestEngine_StartsFromExistingAnnotations(t *testing.T) {
	existing := []domain.Annotation{{ID: "old", Kind: domain.KindText, Text: "prior note", Style: red}}
	e := annotation.NewEngine("photo-1", existing, nil, annotation.Options{})

	assert.Equal(t, existing, e.Annotations())
	_, err := e.Undo()
	assert.ErrorIs(t, err, domain.ErrNothingToUndo)

	require.NoError(t, e.Delete("old"))
	assert.Empty(t, e.Annotations())
	_, err = e.Undo()
	require.NoError(t, err)
	assert.Equal(t, existing, e.Annotations())
}

func TestEngine_SnapshotAtBounds(t *testing.T) {
	e := newEngine(nil)
	_, ok := e.SnapshotAt(1)
	assert.False(t, ok)
	_, ok = e.SnapshotAt(-1)
	assert.False(t, ok)

	snap, ok := e.SnapshotAt(0)
	require.True(t, ok)
	assert.Empty(t, snap)
}
