package annotation

import (
	"slices"

	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
)

type op int

const (
	opAdd op = iota
	opRemove
)

// edit is one node of the append-only history log. Replaying the first n
// edits over the base snapshot yields snapshot n.
type edit struct {
	op         op
	index      int
	annotation domain.Annotation
}

// apply returns a new slice with e applied to anns. anns is not modified.
func (e edit) apply(anns []domain.Annotation) []domain.Annotation {
	out := domain.CloneAnnotations(anns)
	switch e.op {
	case opAdd:
		return slices.Insert(out, e.index, e.annotation.Clone())
	case opRemove:
		return slices.Delete(out, e.index, e.index+1)
	}
	return out
}

// revert undoes e on anns, which must be the result of applying e.
func (e edit) revert(anns []domain.Annotation) []domain.Annotation {
	out := domain.CloneAnnotations(anns)
	switch e.op {
	case opAdd:
		return slices.Delete(out, e.index, e.index+1)
	case opRemove:
		return slices.Insert(out, e.index, e.annotation.Clone())
	}
	return out
}

// history is a linear undo model stored as a diff log and a cursor. Snapshot
// i is base with log[:i] applied; the cursor always names the current one.
type history struct {
	base   []domain.Annotation
	log    []edit
	cursor int
	limit  int
}

func newHistory(base []domain.Annotation, limit int) *history {
	return &history{base: domain.CloneAnnotations(base), limit: limit}
}

// push truncates any redo entries past the cursor and appends e. When a
// limit is set the oldest edits are folded into the base.
func (h *history) push(e edit) {
	h.log = append(h.log[:h.cursor], e)
	h.cursor++

	for h.limit > 0 && len(h.log) > h.limit {
		h.base = h.log[0].apply(h.base)
		h.log = h.log[1:]
		h.cursor--
	}
}

func (h *history) canUndo() bool { return h.cursor > 0 }

func (h *history) canRedo() bool { return h.cursor < len(h.log) }

// snapshots counts the snapshots reachable from the base.
func (h *history) snapshots() int { return len(h.log) + 1 }

// at materializes snapshot i by replay.
func (h *history) at(i int) []domain.Annotation {
	anns := domain.CloneAnnotations(h.base)
	for _, e := range h.log[:i] {
		anns = e.apply(anns)
	}
	return anns
}
