package handler

import "github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"

const (
	defaultColor       = "#ff3b30"
	defaultStrokeWidth = 4
)

// OpenSessionRequest represents the request body for opening a session
type OpenSessionRequest struct {
	UseDevice bool `json:"use_device"`
}

// SetVerificationRequest represents a review decision
type SetVerificationRequest struct {
	Status string  `json:"status" validate:"required,oneof=pending approved rejected"`
	Notes  *string `json:"notes" validate:"omitempty,max=2000"`
}

// SelectRequest selects the photo to annotate
type SelectRequest struct {
	PhotoID string `json:"photo_id" validate:"required"`
}

// BeginAnnotationRequest starts a draft at the pointer-down position
type BeginAnnotationRequest struct {
	Kind        string   `json:"kind" validate:"required,oneof=arrow circle rectangle text"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Color       string   `json:"color" validate:"omitempty,hexcolor"`
	StrokeWidth *float64 `json:"stroke_width" validate:"omitempty,gte=0,lte=100"`
	Text        string   `json:"text" validate:"max=500"`
}

func (r BeginAnnotationRequest) style() domain.Style {
	s := domain.Style{Color: r.Color, StrokeWidth: defaultStrokeWidth}
	if s.Color == "" {
		s.Color = defaultColor
	}
	if r.StrokeWidth != nil {
		s.StrokeWidth = *r.StrokeWidth
	}
	return s
}

// PointRequest carries a pointer-move position
type PointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AnnotationsResponse is the annotation layer after undo or redo
type AnnotationsResponse struct {
	Annotations []domain.Annotation `json:"annotations"`
}
