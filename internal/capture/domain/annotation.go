package domain

// Kind is the shape of an annotation.
type Kind string

const (
	KindArrow     Kind = "arrow"
	KindCircle    Kind = "circle"
	KindRectangle Kind = "rectangle"
	KindText      Kind = "text"
)

// IsValid returns true if the kind is a recognized value.
func (k Kind) IsValid() bool {
	switch k {
	case KindArrow, KindCircle, KindRectangle, KindText:
		return true
	}
	return false
}

// HasExtent reports whether a finished annotation of this kind carries an extent.
func (k Kind) HasExtent() bool {
	return k == KindArrow || k == KindCircle || k == KindRectangle
}

// Point is a position in photo-local coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Extent is the width and height spanned by a shape from its anchor.
type Extent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Style is fixed when an annotation is begun.
type Style struct {
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"stroke_width"`
}

// Annotation is one vector mark over a photo. Rendering is left to the
// display surface; only the shape descriptor is kept here.
type Annotation struct {
	ID     string  `json:"id"`
	Kind   Kind    `json:"kind"`
	Anchor Point   `json:"anchor"`
	Extent *Extent `json:"extent,omitempty"`
	Text   string  `json:"text,omitempty"`
	Style  Style   `json:"style"`
}

// Clone returns a copy that does not share the extent pointer.
func (a Annotation) Clone() Annotation {
	if a.Extent != nil {
		e := *a.Extent
		a.Extent = &e
	}
	return a
}

// CloneAnnotations deep-copies a slice of annotations. The result is never nil.
func CloneAnnotations(in []Annotation) []Annotation {
	out := make([]Annotation, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}
