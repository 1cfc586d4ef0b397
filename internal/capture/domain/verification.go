package domain

import "time"

// Status represents the review state of a photo.
type Status string

const (
	// StatusPending is the state of every freshly captured photo.
	StatusPending Status = "pending"

	// StatusApproved means the reviewer accepted the photo as evidence.
	StatusApproved Status = "approved"

	// StatusRejected means the reviewer refused the photo.
	StatusRejected Status = "rejected"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Verification is the review decision recorded on a photo.
type Verification struct {
	Status     Status     `json:"status"`
	Notes      *string    `json:"notes,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// NewVerification returns the verification every photo starts with.
func NewVerification() Verification {
	return Verification{Status: StatusPending}
}

// Matches reports whether the verification already holds status and notes.
func (v Verification) Matches(status Status, notes *string) bool {
	if v.Status != status {
		return false
	}
	if v.Notes == nil || notes == nil {
		return v.Notes == nil && notes == nil
	}
	return *v.Notes == *notes
}

// Clone returns a copy that does not share pointers with v.
func (v Verification) Clone() Verification {
	if v.Notes != nil {
		n := *v.Notes
		v.Notes = &n
	}
	if v.ReviewedAt != nil {
		t := *v.ReviewedAt
		v.ReviewedAt = &t
	}
	return v
}
