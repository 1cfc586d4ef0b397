package domain

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
)

// Capture error taxonomy. Every constructor below returns an *errors.AppError
// wrapping one of these, so callers match with errors.Is.
var (
	ErrDeviceUnavailable  = stderrors.New("device unavailable")
	ErrUnsupportedFormat  = stderrors.New("unsupported format")
	ErrFileTooLarge       = stderrors.New("file too large")
	ErrAlreadyDrawing     = stderrors.New("already drawing")
	ErrNothingToFinish    = stderrors.New("nothing to finish")
	ErrNothingToUndo      = stderrors.New("nothing to undo")
	ErrNothingToRedo      = stderrors.New("nothing to redo")
	ErrDraftPending       = stderrors.New("draft pending")
	ErrPhotoNotFound      = stderrors.New("photo not found")
	ErrEmptyStore         = stderrors.New("empty store")
	ErrStoreFull          = stderrors.New("store full")
	ErrAnnotationNotFound = stderrors.New("annotation not found")
	ErrInvalidAnnotation  = stderrors.New("invalid annotation")
	ErrSessionBusy        = stderrors.New("session busy")
	ErrSessionClosed      = stderrors.New("session closed")
	ErrLeaseRevoked       = stderrors.New("lease revoked")
)

// DeviceUnavailable reports a camera that cannot be opened or read. The
// cause stays reachable through errors.Is as well.
func DeviceUnavailable(cause error) *errors.AppError {
	err := ErrDeviceUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, cause)
	}
	return errors.Wrap(err, "DEVICE_UNAVAILABLE", "camera is not available", http.StatusServiceUnavailable)
}

func UnsupportedFormat(encoding string) *errors.AppError {
	return errors.Wrap(ErrUnsupportedFormat, "UNSUPPORTED_FORMAT",
		fmt.Sprintf("image encoding %q is not accepted", encoding), http.StatusUnsupportedMediaType).
		WithDetails(map[string]string{"encoding": encoding})
}

func FileTooLarge(size, limit int64) *errors.AppError {
	return errors.Wrap(ErrFileTooLarge, "FILE_TOO_LARGE",
		fmt.Sprintf("image exceeds the %d byte limit", limit), http.StatusRequestEntityTooLarge).
		WithDetails(map[string]string{
			"size_bytes":     fmt.Sprint(size),
			"max_size_bytes": fmt.Sprint(limit),
		})
}

func AlreadyDrawing() *errors.AppError {
	return errors.Wrap(ErrAlreadyDrawing, "ALREADY_DRAWING", "an annotation is already being drawn", http.StatusConflict)
}

func NothingToFinish() *errors.AppError {
	return errors.Wrap(ErrNothingToFinish, "NOTHING_TO_FINISH", "no annotation is being drawn", http.StatusConflict)
}

func NothingToUndo() *errors.AppError {
	return errors.Wrap(ErrNothingToUndo, "NOTHING_TO_UNDO", "nothing to undo", http.StatusConflict)
}

func NothingToRedo() *errors.AppError {
	return errors.Wrap(ErrNothingToRedo, "NOTHING_TO_REDO", "nothing to redo", http.StatusConflict)
}

func DraftPending() *errors.AppError {
	return errors.Wrap(ErrDraftPending, "DRAFT_PENDING", "finish or discard the current annotation first", http.StatusConflict)
}

func PhotoNotFound(id string) *errors.AppError {
	return errors.Wrap(ErrPhotoNotFound, "PHOTO_NOT_FOUND", "photo not found", http.StatusNotFound).
		WithDetails(map[string]string{"photo_id": id})
}

func EmptyStore() *errors.AppError {
	return errors.Wrap(ErrEmptyStore, "EMPTY_STORE", "at least one photo is required", http.StatusUnprocessableEntity)
}

func StoreFull(limit int) *errors.AppError {
	return errors.Wrap(ErrStoreFull, "STORE_FULL",
		fmt.Sprintf("no more than %d photos may be captured", limit), http.StatusConflict)
}

func AnnotationNotFound(id string) *errors.AppError {
	return errors.Wrap(ErrAnnotationNotFound, "ANNOTATION_NOT_FOUND", "annotation not found", http.StatusNotFound).
		WithDetails(map[string]string{"annotation_id": id})
}

func InvalidAnnotation(details map[string]string) *errors.AppError {
	return errors.Wrap(ErrInvalidAnnotation, "INVALID_ANNOTATION", "invalid annotation", http.StatusBadRequest).
		WithDetails(details)
}

func SessionBusy() *errors.AppError {
	return errors.Wrap(ErrSessionBusy, "SESSION_BUSY", "another selection is in progress", http.StatusConflict)
}

func SessionClosed() *errors.AppError {
	return errors.Wrap(ErrSessionClosed, "SESSION_CLOSED", "capture session is closed", http.StatusGone)
}

func LeaseRevoked() *errors.AppError {
	return errors.Wrap(ErrLeaseRevoked, "LEASE_REVOKED", "annotation lease is no longer active", http.StatusConflict)
}
