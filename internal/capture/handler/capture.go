package handler

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/domain"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/session"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/permissions"
	"github.com/kitchenflow/kitchenflow-backend/pkg/tenant"
)

// LeaseHeader carries the annotation lease returned by a selection
const LeaseHeader = "X-Annotation-Lease"

// multipart framing allowance on top of the image size limit
const uploadOverhead = 1 << 20

// CaptureHandler handles capture session endpoints
type CaptureHandler struct {
	service      *service.CaptureService
	maxSizeBytes int64
	logger       *logger.Logger
}

// NewCaptureHandler creates a new capture handler
func NewCaptureHandler(svc *service.CaptureService, maxSizeBytes int64, log *logger.Logger) *CaptureHandler {
	return &CaptureHandler{
		service:      svc,
		maxSizeBytes: maxSizeBytes,
		logger:       log,
	}
}

// RegisterRoutes mounts the capture API on r
func (h *CaptureHandler) RegisterRoutes(r chi.Router) {
	operate := permissions.Require(permissions.CaptureOperate)
	read := permissions.Require(permissions.EvidenceRead)

	r.Route("/slots/{slotID}", func(r chi.Router) {
		r.With(operate).Post("/sessions", h.OpenSession)
		r.With(read).Get("/evidence", h.GetEvidence)
		r.With(read).Get("/evidence/photos/{photoID}/content", h.GetEvidenceContent)
	})

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.With(read).Get("/", h.GetSession)
		r.With(read).Get("/photos/{photoID}/content", h.PhotoContent)
		r.With(permissions.Require(permissions.EvidenceReview)).Put("/photos/{photoID}/verification", h.SetVerification)
		r.With(permissions.Require(permissions.EvidenceCommit)).Post("/commit", h.Commit)

		r.Group(func(r chi.Router) {
			r.Use(operate)
			r.Delete("/", h.DiscardSession)
			r.Post("/capture", h.Capture)
			r.Post("/photos", h.Upload)
			r.Delete("/photos/{photoID}", h.RemovePhoto)

			r.Post("/selection", h.Select)
			r.Route("/annotations", func(r chi.Router) {
				r.Get("/", h.AnnotationState)
				r.Get("/history/{index}", h.Snapshot)
				r.Post("/begin", h.Begin)
				r.Post("/update", h.Update)
				r.Post("/finish", h.Finish)
				r.Post("/cancel", h.Cancel)
				r.Post("/undo", h.Undo)
				r.Post("/redo", h.Redo)
				r.Delete("/{annotationID}", h.DeleteAnnotation)
			})
		})
	})
}

// OpenSession opens and starts a capture session for a slot
func (h *CaptureHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req OpenSessionRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	sess, err := h.service.Open(r.Context(), tenantID, chi.URLParam(r, "slotID"), req.UseDevice)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, sess.Info())
}

// GetSession describes a session; photos are listed without payloads
func (h *CaptureHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.JSON(w, http.StatusOK, sess.Info())
}

// DiscardSession drops a session without persisting
func (h *CaptureHandler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	if err := h.service.Discard(tenantID, chi.URLParam(r, "sessionID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// Commit persists the session's photos as the slot's evidence
func (h *CaptureHandler) Commit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	set, err := h.service.Commit(r.Context(), tenantID, chi.URLParam(r, "sessionID"), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, set)
}

// Capture takes a still from the session's camera
func (h *CaptureHandler) Capture(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	photo, err := sess.CapturePhoto(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, photo)
}

// Upload adds the multipart field "file" as a photo
func (h *CaptureHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSizeBytes+uploadOverhead)
	if err := r.ParseMultipartForm(h.maxSizeBytes + uploadOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			httputil.Error(w, domain.FileTooLarge(r.ContentLength, h.maxSizeBytes))
			return
		}
		httputil.Error(w, errors.BadRequest("invalid multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, errors.BadRequest("missing file field"))
		return
	}
	defer file.Close()

	photo, err := h.service.ImportPhoto(r.Context(), tenantID, chi.URLParam(r, "sessionID"), header.Filename, file, header.Size)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, photo)
}

// PhotoContent streams the payload of a photo in an open session
func (h *CaptureHandler) PhotoContent(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	photo, err := sess.Photo(chi.URLParam(r, "photoID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Inline(w, photo.Encoding, photo.SourceName, photo.Payload)
}

// RemovePhoto removes a photo from the session
func (h *CaptureHandler) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	photoID := chi.URLParam(r, "photoID")
	removed, err := sess.RemovePhoto(photoID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if !removed {
		httputil.Error(w, domain.PhotoNotFound(photoID))
		return
	}
	httputil.NoContent(w)
}

// SetVerification records the reviewer's decision on a photo
func (h *CaptureHandler) SetVerification(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req SetVerificationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	v, err := h.service.SetVerification(r.Context(), tenantID,
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "photoID"),
		domain.Status(req.Status), req.Notes, httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, v)
}

// Select makes a photo the one under annotation and hands out its lease
func (h *CaptureHandler) Select(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SelectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lease, err := sess.SelectForAnnotation(req.PhotoID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	state, err := lease.State()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	w.Header().Set(LeaseHeader, lease.ID())
	httputil.JSON(w, http.StatusOK, state)
}

// AnnotationState returns the leased layer including an open draft
func (h *CaptureHandler) AnnotationState(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	state, err := lease.State()
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, state)
}

// Snapshot returns the annotation layer at a history position
func (h *CaptureHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("history index must be a number"))
		return
	}

	annotations, err := lease.Snapshot(index)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, AnnotationsResponse{Annotations: annotations})
}

// Begin starts a draft annotation
func (h *CaptureHandler) Begin(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	var req BeginAnnotationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	draft, err := lease.Begin(domain.Kind(req.Kind), domain.Point{X: req.X, Y: req.Y}, req.style(), req.Text)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, draft)
}

// Update moves the free point of the draft
func (h *CaptureHandler) Update(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	var req PointRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	draft, err := lease.Update(domain.Point{X: req.X, Y: req.Y})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, draft)
}

// Finish commits the draft to the annotation layer
func (h *CaptureHandler) Finish(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	annotation, err := lease.Finish()
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, annotation)
}

// Cancel drops the draft
func (h *CaptureHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	if err := lease.Cancel(); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// Undo steps the annotation history of the leased photo back one edit
func (h *CaptureHandler) Undo(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	annotations, err := lease.Undo()
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, AnnotationsResponse{Annotations: annotations})
}

// Redo reapplies the next undone annotation edit
func (h *CaptureHandler) Redo(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	annotations, err := lease.Redo()
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, AnnotationsResponse{Annotations: annotations})
}

// DeleteAnnotation removes a finished annotation
func (h *CaptureHandler) DeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.lease(w, r)
	if !ok {
		return
	}

	if err := lease.Delete(chi.URLParam(r, "annotationID")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetEvidence returns the slot's committed evidence
func (h *CaptureHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	set, err := h.service.LoadEvidence(r.Context(), tenantID, chi.URLParam(r, "slotID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, set)
}

// GetEvidenceContent streams the stored payload of a committed photo
func (h *CaptureHandler) GetEvidenceContent(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return
	}

	photoID := chi.URLParam(r, "photoID")
	data, encoding, err := h.service.EvidenceContent(r.Context(), tenantID, chi.URLParam(r, "slotID"), photoID)
	if err != nil {
		h.logger.Debug().Err(err).Str("photo_id", photoID).Msg("evidence content unavailable")
		httputil.Error(w, err)
		return
	}
	httputil.Inline(w, encoding, photoID, data)
}

func (h *CaptureHandler) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, errors.Forbidden("missing tenant context"))
		return "", false
	}
	return tenantID, true
}

func (h *CaptureHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	tenantID, ok := h.tenant(w, r)
	if !ok {
		return nil, false
	}

	sess, err := h.service.Get(tenantID, chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.Error(w, err)
		return nil, false
	}
	return sess, true
}

func (h *CaptureHandler) lease(w http.ResponseWriter, r *http.Request) (*session.Lease, bool) {
	sess, ok := h.session(w, r)
	if !ok {
		return nil, false
	}

	leaseID := r.Header.Get(LeaseHeader)
	if leaseID == "" {
		httputil.Error(w, errors.BadRequest("missing "+LeaseHeader+" header"))
		return nil, false
	}

	lease, err := sess.Lease(leaseID)
	if err != nil {
		httputil.Error(w, err)
		return nil, false
	}
	return lease, true
}
