package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/attachment-store/attachment"
	"github.com/ruteri/attachment-store/interfaces"
)

const (
	// DefaultMaxUploadSize bounds multipart request bodies (64MB).
	DefaultMaxUploadSize = 64 << 20

	// multipartMemory is the part of a form kept in memory before spilling to disk.
	multipartMemory = 8 << 20

	// maxBodySize is the maximum allowed JSON request body size (1MB).
	maxBodySize = 1024 * 1024
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// AttachmentResponse is the JSON form of an attachment.
type AttachmentResponse struct {
	ID                int64             `json:"id"`
	Filename          string            `json:"filename"`
	ContentType       string            `json:"content_type"`
	Filesize          int64             `json:"filesize"`
	StorageSystemName string            `json:"storage_system_name"`
	Owner             interfaces.Owner  `json:"owner"`
	Relationship      string            `json:"relationship"`
	Position          *int              `json:"position,omitempty"`
	Active            bool              `json:"active"`
	Private           bool              `json:"private"`
	URL               string            `json:"url,omitempty"`
	Representations   map[string]string `json:"representations"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// RepresentationResponse carries the URL of a representation.
type RepresentationResponse struct {
	URL string `json:"url"`
}

// MigrateRequest is the body of POST /api/attachments/{id}/migrate.
type MigrateRequest struct {
	Storage string `json:"storage"`
}

// Handler processes HTTP requests for the attachment service.
type Handler struct {
	svc           *attachment.Service
	log           *slog.Logger
	maxUploadSize int64
}

// NewHandler creates a new HTTP request handler backed by svc.
func NewHandler(svc *attachment.Service, log *slog.Logger) *Handler {
	return &Handler{
		svc:           svc,
		log:           log,
		maxUploadSize: DefaultMaxUploadSize,
	}
}

// WithMaxUploadSize overrides the multipart body limit.
func (h *Handler) WithMaxUploadSize(n int64) *Handler {
	h.maxUploadSize = n
	return h
}

// HandleUpload stores a new attachment.
//
// URL format: POST /api/attachments
// Form fields: file, owner_kind, owner_id, relationship, storage (optional)
//
// Response: 201 with the attachment JSON.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	owner, relationship, file, header, err := h.parseUploadForm(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer file.Close()

	upload := attachment.NewUpload(file, header.Filename, header.Header.Get("Content-Type"), header.Size)
	att, err := h.svc.Attach(r.Context(), owner, relationship, upload, r.FormValue("storage"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if att == nil {
		h.writeError(w, r, badRequest("uploaded file is empty"))
		return
	}

	h.log.Info("Attachment uploaded",
		slog.Int64("attachmentID", att.ID),
		slog.String("owner", owner.String()),
		slog.String("relationship", relationship),
		slog.String("storage", att.StorageSystemName))
	h.writeJSON(w, http.StatusCreated, h.attachmentResponse(att))
}

// HandleReplaceData swaps the file of an attachment.
//
// URL format: POST /api/attachments/{id}/data
// Form fields: file, owner_kind, owner_id, relationship
func (h *Handler) HandleReplaceData(w http.ResponseWriter, r *http.Request) {
	id, err := attachmentID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	owner, relationship, file, header, err := h.parseUploadForm(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer file.Close()

	upload := attachment.NewUpload(file, header.Filename, header.Header.Get("Content-Type"), header.Size)
	att, err := h.svc.ReplaceData(r.Context(), owner, relationship, id, upload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.attachmentResponse(att))
}

// HandleGet returns attachment metadata.
//
// URL format: GET /api/attachments/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	att, err := h.loadAttachment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.attachmentResponse(att))
}

// HandleRepresentation returns the URL of a representation, generating it on
// first request. Every query parameter except redirect becomes a
// representation option.
//
// URL format: GET /api/attachments/{id}/representations/{type}?width=100&extension=jpg[&redirect=true]
//
// A representation that cannot be produced, including one whose artifact
// could not be stored, is reported as 404.
func (h *Handler) HandleRepresentation(w http.ResponseWriter, r *http.Request) {
	att, err := h.loadAttachment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rtype := chi.URLParam(r, "type")
	query := r.URL.Query()
	redirect, _ := strconv.ParseBool(query.Get("redirect"))
	query.Del("redirect")

	opts := make(interfaces.RepresentationOptions, len(query))
	for name := range query {
		opts[name] = query.Get(name)
	}

	url, ok, err := h.svc.RepresentationURL(r.Context(), att, rtype, opts)
	if err != nil {
		var serr *interfaces.StorageError
		if !errors.As(err, &serr) {
			h.writeError(w, r, err)
			return
		}
		h.log.Warn("Representation could not be stored",
			slog.Int64("attachmentID", att.ID),
			slog.String("type", rtype),
			"err", err)
		ok = false
	}
	if !ok {
		http.Error(w, "Representation not available", http.StatusNotFound)
		return
	}

	if redirect {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	h.writeJSON(w, http.StatusOK, RepresentationResponse{URL: url})
}

// HandleMigrate moves an attachment to another storage backend.
//
// URL format: POST /api/attachments/{id}/migrate
// Request body: {"storage": "archive"}
func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	att, err := h.loadAttachment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req MigrateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	if req.Storage == "" {
		h.writeError(w, r, badRequest("missing storage"))
		return
	}

	if err := h.svc.MigrateStorage(r.Context(), att, req.Storage); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.attachmentResponse(att))
}

// HandleClearRepresentations removes every stored representation.
//
// URL format: DELETE /api/attachments/{id}/representations
func (h *Handler) HandleClearRepresentations(w http.ResponseWriter, r *http.Request) {
	att, err := h.loadAttachment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ClearRepresentations(r.Context(), att); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes an attachment's file and record.
//
// URL format: DELETE /api/attachments/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	att, err := h.loadAttachment(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.Destroy(r.Context(), att); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListByOwner lists the attachments of an owner slot in position order.
//
// URL format: GET /api/owners/{kind}/{id}/{relationship}[?active=true]
func (h *Handler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := interfaces.Owner{
		Kind: interfaces.OwnerKind(chi.URLParam(r, "kind")),
		ID:   chi.URLParam(r, "id"),
	}
	relationship := chi.URLParam(r, "relationship")

	atts, err := h.svc.ListByOwner(r.Context(), owner, relationship)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		atts = attachment.ActiveOnly(atts)
	}

	resp := make([]AttachmentResponse, 0, len(atts))
	for _, att := range atts {
		resp = append(resp, h.attachmentResponse(att))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) parseUploadForm(w http.ResponseWriter, r *http.Request) (interfaces.Owner, string, multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return interfaces.Owner{}, "", nil, nil, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: err}
		}
		return interfaces.Owner{}, "", nil, nil, badRequest("invalid multipart form: %v", err)
	}

	owner := interfaces.Owner{
		Kind: interfaces.OwnerKind(r.FormValue("owner_kind")),
		ID:   r.FormValue("owner_id"),
	}
	relationship := r.FormValue("relationship")
	if owner.Kind == "" || owner.ID == "" || relationship == "" {
		return interfaces.Owner{}, "", nil, nil, badRequest("owner_kind, owner_id and relationship are required")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return interfaces.Owner{}, "", nil, nil, badRequest("missing file: %v", err)
	}
	return owner, relationship, file, header, nil
}

func (h *Handler) loadAttachment(r *http.Request) (*interfaces.Attachment, error) {
	id, err := attachmentID(r)
	if err != nil {
		return nil, err
	}
	return h.svc.Get(r.Context(), id)
}

func attachmentID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid attachment id %q", raw)
	}
	return id, nil
}

func (h *Handler) attachmentResponse(att *interfaces.Attachment) AttachmentResponse {
	url, err := h.svc.PublicURL(att)
	if err != nil {
		h.log.Debug("No public URL for attachment", slog.Int64("attachmentID", att.ID), "err", err)
	}

	reps := att.Representations
	if reps == nil {
		reps = map[string]string{}
	}
	return AttachmentResponse{
		ID:                att.ID,
		Filename:          att.Filename,
		ContentType:       att.ContentType,
		Filesize:          att.Filesize,
		StorageSystemName: att.StorageSystemName,
		Owner:             att.Owner,
		Relationship:      att.Relationship,
		Position:          att.Position,
		Active:            att.Active,
		Private:           att.Private,
		URL:               url,
		Representations:   reps,
		CreatedAt:         att.CreatedAt,
		UpdatedAt:         att.UpdatedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr *RequestError
		valErr *interfaces.ValidationError
		stoErr *interfaces.StorageError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &reqErr):
		status = reqErr.StatusCode
	case errors.As(err, &valErr), errors.Is(err, interfaces.ErrUnknownStorageBackend):
		status = http.StatusBadRequest
	case attachment.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &stoErr):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			"err", err)
	} else {
		h.log.Debug("Request rejected",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			"err", err)
	}
	http.Error(w, err.Error(), status)
}
