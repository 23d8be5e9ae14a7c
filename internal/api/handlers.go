// Package api exposes the backup import endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"example.com/backuprestore/internal/auth"
	"example.com/backuprestore/internal/backup"
	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/jobs"
	"example.com/backuprestore/internal/logging"
	"example.com/backuprestore/internal/observability"
)

// DefaultMaxUploadBytes caps request bodies.
const DefaultMaxUploadBytes = 10 << 20

const (
	uploadField = "file"
	// multipartOverhead covers boundaries, part headers and small form fields around the file.
	multipartOverhead = 64 << 10
)

var (
	errMissingFile = errors.New(`multipart upload requires a "file" field`)
	errTooLarge    = errors.New("backup exceeds the upload limit")
)

// Handler serves import requests through the job coordinator.
type Handler struct {
	coordinator *jobs.Coordinator
	maxUpload   int64
	logger      logrus.FieldLogger
}

// NewHandler builds a Handler. A non-positive maxUpload selects DefaultMaxUploadBytes.
func NewHandler(coordinator *jobs.Coordinator, maxUpload int64, logger logrus.FieldLogger) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handler{coordinator: coordinator, maxUpload: maxUpload, logger: logger}
}

// RegisterRoutes wires endpoints to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Route("/v1/imports", func(r chi.Router) {
		r.With(auth.RequireScope(auth.ScopeBackupsWrite)).Post("/", h.createImport)
		r.With(auth.RequireScope(auth.ScopeBackupsWrite)).Post("/plan", h.planImport)
		r.With(auth.RequireScope(auth.ScopeBackupsRead, auth.ScopeBackupsWrite)).Get("/{jobId}", h.getImport)
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) createImport(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	raw, b, ok := h.readBackup(w, r)
	if !ok {
		return
	}

	result, err := h.coordinator.Submit(r.Context(), claims.Subject, raw, b)
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}

	if result.Mode == jobs.ModeAsync {
		writeJSON(w, http.StatusAccepted, AcceptedResponse{JobID: result.JobID, Status: string(result.Status)})
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: *result.Summary})
}

func (h *Handler) planImport(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	_, b, ok := h.readBackup(w, r)
	if !ok {
		return
	}

	summary, err := h.coordinator.Plan(r.Context(), claims.Subject, b)
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: summary})
}

func (h *Handler) getImport(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	job, err := h.coordinator.Status(r.Context(), claims.Subject, chi.URLParam(r, "jobId"))
	if err != nil {
		h.writeImportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

// readBackup reads the upload and validates it. It writes the error response itself
// and reports false when the request cannot proceed.
func (h *Handler) readBackup(w http.ResponseWriter, r *http.Request) ([]byte, *backup.Backup, bool) {
	raw, err := h.readUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, errTooLarge):
			observability.RecordImportRejected(string(jobs.ModeAsync))
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "backup exceeds the upload limit")
		case errors.Is(err, errMissingFile):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to read request body")
		}
		return nil, nil, false
	}

	b, err := backup.Parse(raw)
	if err != nil {
		observability.RecordImportRejected(string(h.coordinator.RouteFor(len(raw))))
		h.writeImportError(w, r, err)
		return nil, nil, false
	}
	return raw, b, true
}

// readUpload returns the backup bytes. The limit applies to the backup itself, so a
// multipart body may exceed it by the multipart framing.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		return io.ReadAll(r.Body)
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField {
			defer part.Close()
			raw, err := io.ReadAll(io.LimitReader(part, h.maxUpload+1))
			if err != nil {
				return nil, err
			}
			if int64(len(raw)) > h.maxUpload {
				return nil, errTooLarge
			}
			return raw, nil
		}
		part.Close()
	}
}

func (h *Handler) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *backup.ValidationError
		version    *backup.VersionError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, Problem{
			Type:   "malformed_backup",
			Detail: "backup does not match the expected format",
			Errors: validation.Fields,
		})
	case errors.As(err, &version):
		writeJSON(w, http.StatusUnprocessableEntity, Problem{
			Type:              "unsupported_version",
			Detail:            "schema version " + version.Version + " is not supported",
			SupportedVersions: version.Supported,
		})
	case errors.Is(err, backup.ErrMalformed):
		writeError(w, http.StatusUnprocessableEntity, "malformed_backup", err.Error())
	case errors.Is(err, jobs.ErrTooManyImports):
		writeError(w, http.StatusTooManyRequests, "too_many_imports", err.Error())
	case errors.Is(err, jobs.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "imports are not being accepted right now")
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", "import job not found")
	default:
		logging.FromContext(r.Context(), h.logger).WithError(err).Error("import request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "import failed, no changes were saved")
	}
}

// Problem is the error body. Errors and SupportedVersions are set for validation failures.
type Problem struct {
	Type              string              `json:"type"`
	Detail            string              `json:"detail"`
	Errors            []backup.FieldError `json:"errors,omitempty"`
	SupportedVersions []string            `json:"supportedVersions,omitempty"`
}

// SummaryResponse is returned by inline imports and plans.
type SummaryResponse struct {
	Summary domain.ImportSummary `json:"summary"`
}

// AcceptedResponse is returned when an import was queued.
type AcceptedResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// JobView exposes an import job to its owner.
type JobView struct {
	JobID     string                `json:"jobId"`
	Status    string                `json:"status"`
	Summary   *domain.ImportSummary `json:"summary"`
	Error     *string               `json:"error"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

func toJobView(job *domain.ImportJob) JobView {
	return JobView{
		JobID:     job.ID,
		Status:    string(job.Status),
		Summary:   job.Summary,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, Problem{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
