package visaapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/c360studio/visatrack/export"
	"github.com/c360studio/visatrack/storage"
	"github.com/c360studio/visatrack/uploads"
	"github.com/c360studio/visatrack/visa"
)

// maxRequestBodySize limits JSON request bodies to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// uploadField is the multipart field carrying a file.
const uploadField = "file"

// RegisterHTTPHandlers registers all visa-api HTTP handlers.
// Handlers are registered as:
//
//	GET    /api/health
//	POST   /api/login
//	GET    /api/settings
//	POST   /api/settings                  (admin)
//	GET    /api/applicants
//	POST   /api/applicants                (admin)
//	GET    /api/applicants/{id}
//	PUT    /api/applicants/{id}           (admin)
//	DELETE /api/applicants/{id}           (admin)
//	GET    /api/applicants/{id}/progress
//	GET    /api/progress
//	POST   /api/upload                    (admin)
//	POST   /api/export                    (admin for backups)
//	POST   /api/import                    (admin)
//	GET    /metrics
//	GET    /uploads/{file}
//	GET    /                              client application
func (c *Component) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", c.handleHealth)
	mux.HandleFunc("POST /api/login", c.handleLogin)

	mux.HandleFunc("GET /api/settings", c.handleGetSettings)
	mux.HandleFunc("POST /api/settings", c.requireAdmin(c.handleSetSettings))

	mux.HandleFunc("GET /api/applicants", c.handleListApplicants)
	mux.HandleFunc("POST /api/applicants", c.requireAdmin(c.handleCreateApplicant))
	mux.HandleFunc("GET /api/applicants/{id}", c.handleGetApplicant)
	mux.HandleFunc("PUT /api/applicants/{id}", c.requireAdmin(c.handleUpdateApplicant))
	mux.HandleFunc("DELETE /api/applicants/{id}", c.requireAdmin(c.handleDeleteApplicant))
	mux.HandleFunc("GET /api/applicants/{id}/progress", c.handleApplicantProgress)
	mux.HandleFunc("GET /api/progress", c.handleProgressSummary)

	mux.HandleFunc("POST /api/upload", c.requireAdmin(c.handleUpload))
	mux.HandleFunc("POST /api/export", c.handleExport)
	mux.HandleFunc("POST /api/import", c.requireAdmin(c.handleImport))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})

	mux.Handle("GET /metrics", c.metrics.handler())
	mux.Handle("GET "+uploads.URLPrefix+"{file}", c.uploads)
	mux.Handle("/", &spaHandler{dir: c.config.ClientDir, patterns: c.config.AssetPatterns, logger: c.logger})
}

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// messageResponse is the body of simple success replies.
type messageResponse struct {
	Message string `json:"message"`
}

// ----------------------------------------------------------------------------
// GET /api/health, POST /api/login
// ----------------------------------------------------------------------------

func (c *Component) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.Health())
}

// LoginRequest is the request body for POST /api/login.
// A password yields an admin token; an empty password with role "viewer"
// yields a read-only token.
type LoginRequest struct {
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

// LoginResponse is the response body for POST /api/login.
type LoginResponse struct {
	Token     string    `json:"token"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Component) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}

	role := RoleViewer
	if req.Password != "" || req.Role == RoleAdmin {
		settings, err := c.settings.Get(r.Context())
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		if settings.AdminPassword == "" {
			c.logger.Error("Refused admin login: no admin password is stored", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Admin password not configured"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(settings.AdminPassword)) != 1 {
			c.logger.Warn("Rejected admin login", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid password"})
			return
		}
		role = RoleAdmin
	}

	token, expires, err := c.auth.issue(role)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Role: role, ExpiresAt: expires})
}

// ----------------------------------------------------------------------------
// /api/settings
// ----------------------------------------------------------------------------

// handleGetSettings returns the settings. Non-admin callers never see the
// admin password.
func (c *Component) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := c.settings.Get(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if role, _ := c.auth.roleOf(r); role != RoleAdmin {
		settings = settings.Redacted()
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleSetSettings replaces the settings document. A body without
// ADMIN_PASSWORD keeps the current password.
func (c *Component) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var settings visa.Settings
	if err := decodeJSONBody(w, r, &settings); err != nil {
		c.writeError(w, r, err)
		return
	}

	if settings.AdminPassword == "" {
		current, err := c.settings.Get(r.Context())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.writeError(w, r, err)
			return
		}
		settings.AdminPassword = current.AdminPassword
	}

	saved, err := c.settings.Set(r.Context(), settings)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ----------------------------------------------------------------------------
// /api/applicants
// ----------------------------------------------------------------------------

func (c *Component) handleListApplicants(w http.ResponseWriter, r *http.Request) {
	list, err := c.applicants.List(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (c *Component) handleGetApplicant(w http.ResponseWriter, r *http.Request) {
	a, err := c.applicants.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (c *Component) handleCreateApplicant(w http.ResponseWriter, r *http.Request) {
	patch, err := readPatch(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	a, err := c.applicants.Create(r.Context(), patch)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (c *Component) handleUpdateApplicant(w http.ResponseWriter, r *http.Request) {
	patch, err := readPatch(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	a, err := c.applicants.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (c *Component) handleDeleteApplicant(w http.ResponseWriter, r *http.Request) {
	if err := c.applicants.Delete(r.Context(), r.PathValue("id")); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Applicant deleted"})
}

func readPatch(w http.ResponseWriter, r *http.Request) (visa.ApplicantPatch, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return visa.ApplicantPatch{}, err
	}
	return visa.DecodePatch(data)
}

// ----------------------------------------------------------------------------
// Progress
// ----------------------------------------------------------------------------

func (c *Component) handleApplicantProgress(w http.ResponseWriter, r *http.Request) {
	a, err := c.applicants.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	settings, err := c.settings.Get(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visa.ProgressOf(settings.VisaSteps, a))
}

func (c *Component) handleProgressSummary(w http.ResponseWriter, r *http.Request) {
	settings, err := c.settings.Get(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	list, err := c.applicants.List(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visa.SummarizeProgress(settings.VisaSteps, list))
}

// ----------------------------------------------------------------------------
// POST /api/upload
// ----------------------------------------------------------------------------

// handleUpload streams the "file" part of a multipart body into the upload
// store without buffering it in memory.
func (c *Component) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		c.writeError(w, r, uploads.ErrNoFile)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			c.writeError(w, r, uploads.ErrNoFile)
			return
		}
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		up, err := c.uploads.Save(r.Context(), part, part.FormName(), part.FileName())
		_ = part.Close()
		if err != nil {
			c.writeError(w, r, err)
			return
		}

		c.metrics.uploads.Inc()
		c.metrics.uploadBytes.Add(float64(up.Size))
		writeJSON(w, http.StatusOK, up)
		return
	}
}

// ----------------------------------------------------------------------------
// POST /api/export
// ----------------------------------------------------------------------------

// ExportRequest is the request body for POST /api/export.
type ExportRequest struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids,omitempty"`
}

func (c *Component) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}

	format, err := export.ParseFormat(req.Type)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	info, _ := export.GetFormatInfo(format)
	if info.AdminOnly && !c.authorizeAdmin(w, r) {
		return
	}

	fileName := info.FileName(time.Now())

	switch format {
	case export.FormatBackup:
		snap, err := c.bundler.Snapshot(r.Context(), req.IDs)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", info.MIMEType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

	case export.FormatZip:
		aw := &attachmentWriter{w: w, contentType: info.MIMEType, fileName: fileName}
		report, err := c.bundler.WriteArchive(r.Context(), aw, req.IDs)
		if err != nil {
			if !aw.started {
				c.writeError(w, r, err)
				return
			}
			// Headers are gone; the client sees a truncated archive.
			c.logger.Error("Archive export aborted", "error", err)
			return
		}
		if !aw.started {
			aw.start()
		}
		c.metrics.missingDocuments.Add(float64(len(report.Missing)))
	}

	c.metrics.exports.WithLabelValues(string(format)).Inc()
}

// attachmentWriter delays the response headers until the first byte, so an
// export that fails before producing output can still send a JSON error.
type attachmentWriter struct {
	w           http.ResponseWriter
	contentType string
	fileName    string
	started     bool
}

func (a *attachmentWriter) start() {
	a.started = true
	a.w.Header().Set("Content-Type", a.contentType)
	a.w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.fileName}))
	a.w.WriteHeader(http.StatusOK)
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.start()
	}
	return a.w.Write(p)
}

// ----------------------------------------------------------------------------
// POST /api/import
// ----------------------------------------------------------------------------

// ImportResponse is the response body for POST /api/import.
type ImportResponse struct {
	Message    string `json:"message"`
	Applicants int    `json:"applicants"`
}

// handleImport accepts a backup either as the "file" part of a multipart
// body or as the raw JSON body.
func (c *Component) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxImportBytes)

	data, err := readImportBody(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	snap, err := c.bundler.Import(r.Context(), data)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Message: "Import successful", Applicants: len(snap.Applicants)})
}

func readImportBody(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, uploads.ErrNoFile
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, uploads.ErrNoFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		return data, err
	}
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// badRequestError marks a malformed request body.
type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// decodeJSONBody decodes a size-limited JSON body into dst.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return &badRequestError{err: fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// errorStatus maps an error to its HTTP status and client-facing message.
// Messages for 5xx errors never include internal detail.
func errorStatus(err error) (int, string) {
	var maxErr *http.MaxBytesError
	var badReq *badRequestError

	switch {
	case errors.Is(err, visa.ErrApplicantNotFound):
		return http.StatusNotFound, "Applicant not found"
	case errors.Is(err, uploads.ErrNotFound):
		return http.StatusNotFound, "File not found"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, storage.ErrCorrupt):
		return http.StatusInternalServerError, "Stored data could not be read"
	case errors.Is(err, export.ErrInvalidBackup):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, visa.ErrInvalidSettings), errors.Is(err, visa.ErrInvalidApplicant):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, uploads.ErrNoFile):
		return http.StatusBadRequest, "No file uploaded"
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.As(err, &badReq):
		return http.StatusBadRequest, "Invalid request body"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError logs err and writes the mapped JSON error reply.
func (c *Component) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		c.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing more to report.
		_ = err
	}
}
