package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/systemshift/memex-relay/internal/relay"
)

const serviceName = "memex-relay"

type ServerConfig struct {
	// Token is the shared secret expected in the Authorization header
	// of every non-health request.
	Token        string
	MaxBodyBytes int64
	Version      string
}

type Server struct {
	svc *relay.Service
	cfg ServerConfig
}

func NewServer(svc *relay.Service) *Server {
	return NewServerWithConfig(svc, ServerConfig{})
}

func NewServerWithConfig(svc *relay.Service, cfg ServerConfig) *Server {
	if cfg.Token == "" {
		cfg.Token = "memex-dev-token-2025"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	return &Server{svc: svc, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleHealth(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}

	if !authorizeBearer(r.Header.Get("Authorization"), s.cfg.Token) {
		writeError(w, http.StatusUnauthorized, "Invalid authentication token")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "notebooks" && r.Method == http.MethodGet:
		s.handleListNotebooks(w, r)
	case len(parts) == 2 && parts[1] == "notebooks" && r.Method == http.MethodPost:
		s.handleCreateNotebook(w, r)
	case len(parts) == 2 && parts[1] == "sections" && r.Method == http.MethodPost:
		s.handleCreateSection(w, r)
	case len(parts) == 4 && parts[1] == "notebooks" && parts[3] == "sections" && r.Method == http.MethodGet:
		s.handleListSections(w, r, parts[2])
	case len(parts) == 4 && parts[1] == "notebooks" && parts[3] == "pages" && r.Method == http.MethodGet:
		s.handleListNotebookPages(w, r, parts[2])
	case len(parts) == 6 && parts[1] == "notebooks" && parts[3] == "sections" && parts[5] == "pages" && r.Method == http.MethodGet:
		s.handleListSectionPages(w, r, parts[2], parts[4])
	case len(parts) == 3 && parts[1] == "pages" && parts[2] == "update" && r.Method == http.MethodPost:
		s.handleUpdatePage(w, r)
	case len(parts) == 3 && parts[1] == "pages" && r.Method == http.MethodGet:
		s.handleGetPage(w, r, parts[2])
	case len(parts) == 2 && parts[1] == "pages" && r.Method == http.MethodPost:
		s.handleCreatePage(w, r)
	case len(parts) == 2 && parts[1] == "get_page" && r.Method == http.MethodPost:
		s.handleGetPageBody(w, r)
	case len(parts) == 2 && parts[1] == "search" && r.Method == http.MethodPost:
		s.handleSearch(w, r)
	case len(parts) == 2 && parts[1] == "write_note" && r.Method == http.MethodPost:
		s.handleWriteNote(w, r)
	case len(parts) == 3 && parts[1] == "auth" && parts[2] == "clear_cache" && r.Method == http.MethodPost:
		s.handleClearAuthCache(w, r)
	case len(parts) == 2 && parts[1] == "ops" && r.Method == http.MethodGet:
		s.handleOpsList(w, r)
	case len(parts) == 3 && parts[1] == "ops" && r.Method == http.MethodGet:
		s.handleOp(w, r, parts[2])
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	auth := s.svc.AuthStatus(r.Context())
	status := "operational"
	if auth.Status == relay.AuthErrored || auth.Status == relay.AuthNotAuthenticated {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":      serviceName,
		"version":      s.cfg.Version,
		"status":       status,
		"onenote_auth": auth,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListNotebooks(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.ListNotebooks(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !s.decodeValidated(w, r, "create_notebook", &body) {
		return
	}
	resp, err := s.svc.CreateNotebook(r.Context(), body.Name, body.Description)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCreateSection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NotebookName string `json:"notebook_name"`
		SectionName  string `json:"section_name"`
	}
	if !s.decodeValidated(w, r, "create_section", &body) {
		return
	}
	resp, err := s.svc.CreateSection(r.Context(), body.NotebookName, body.SectionName)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request, notebookName string) {
	resp, err := s.svc.ListSections(r.Context(), notebookName)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNotebookPages(w http.ResponseWriter, r *http.Request, notebookName string) {
	resp, err := s.svc.ListNotebookPages(r.Context(), notebookName)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSectionPages(w http.ResponseWriter, r *http.Request, notebookName, sectionName string) {
	resp, err := s.svc.ListSectionPages(r.Context(), notebookName, sectionName)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request, pageID string) {
	resp, err := s.svc.GetPage(r.Context(), pageID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPageBody(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PageID string `json:"page_id"`
	}
	if !s.decodeValidated(w, r, "get_page", &body) {
		return
	}
	resp, err := s.svc.GetPage(r.Context(), body.PageID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SectionID   string `json:"section_id"`
		Title       string `json:"title"`
		ContentHTML string `json:"content_html"`
	}
	if !s.decodeValidated(w, r, "create_page", &body) {
		return
	}
	resp, err := s.svc.CreatePage(r.Context(), body.SectionID, body.Title, body.ContentHTML)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PageID        string `json:"page_id"`
		ContentHTML   string `json:"content_html"`
		TargetElement string `json:"target_element"`
	}
	if !s.decodeValidated(w, r, "update_page", &body) {
		return
	}
	resp, err := s.svc.UpdatePage(r.Context(), body.PageID, body.ContentHTML, body.TargetElement)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if !s.decodeValidated(w, r, "search", &body) {
		return
	}
	resp, err := s.svc.Search(r.Context(), body.Query, body.Limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWriteNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notebook  string `json:"notebook"`
		PageTitle string `json:"page_title"`
		Content   string `json:"content"`
	}
	if !s.decodeValidated(w, r, "write_note", &body) {
		return
	}
	resp, err := s.svc.WriteNote(r.Context(), body.Notebook, body.PageTitle, body.Content)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleClearAuthCache(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.ClearAuthCache()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpsList(w http.ResponseWriter, r *http.Request) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	feed, err := s.svc.Operations(limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request, opID string) {
	op, err := s.svc.Operation(opID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// decodeValidated reads the body, validates it against the named
// schema, and unmarshals into dst. Validation runs before any upstream
// call, so a bad request never produces upstream side effects.
func (s *Server) decodeValidated(w http.ResponseWriter, r *http.Request, schemaName string, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := validateBody(schemaName, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// writeServiceError translates relay-layer failures into the external
// error envelope. Upstream 4xx codes pass through; everything else
// upstream becomes a 502; unclassified failures become a generic 500
// with the detail logged, never leaked.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var notFound *relay.NotFoundError
	var ambiguous *relay.AmbiguousNameError
	var upstream *relay.UpstreamError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ambiguous):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstream):
		status := http.StatusBadGateway
		if upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
			status = upstream.StatusCode
		}
		writeError(w, status, err.Error())
	case errors.Is(err, relay.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, relay.ErrNotAuthenticated):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, relay.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":  "error",
		"message": message,
	})
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
