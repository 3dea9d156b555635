package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"webresearch/backend/internal/config"
	"webresearch/backend/internal/orchestrator"
)

// maxRequestBodyBytes caps inbound bodies; a search submission is a query
// plus a small context map, never megabytes.
const maxRequestBodyBytes = 1 << 20

// Error codes returned by this API.
const (
	codeInvalidRequest    = "invalid_request"
	codeSearchNotFound    = "search_not_found"
	codeSearchRunning     = "search_running"
	codeSearchStartFailed = "search_start_failed"
	codeSitesUnavailable  = "sites_unavailable"
	codeSiteResetFailed   = "site_reset_failed"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// decodeJSON reads exactly one bounded JSON object into target. Unknown
// fields and trailing data are rejected so malformed submissions fail loudly
// instead of half-parsing.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return errors.New("request body must be a single json object")
	}
	return nil
}

// SearchService is the orchestration engine surface the API exposes.
type SearchService interface {
	StartSearch(req orchestrator.Request) (string, error)
	Status(searchID string) (orchestrator.StatusSnapshot, bool)
	Result(searchID string) (orchestrator.Bundle, bool, bool)
	Cancel(searchID string) bool
}

// SiteAdmin resets learned reputation for a domain.
type SiteAdmin interface {
	Reset(domain string) error
}

type Handler struct {
	cfg      config.Config
	searches SearchService
	sites    SiteAdmin
}

func NewHandler(cfg config.Config, searches SearchService, sites SiteAdmin) Handler {
	return Handler{cfg: cfg, searches: searches, sites: sites}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) StartSearch(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "query is required")
		return
	}

	searchID, err := h.searches.StartSearch(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeSearchStartFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"searchId": searchID})
}

func (h Handler) SearchStatus(w http.ResponseWriter, r *http.Request) {
	searchID := chi.URLParam(r, "id")
	snapshot, ok := h.searches.Status(searchID)
	if !ok {
		writeError(w, http.StatusNotFound, codeSearchNotFound, "unknown search id")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h Handler) SearchResult(w http.ResponseWriter, r *http.Request) {
	searchID := chi.URLParam(r, "id")
	bundle, done, ok := h.searches.Result(searchID)
	if !ok {
		writeError(w, http.StatusNotFound, codeSearchNotFound, "unknown search id")
		return
	}
	if !done {
		writeError(w, http.StatusConflict, codeSearchRunning, "search has not completed yet")
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h Handler) CancelSearch(w http.ResponseWriter, r *http.Request) {
	searchID := chi.URLParam(r, "id")
	if !h.searches.Cancel(searchID) {
		writeError(w, http.StatusNotFound, codeSearchNotFound, "search is not active")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"searchId": searchID, "state": "cancelling"})
}

func (h Handler) ResetSite(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "domain")))
	if domain == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "domain is required")
		return
	}
	if h.sites == nil {
		writeError(w, http.StatusNotFound, codeSitesUnavailable, "site reputation is not configured")
		return
	}
	if err := h.sites.Reset(domain); err != nil {
		writeError(w, http.StatusInternalServerError, codeSiteResetFailed, "failed to reset site profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
