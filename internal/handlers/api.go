package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
)

// Error codes returned in the "code" field of error responses
const (
	codeValidation   = "validation"
	codeParse        = "parse"
	codeNoRecords    = "no_records"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

// LogLister reads import logs
type LogLister interface {
	ListImportLogs(ctx context.Context, accountID string) ([]*domain.ImportLog, error)
}

// CategoryLister lists the category table in priority order
type CategoryLister interface {
	Categories() []domain.Category
}

// APIHandler serves read-only endpoints
type APIHandler struct {
	logs       LogLister
	categories CategoryLister
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(logs LogLister, categories CategoryLister) *APIHandler {
	return &APIHandler{logs: logs, categories: categories}
}

// Health handles GET /health
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// GetImportLogs handles GET /api/import-logs?accountId=
func (h *APIHandler) GetImportLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "accountId is required")
		return
	}

	logs, err := h.logs.ListImportLogs(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*domain.ImportLog{}
	}
	writeJSON(w, r, http.StatusOK, logs)
}

// GetCategories handles GET /api/categories
func (h *APIHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, h.categories.Categories())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorResponse{Error: message, Code: code})
}

// writeServiceError maps pipeline and store errors to HTTP responses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domain.ValidationError
	var parseErr *domain.ParseError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, domain.ErrNoRecords):
		writeError(w, r, http.StatusBadRequest, codeNoRecords, err.Error())
	case errors.As(err, &parseErr):
		writeError(w, r, http.StatusBadRequest, codeParse, err.Error())
	case errors.Is(err, domain.ErrUnknownCategory):
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrUnknownTransaction):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, codeConflict, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
