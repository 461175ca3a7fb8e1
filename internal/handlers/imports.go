package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/middleware"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/streaming"
)

const (
	// multipartOverhead covers form fields and part headers around the file
	multipartOverhead = 64 << 10
	// multipartMemory is kept in memory; larger parts spill to temp files
	multipartMemory = 1 << 20
	maxPatchBody    = 4 << 10
)

// ImportHandlers handles the staging, review and commit of statement imports
type ImportHandlers struct {
	pipeline *pipeline.Pipeline
	sessions *pipeline.Manager
	hub      *streaming.StreamHub
}

// NewImportHandlers creates a new import handlers instance
func NewImportHandlers(p *pipeline.Pipeline, sessions *pipeline.Manager, hub *streaming.StreamHub) *ImportHandlers {
	return &ImportHandlers{
		pipeline: p,
		sessions: sessions,
		hub:      hub,
	}
}

// commitResponse is the import log plus whether it reached the store
type commitResponse struct {
	*domain.ImportLog
	LogPersisted bool   `json:"logPersisted"`
	Warning      string `json:"warning,omitempty"`
}

type patchTransactionRequest struct {
	Category string `json:"category"`
}

// CreateImport handles POST /api/imports
func (h *ImportHandlers) CreateImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	maxSize := h.pipeline.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusBadRequest, codeValidation,
				fmt.Sprintf("file exceeds maximum size of %d bytes", maxSize))
			return
		}
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "file is required")
		return
	}
	defer file.Close()

	var mapping *parser.ColumnMapping
	if raw := r.FormValue("mapping"); raw != "" {
		mapping = &parser.ColumnMapping{}
		if err := json.Unmarshal([]byte(raw), mapping); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, "invalid column mapping")
			return
		}
		if err := mapping.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
	}

	sess, err := h.pipeline.Stage(r.Context(), pipeline.Upload{
		Name:      header.Filename,
		Size:      header.Size,
		Body:      file,
		AccountID: r.FormValue("accountId"),
		UserID:    userID,
		Mapping:   mapping,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.sessions.Put(sess)
	writeJSON(w, r, http.StatusCreated, sess.View())
}

// GetImport handles GET /api/imports/{id}
func (h *ImportHandlers) GetImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, sess.View())
}

// UpdateTransaction handles PATCH /api/imports/{id}/transactions/{hash}
func (h *ImportHandlers) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req patchTransactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBody)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if req.Category == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "category is required")
		return
	}

	if err := sess.ReassignCategory(r.PathValue("hash"), domain.Category(req.Category)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sess.View())
}

// CommitImport handles POST /api/imports/{id}/commit. Progress is broadcast
// to the session's event stream while rows are written.
func (h *ImportHandlers) CommitImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sessionID := sess.ID()

	// a dropped connection must not cut a commit short
	ctx := context.WithoutCancel(r.Context())
	importLog, err := h.pipeline.Commit(ctx, sess, func(p commit.Progress) {
		h.hub.Broadcast(sessionID, streaming.NewProgressEvent(streaming.ProgressEvent{
			SessionID: sessionID,
			Processed: p.Processed,
			Total:     p.Total,
			Hash:      p.Hash,
		}))
		if p.Err != nil {
			h.hub.Broadcast(sessionID, streaming.NewRowEvent(streaming.RowEvent{
				Row:    p.Err.Row,
				Hash:   p.Err.Hash,
				Reason: p.Err.Reason,
			}))
		}
	})

	var persistErr *domain.LogPersistenceError
	switch {
	case err == nil:
		h.hub.Broadcast(sessionID, streaming.NewCompleteEvent(importLog))
		writeJSON(w, r, http.StatusOK, commitResponse{ImportLog: importLog, LogPersisted: true})
	case errors.As(err, &persistErr):
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("session_id", sessionID).Msg("import log not persisted")
		h.hub.Broadcast(sessionID, streaming.NewCompleteEvent(importLog))
		writeJSON(w, r, http.StatusOK, commitResponse{
			ImportLog:    importLog,
			LogPersisted: false,
			Warning:      persistErr.Error(),
		})
	default:
		h.hub.Broadcast(sessionID, streaming.NewErrorEvent(streaming.ErrorEvent{Message: err.Error(), Code: "commit"}))
		writeServiceError(w, r, err)
	}
}

// DiscardImport handles DELETE /api/imports/{id}
func (h *ImportHandlers) DiscardImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := sess.Discard(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.sessions.Delete(sess.ID())
	h.hub.Broadcast(sess.ID(), streaming.NewErrorEvent(streaming.ErrorEvent{Message: "import discarded", Code: "discarded"}))
	w.WriteHeader(http.StatusNoContent)
}

// session resolves {id} for the authenticated user
func (h *ImportHandlers) session(w http.ResponseWriter, r *http.Request) (*pipeline.Session, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}
	sess, err := h.sessions.Get(r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return sess, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
		return "", false
	}
	return userID, true
}
