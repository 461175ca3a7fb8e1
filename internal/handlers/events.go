package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/streaming"
)

const heartbeatInterval = 30 * time.Second

// StreamImport handles GET /api/imports/{id}/events (SSE endpoint)
func (h *ImportHandlers) StreamImport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sessionID := sess.ID()
	log := logger.FromContext(r.Context()).With().Str("session_id", sessionID).Logger()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, codeInternal, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.hub.Register(r.Context(), sessionID)
	defer h.hub.Unregister(sessionID, client)

	view := sess.View()
	initial := streaming.NewSessionEvent(streaming.SessionEvent{
		ID:             view.ID,
		State:          string(view.State),
		TotalRecords:   view.TotalRecords,
		DuplicateCount: view.DuplicateCount,
	})
	if err := writeSSEEvent(w, initial); err != nil {
		log.Debug().Err(err).Msg("failed to write initial session event")
		return
	}
	flusher.Flush()

	// nothing more will happen on a finished session
	if pipeline.IsTerminalState(view.State) {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				log.Debug().Err(err).Str("event", string(event.Type)).Msg("failed to write event")
				return
			}
			flusher.Flush()
			if event.IsCritical() {
				return
			}

		case <-heartbeat.C:
			if err := writeSSEEvent(w, streaming.NewHeartbeatEvent()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event in text/event-stream framing
func writeSSEEvent(w http.ResponseWriter, event streaming.SSEEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
