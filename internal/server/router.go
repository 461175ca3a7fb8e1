package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/handlers"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/middleware"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/streaming"
)

// RouterDeps are the collaborators served by the HTTP API
type RouterDeps struct {
	Pipeline       *pipeline.Pipeline
	Sessions       *pipeline.Manager
	Hub            *streaming.StreamHub
	Logs           handlers.LogLister
	Categories     handlers.CategoryLister
	Auth           middleware.Authenticator
	Logger         zerolog.Logger
	AllowedOrigins []string
}

// NewRouter builds the import API
func NewRouter(d RouterDeps) http.Handler {
	mux := http.NewServeMux()

	apiH := handlers.NewAPIHandler(d.Logs, d.Categories)
	importH := handlers.NewImportHandlers(d.Pipeline, d.Sessions, d.Hub)

	// Health check for Cloud Run
	mux.HandleFunc("GET /health", apiH.Health)

	protect := func(h http.HandlerFunc) http.Handler {
		return d.Auth.RequireAuth(h)
	}

	mux.Handle("GET /api/categories", protect(apiH.GetCategories))
	mux.Handle("GET /api/import-logs", protect(apiH.GetImportLogs))

	mux.Handle("POST /api/imports", protect(importH.CreateImport))
	mux.Handle("GET /api/imports/{id}", protect(importH.GetImport))
	mux.Handle("DELETE /api/imports/{id}", protect(importH.DiscardImport))
	mux.Handle("PATCH /api/imports/{id}/transactions/{hash}", protect(importH.UpdateTransaction))
	mux.Handle("POST /api/imports/{id}/commit", protect(importH.CommitImport))
	mux.Handle("GET /api/imports/{id}/events", protect(importH.StreamImport))

	// outermost first
	return Chain(mux,
		middleware.RequestLogger(d.Logger),
		middleware.Recovery,
		middleware.CORS(d.AllowedOrigins),
	)
}

// Chain wraps h so that the first middleware runs first
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
