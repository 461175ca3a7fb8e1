// Package server wires configuration, storage and the import pipeline into
// the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/archive"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/config"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/firestore"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/middleware"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/streaming"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Server is the statement import API server
type Server struct {
	handler  http.Handler
	sessions *pipeline.Manager
	port     string
	log      zerolog.Logger
	closers  []func() error
}

// New creates a server from cfg
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (s *Server, err error) {
	s = &Server{port: cfg.Server.Port, log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.addCloser(closeStore)

	engine, err := rules.Load(cfg.Rules.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load category rules: %w", err)
	}

	committer, err := commit.NewService(st, commit.WithOptions(cfg.CommitOptions()))
	if err != nil {
		return nil, err
	}

	opts := []pipeline.PipelineOption{pipeline.WithMaxFileSize(cfg.Import.MaxFileSize)}
	if cfg.Archive.Bucket != "" {
		archiver, closeArchiver, err := OpenArchiver(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.addCloser(closeArchiver)
		opts = append(opts, pipeline.WithArchiver(archiver))
	}

	authenticator, err := newAuthenticator(ctx, cfg, st)
	if err != nil {
		return nil, err
	}
	if cfg.Server.AuthDisabled {
		log.Warn().Str("user_id", cfg.Server.DevUserID).Msg("authentication disabled")
	}

	s.sessions = pipeline.NewManager(cfg.Server.SessionTTL)
	s.handler = NewRouter(RouterDeps{
		Pipeline:       pipeline.NewPipeline(engine, st, committer, opts...),
		Sessions:       s.sessions,
		Hub:            streaming.NewStreamHub(),
		Logs:           st,
		Categories:     engine,
		Auth:           authenticator,
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.sweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// sweep expires abandoned review sessions
func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sessions.Sweep(now); n > 0 {
				s.log.Debug().Int("removed", n).Msg("expired import sessions")
			}
		}
	}
}

// Close releases store and storage clients
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Server) addCloser(fn func() error) {
	if fn != nil {
		s.closers = append(s.closers, fn)
	}
}

// OpenStore opens the configured store. The returned close function may be nil.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil, nil
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.DriverFirestore:
		client, err := firestore.NewClient(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// OpenArchiver creates the GCS archiver for cfg.Archive.Bucket
func OpenArchiver(ctx context.Context, cfg config.Config) (*archive.GCSArchiver, func() error, error) {
	var opts []option.ClientOption
	if cfg.GCP.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return archive.NewGCSArchiver(client, cfg.Archive.Bucket, archive.WithPrefix(cfg.Archive.Prefix)), client.Close, nil
}

// newAuthenticator reuses the Firestore app's auth client when available
func newAuthenticator(ctx context.Context, cfg config.Config, st store.Store) (middleware.Authenticator, error) {
	if cfg.Server.AuthDisabled {
		return middleware.NoAuth{UserID: cfg.Server.DevUserID}, nil
	}
	if client, ok := st.(*firestore.Client); ok {
		return middleware.NewAuthMiddleware(client.Auth), nil
	}
	if cfg.GCP.ProjectID == "" {
		return nil, fmt.Errorf("gcp.project_id is required for token verification (or set server.auth_disabled)")
	}
	authClient, err := firestore.NewAuthClient(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return middleware.NewAuthMiddleware(authClient), nil
}
