package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/commit"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/middleware"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/store"
	"github.com/rumor-ml/commons.systems/stmtimport/internal/streaming"
)

const statementCSV = "date,description,amount\n" +
	"2024-01-05,UBER TRIP,-23.50\n" +
	"2024-01-06,SALARY,2500.00\n"

// failingLogStore loses every import log
type failingLogStore struct {
	*store.Memory
}

func (s failingLogStore) InsertImportLog(ctx context.Context, log *domain.ImportLog) (*domain.ImportLog, error) {
	return nil, errors.New("firestore unavailable")
}

type testEnv struct {
	mux      *http.ServeMux
	sessions *pipeline.Manager
}

func newTestEnv(t *testing.T, st store.Store, opts ...pipeline.PipelineOption) *testEnv {
	t.Helper()
	engine, err := rules.LoadEmbedded()
	require.NoError(t, err)
	committer, err := commit.NewService(st)
	require.NoError(t, err)

	sessions := pipeline.NewManager(time.Hour)
	ih := NewImportHandlers(pipeline.NewPipeline(engine, st, committer, opts...), sessions, streaming.NewStreamHub())
	api := NewAPIHandler(st, engine)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", api.Health)
	mux.HandleFunc("GET /api/categories", api.GetCategories)
	mux.HandleFunc("GET /api/import-logs", api.GetImportLogs)
	mux.HandleFunc("POST /api/imports", ih.CreateImport)
	mux.HandleFunc("GET /api/imports/{id}", ih.GetImport)
	mux.HandleFunc("PATCH /api/imports/{id}/transactions/{hash}", ih.UpdateTransaction)
	mux.HandleFunc("POST /api/imports/{id}/commit", ih.CommitImport)
	mux.HandleFunc("DELETE /api/imports/{id}", ih.DiscardImport)
	mux.HandleFunc("GET /api/imports/{id}/events", ih.StreamImport)
	return &testEnv{mux: mux, sessions: sessions}
}

// do serves req as userID; an empty userID sends it unauthenticated
func (e *testEnv) do(req *http.Request, userID string) *httptest.ResponseRecorder {
	if userID != "" {
		req = req.WithContext(middleware.WithAuth(req.Context(), middleware.AuthInfo{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, fileName, accountID, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if accountID != "" {
		require.NoError(t, mw.WriteField("accountId", accountID))
	}
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = io.WriteString(part, body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) stage(t *testing.T) pipeline.View {
	t.Helper()
	rec := e.do(uploadRequest(t, "extrato.csv", "acc-1", statementCSV), "user-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view pipeline.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestCreateImport(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	view := env.stage(t)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "acc-1", view.AccountID)
	assert.Equal(t, domain.FileTypeCSV, view.FileType)
	assert.Equal(t, pipeline.StateDuplicatesFlagged, view.State)
	require.Len(t, view.Transactions, 2)
	assert.Equal(t, domain.CategoryTransport, view.Transactions[0].Category)
	assert.Equal(t, 2, view.NewCount)
	assert.Equal(t, 1, env.sessions.Len())
}

func TestCreateImport_Rejections(t *testing.T) {
	env := newTestEnv(t, store.NewMemory(), pipeline.WithMaxFileSize(1024))

	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		userID     string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unauthenticated",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "extrato.csv", "acc-1", statementCSV) },
			wantStatus: http.StatusUnauthorized,
			wantCode:   codeUnauthorized,
		},
		{
			name:       "missing account",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "extrato.csv", "", statementCSV) },
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeValidation,
		},
		{
			name:       "unsupported format",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "extrato.pdf", "acc-1", statementCSV) },
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeValidation,
		},
		{
			name:       "over the configured limit",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "extrato.csv", "acc-1", strings.Repeat("x", 2048)) },
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeValidation,
		},
		{
			name:       "over the body cap",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "extrato.csv", "acc-1", strings.Repeat("x", 200<<10)) },
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeValidation,
		},
		{
			name:       "malformed ofx",
			req:        func(t *testing.T) *http.Request { return uploadRequest(t, "bank.ofx", "acc-1", "not an ofx file") },
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeParse,
		},
		{
			name: "no records",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "extrato.csv", "acc-1", "date,description,amount\n2024-01-05,X,abc\n")
			},
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeNoRecords,
		},
		{
			name: "missing file",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("accountId=acc-1"))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			userID:     "user-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   codeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.req(t), tt.userID)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
	assert.Equal(t, 0, env.sessions.Len(), "rejected uploads must not leave sessions behind")
}

func TestGetImport_Ownership(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	view := env.stage(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/imports/"+view.ID, nil), "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/imports/"+view.ID, nil), "user-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rec).Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil), "user-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTransaction(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	view := env.stage(t)
	hash := view.Transactions[1].Hash

	patch := func(hash, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/imports/"+view.ID+"/transactions/"+hash, strings.NewReader(body))
		return env.do(req, "user-1")
	}

	rec := patch(hash, `{"category":"Lazer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated pipeline.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, pipeline.StateReviewed, updated.State)
	assert.Equal(t, domain.Category("Lazer"), updated.Transactions[1].Category)
	assert.Equal(t, domain.CategoryOther, updated.Transactions[1].SuggestedCategory)

	rec = patch(hash, `{"category":"Cassino"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = patch("unknown", `{"category":"Lazer"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = patch(hash, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = patch(hash, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitImport(t *testing.T) {
	st := store.NewMemory()
	env := newTestEnv(t, st)
	view := env.stage(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/imports/"+view.ID+"/commit", nil), "user-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status        domain.ImportStatus `json:"status"`
		ImportedCount int                 `json:"importedCount"`
		TotalRecords  int                 `json:"totalRecords"`
		LogPersisted  bool                `json:"logPersisted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ImportStatusSuccess, resp.Status)
	assert.Equal(t, 2, resp.ImportedCount)
	assert.Equal(t, 2, resp.TotalRecords)
	assert.True(t, resp.LogPersisted)
	assert.Len(t, st.Transactions(), 2)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/imports/"+view.ID+"/commit", nil), "user-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/import-logs?accountId=acc-1", nil), "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []domain.ImportLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "extrato.csv", logs[0].FileName)

	// the same file again is all duplicates
	again := env.stage(t)
	assert.Equal(t, 2, again.DuplicateCount)
	assert.Equal(t, 0, again.NewCount)
}

func TestCommitImport_LogNotPersisted(t *testing.T) {
	env := newTestEnv(t, failingLogStore{store.NewMemory()})
	view := env.stage(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/imports/"+view.ID+"/commit", nil), "user-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ImportedCount int    `json:"importedCount"`
		LogPersisted  bool   `json:"logPersisted"`
		Warning       string `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.ImportedCount)
	assert.False(t, resp.LogPersisted)
	assert.Contains(t, resp.Warning, "firestore unavailable")
}

func TestDiscardImport(t *testing.T) {
	st := store.NewMemory()
	env := newTestEnv(t, st)
	view := env.stage(t)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/imports/"+view.ID, nil), "user-1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/imports/"+view.ID, nil), "user-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/imports/"+view.ID+"/commit", nil), "user-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, st.Transactions())
}

func TestGetImportLogs_RequiresAccount(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/import-logs", nil), "user-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/import-logs?accountId=acc-9", nil), "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestGetCategories(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/categories", nil), "user-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var cats []domain.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	require.NotEmpty(t, cats)
	assert.Equal(t, domain.CategoryTransport, cats[0])
	assert.Contains(t, cats, domain.CategoryOther)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

// sseEvent is one parsed text/event-stream frame
type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamImport(t *testing.T) {
	env := newTestEnv(t, store.NewMemory())
	view := env.stage(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithAuth(r.Context(), middleware.AuthInfo{UserID: "user-1"})
		env.mux.ServeHTTP(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/imports/"+view.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, "session", first.name)
	assert.Contains(t, first.data, `"totalRecords":2`)

	commitResp, err := http.Post(srv.URL+"/api/imports/"+view.ID+"/commit", "application/json", nil)
	require.NoError(t, err)
	commitResp.Body.Close()
	require.Equal(t, http.StatusOK, commitResp.StatusCode)

	var names []string
	for {
		ev := readEvent(t, reader)
		names = append(names, ev.name)
		if ev.name == "complete" {
			assert.Contains(t, ev.data, `"importedCount":2`)
			break
		}
	}
	assert.Contains(t, names, "progress")
}
