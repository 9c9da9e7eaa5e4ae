package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRetrieval struct {
	results []models.RetrievedChunk
	err     error
}

func (s *stubRetrieval) Search(ctx context.Context, query string, filters *models.SearchFilters, limit int) ([]models.RetrievedChunk, error) {
	return s.results, s.err
}

type stubIngestion struct {
	report    *models.IngestReport
	ingestErr error
	deleteErr error

	ingested []string
	deleted  []string
}

func (s *stubIngestion) IngestDatabase(ctx context.Context, databaseID string) (*models.IngestReport, error) {
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	return s.report, nil
}

func (s *stubIngestion) IngestPage(ctx context.Context, databaseID, pageID string) error {
	s.ingested = append(s.ingested, pageID)
	return s.ingestErr
}

func (s *stubIngestion) DeletePage(ctx context.Context, pageID string) error {
	s.deleted = append(s.deleted, pageID)
	return s.deleteErr
}

type stubChat struct {
	resp *models.ChatResponse
	err  error
}

func (s *stubChat) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	return s.resp, s.err
}

func (s *stubChat) ChatStream(ctx context.Context, req *models.ChatRequest, stream services.ChatStream) error {
	if s.err != nil {
		return s.err
	}
	if err := stream.SendContent(s.resp.Content); err != nil {
		return err
	}
	return stream.SendCitations(s.resp.Citations)
}

type stubSessions struct {
	session *models.ChatSession
	err     error
}

func (s *stubSessions) CreateSession(ctx context.Context) (*models.ChatSession, error) {
	return s.session, s.err
}

func (s *stubSessions) GetSession(ctx context.Context, id uuid.UUID) (*models.ChatSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.session, nil
}

func (s *stubSessions) ListSessions(ctx context.Context, limit, offset int) ([]models.ChatSession, int64, error) {
	if s.session == nil {
		return nil, 0, s.err
	}
	return []models.ChatSession{*s.session}, 1, s.err
}

func (s *stubSessions) DeleteSession(ctx context.Context, id uuid.UUID) error   { return s.err }
func (s *stubSessions) ResumeSession(ctx context.Context, id uuid.UUID) error   { return s.err }
func (s *stubSessions) StartIdleMonitor(ctx context.Context)                    {}
func (s *stubSessions) ConcludeSession(ctx context.Context, id uuid.UUID, reason string) error {
	return s.err
}

func (s *stubSessions) AppendMessage(ctx context.Context, sessionID uuid.UUID, msg *models.ChatMessage) error {
	return s.err
}

func (s *stubSessions) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error) {
	return nil, s.err
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSearchHandlerReturnsResults(t *testing.T) {
	retrieval := &stubRetrieval{results: []models.RetrievedChunk{
		{ChunkID: uuid.New(), DocumentTitle: "Guide", Content: "body", FinalScore: 0.6},
	}}
	router := gin.New()
	router.POST("/search", NewSearchHandlers(retrieval, logger.NewNop()).Search)

	w := performJSON(t, router, http.MethodPost, "/search", models.SearchRequest{Query: "deploy"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "deploy", resp.Query)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Guide", resp.Results[0].DocumentTitle)
}

func TestSearchHandlerEmptyResultsAsEmptyList(t *testing.T) {
	router := gin.New()
	router.POST("/search", NewSearchHandlers(&stubRetrieval{}, logger.NewNop()).Search)

	w := performJSON(t, router, http.MethodPost, "/search", models.SearchRequest{Query: "nothing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"results":[]`)
}

func TestSearchHandlerRejectsMissingQuery(t *testing.T) {
	router := gin.New()
	router.POST("/search", NewSearchHandlers(&stubRetrieval{}, logger.NewNop()).Search)

	w := performJSON(t, router, http.MethodPost, "/search", map[string]interface{}{"limit": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandlerNonStreaming(t *testing.T) {
	chat := &stubChat{resp: &models.ChatResponse{Content: "the answer"}}
	router := gin.New()
	router.POST("/chat", NewChatHandlers(chat, logger.NewNop()).Chat)

	w := performJSON(t, router, http.MethodPost, "/chat", models.ChatRequest{
		Messages: []models.ChatInputMessage{{Role: "user", Content: "q"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "the answer")
}

func TestChatHandlerStreamsSSE(t *testing.T) {
	chat := &stubChat{resp: &models.ChatResponse{
		Content:   "streamed answer",
		Citations: models.Citations{{DocumentID: "d1", Title: "Guide"}},
	}}
	router := gin.New()
	router.POST("/chat", NewChatHandlers(chat, logger.NewNop()).Chat)

	w := performJSON(t, router, http.MethodPost, "/chat", models.ChatRequest{
		Messages: []models.ChatInputMessage{{Role: "user", Content: "q"}},
		Stream:   true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"content":"streamed answer"}`)
	assert.Contains(t, body, `"citations"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestSessionHandlerInvalidID(t *testing.T) {
	router := gin.New()
	h := NewSessionHandlers(&stubSessions{}, logger.NewNop())
	router.GET("/api/chat-sessions/:id", h.GetSession)

	w := performJSON(t, router, http.MethodGet, "/api/chat-sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerNotFound(t *testing.T) {
	router := gin.New()
	h := NewSessionHandlers(&stubSessions{err: services.ErrSessionNotFound}, logger.NewNop())
	router.GET("/api/chat-sessions/:id", h.GetSession)

	w := performJSON(t, router, http.MethodGet, "/api/chat-sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandlerCreate(t *testing.T) {
	session := &models.ChatSession{ID: uuid.New(), Status: models.SessionStatusActive}
	router := gin.New()
	h := NewSessionHandlers(&stubSessions{session: session}, logger.NewNop())
	router.POST("/api/chat-sessions", h.CreateSession)

	w := performJSON(t, router, http.MethodPost, "/api/chat-sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), session.ID.String())
}

func TestWebhookHandlerIngestsPageEvents(t *testing.T) {
	ingestion := &stubIngestion{}
	router := gin.New()
	router.POST("/notion/webhook", NewWebhookHandlers(ingestion, logger.NewNop()).NotionWebhook)

	w := performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "event",
		"event_type": "page.updated",
		"data":       map[string]interface{}{"page_id": "p-1", "database_id": "db-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1"}, ingestion.ingested)
}

func TestWebhookHandlerDeleteToleratesMissingDocument(t *testing.T) {
	ingestion := &stubIngestion{deleteErr: services.ErrDocumentNotFound}
	router := gin.New()
	router.POST("/notion/webhook", NewWebhookHandlers(ingestion, logger.NewNop()).NotionWebhook)

	w := performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "event",
		"event_type": "page.deleted",
		"data":       map[string]interface{}{"page_id": "p-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1"}, ingestion.deleted)
}

func TestWebhookHandlerDeleteAcceptsIDKey(t *testing.T) {
	ingestion := &stubIngestion{}
	router := gin.New()
	router.POST("/notion/webhook", NewWebhookHandlers(ingestion, logger.NewNop()).NotionWebhook)

	w := performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "page",
		"event_type": "deleted",
		"data":       map[string]interface{}{"id": "p-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-1"}, ingestion.deleted)
}

func TestWebhookHandlerUpdateAcceptsIDKey(t *testing.T) {
	ingestion := &stubIngestion{}
	router := gin.New()
	router.POST("/notion/webhook", NewWebhookHandlers(ingestion, logger.NewNop()).NotionWebhook)

	w := performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "page",
		"event_type": "page.updated",
		"data":       map[string]interface{}{"id": "p-2", "database_id": "db-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"p-2"}, ingestion.ingested)
}

func TestWebhookHandlerIgnoresUnknownEventsAndDatabases(t *testing.T) {
	ingestion := &stubIngestion{ingestErr: services.ErrUnknownDatabase}
	router := gin.New()
	router.POST("/notion/webhook", NewWebhookHandlers(ingestion, logger.NewNop()).NotionWebhook)

	w := performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "event",
		"event_type": "comment.created",
		"data":       map[string]interface{}{},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")

	w = performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "event",
		"event_type": "page.created",
		"data":       map[string]interface{}{"page_id": "p-1", "database_id": "unregistered"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not registered")
}

func TestWebhookHandlerRejectsIncompletePayloads(t *testing.T) {
	router := gin.New()
	router.POST("/notion/webhook", NewWebhookHandlers(&stubIngestion{}, logger.NewNop()).NotionWebhook)

	w := performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object": "event",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performJSON(t, router, http.MethodPost, "/notion/webhook", map[string]interface{}{
		"object":     "event",
		"event_type": "page.created",
		"data":       map[string]interface{}{"page_id": "p-1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandlerIngestUnknownDatabase(t *testing.T) {
	ingestion := &stubIngestion{ingestErr: services.ErrUnknownDatabase}
	router := gin.New()
	h := NewAdminHandlers(ingestion, nil, nil, logger.NewNop())
	router.POST("/admin/ingest/:database_id", h.IngestDatabase)

	w := performJSON(t, router, http.MethodPost, "/admin/ingest/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandlerIngestReturnsReport(t *testing.T) {
	ingestion := &stubIngestion{report: &models.IngestReport{
		DatabaseID:     "db-1",
		PagesFetched:   3,
		PagesSucceeded: 3,
	}}
	router := gin.New()
	h := NewAdminHandlers(ingestion, nil, nil, logger.NewNop())
	router.POST("/admin/ingest/:database_id", h.IngestDatabase)

	w := performJSON(t, router, http.MethodPost, "/admin/ingest/db-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.IngestReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 3, report.PagesSucceeded)
}
