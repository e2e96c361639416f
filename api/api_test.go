package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/elis-rag/api/handler"
	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/fyerfyer/elis-rag/api/model"
	"github.com/fyerfyer/elis-rag/internal/metrics"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockCorpus 语料库操作的模拟实现
type mockCorpus struct {
	mock.Mock
}

func (m *mockCorpus) Search(ctx context.Context, query string, topK int, filters *models.SearchFilters) ([]pipeline.Hit, error) {
	args := m.Called(ctx, query, topK, filters)
	hits, _ := args.Get(0).([]pipeline.Hit)
	return hits, args.Error(1)
}

func (m *mockCorpus) SearchWithContext(ctx context.Context, query string, topK int, filters *models.SearchFilters, window int) ([]pipeline.Hit, error) {
	args := m.Called(ctx, query, topK, filters, window)
	hits, _ := args.Get(0).([]pipeline.Hit)
	return hits, args.Error(1)
}

func (m *mockCorpus) ContextForQuery(ctx context.Context, query string, maxChars int) (string, error) {
	args := m.Called(ctx, query, maxChars)
	return args.String(0), args.Error(1)
}

func (m *mockCorpus) Run(ctx context.Context, topic string, maxDocs int) (*pipeline.Report, error) {
	args := m.Called(ctx, topic, maxDocs)
	report, _ := args.Get(0).(*pipeline.Report)
	return report, args.Error(1)
}

func (m *mockCorpus) RemoveDocument(ctx context.Context, documentID string) (int, error) {
	args := m.Called(ctx, documentID)
	return args.Int(0), args.Error(1)
}

func (m *mockCorpus) RebuildIndex(ctx context.Context) (int, int64, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Get(1).(int64), args.Error(2)
}

func (m *mockCorpus) Statistics(ctx context.Context) (*pipeline.Statistics, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*pipeline.Statistics)
	return stats, args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	middleware.SetLogger(logger)
}

func setupRouter(t *testing.T, queue taskqueue.Queue) (*gin.Engine, *mockCorpus) {
	corpus := &mockCorpus{}
	t.Cleanup(func() { corpus.AssertExpectations(t) })

	var taskHandler *handler.TaskHandler
	if queue != nil {
		taskHandler = handler.NewTaskHandler(queue)
	}
	router := SetupRouter(
		handler.NewSearchHandler(corpus),
		handler.NewDocumentHandler(corpus, queue),
		taskHandler,
		nil,
	)
	return router, corpus
}

func setupQueue(t *testing.T) *taskqueue.RedisQueue {
	mr := miniredis.RunT(t)
	cfg := taskqueue.DefaultConfig()
	cfg.RedisAddr = mr.Addr()
	q, err := taskqueue.NewRedisQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func doJSON(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// decode 解析通用响应，data 解析到 out
func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) model.Response {
	var raw struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
		TraceID string          `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if out != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, out))
	}
	return model.Response{Code: raw.Code, Message: raw.Message, TraceID: raw.TraceID}
}

func TestSearch(t *testing.T) {
	router, corpus := setupRouter(t, nil)

	hits := []pipeline.Hit{{Text: "The quick brown fox", Similarity: 0.8, Source: "test", Document: "A", Rank: 1}}
	corpus.On("Search", mock.Anything, "fox jumps", 3, mock.MatchedBy(func(f *models.SearchFilters) bool {
		return len(f.SourceTypes) == 1 && f.SourceTypes[0] == "test"
	})).Return(hits, nil).Once()

	w := doJSON(router, http.MethodPost, "/api/search", gin.H{
		"query":   "fox jumps",
		"top_k":   3,
		"filters": gin.H{"source_type": "test", "unknown": 1},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var data model.SearchResponse
	resp := decode(t, w, &data)
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, 1, data.Total)
	assert.Equal(t, "A", data.Results[0].Document)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestSearch_WithContextWindow(t *testing.T) {
	router, corpus := setupRouter(t, nil)
	corpus.On("SearchWithContext", mock.Anything, "fox", 0, mock.Anything, 2).Return(nil, nil).Once()

	w := doJSON(router, http.MethodPost, "/api/search", gin.H{"query": "fox", "context_window": 2})
	require.Equal(t, http.StatusOK, w.Code)

	var data model.SearchResponse
	decode(t, w, &data)
	assert.Equal(t, 0, data.Total)
	assert.NotNil(t, data.Results)
}

func TestSearch_Errors(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		router, _ := setupRouter(t, nil)
		w := doJSON(router, http.MethodPost, "/api/search", gin.H{"top_k": 3})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed filter", func(t *testing.T) {
		router, _ := setupRouter(t, nil)
		w := doJSON(router, http.MethodPost, "/api/search", gin.H{
			"query":   "fox",
			"filters": gin.H{"chunk_size": "big"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		router, corpus := setupRouter(t, nil)
		corpus.On("Search", mock.Anything, "fox", 0, mock.Anything).
			Return(nil, vectordb.ErrDimensionMismatch).Once()

		req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewBufferString(`{"query":"fox"}`))
		req.Header.Set("X-Trace-ID", "trace-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decode(t, w, nil)
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
		assert.Equal(t, "trace-123", resp.TraceID)
	})
}

func TestContext(t *testing.T) {
	router, corpus := setupRouter(t, nil)
	corpus.On("ContextForQuery", mock.Anything, "fox", 100).Return("[test] The quick brown fox", nil).Once()

	w := doJSON(router, http.MethodPost, "/api/context", gin.H{"query": "fox", "max_chars": 100})
	require.Equal(t, http.StatusOK, w.Code)

	var data model.ContextResponse
	decode(t, w, &data)
	assert.Equal(t, "[test] The quick brown fox", data.Context)
	assert.Equal(t, 26, data.Length)
}

func TestIngest_Sync(t *testing.T) {
	router, corpus := setupRouter(t, nil)
	report := &pipeline.Report{RunID: "run-1", Topic: "fox", Status: pipeline.RunCompleted, ChunksNew: 2}
	corpus.On("Run", mock.Anything, "fox", 3).Return(report, nil).Once()

	w := doJSON(router, http.MethodPost, "/api/ingest", gin.H{"topic": "fox", "max_docs_per_source": 3})
	require.Equal(t, http.StatusOK, w.Code)

	var data pipeline.Report
	decode(t, w, &data)
	assert.Equal(t, "run-1", data.RunID)
	assert.Equal(t, 2, data.ChunksNew)
}

func TestIngest_StageFailureReturnsReport(t *testing.T) {
	router, corpus := setupRouter(t, nil)
	report := &pipeline.Report{RunID: "run-2", Topic: "fox", Status: pipeline.RunFailed, FailedStage: pipeline.StageCollect}
	stageErr := &pipeline.StageError{Stage: pipeline.StageCollect, Err: pipeline.ErrNoDocuments}
	corpus.On("Run", mock.Anything, "fox", 0).Return(report, stageErr).Once()

	w := doJSON(router, http.MethodPost, "/api/ingest", gin.H{"topic": "fox"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var data pipeline.Report
	resp := decode(t, w, &data)
	assert.Contains(t, resp.Message, "no documents collected")
	assert.Equal(t, pipeline.StageCollect, data.FailedStage)
}

func TestDeleteDocument(t *testing.T) {
	router, corpus := setupRouter(t, nil)
	corpus.On("RemoveDocument", mock.Anything, "doc-a").Return(1, nil).Once()
	corpus.On("RemoveDocument", mock.Anything, "missing").Return(0, models.ErrDocumentNotFound).Once()

	w := doJSON(router, http.MethodDelete, "/api/documents/doc-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data model.DocumentDeleteResponse
	decode(t, w, &data)
	assert.Equal(t, 1, data.Removed)

	w = doJSON(router, http.MethodDelete, "/api/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRebuildAndStats(t *testing.T) {
	router, corpus := setupRouter(t, nil)
	corpus.On("RebuildIndex", mock.Anything).Return(4, int64(3), nil).Once()
	corpus.On("Statistics", mock.Anything).Return(&pipeline.Statistics{
		Store:  &vectordb.Statistics{State: vectordb.StatePopulated},
		Topics: []string{"fox"},
	}, nil).Once()

	w := doJSON(router, http.MethodPost, "/api/index/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rebuilt model.RebuildResponse
	decode(t, w, &rebuilt)
	assert.Equal(t, 4, rebuilt.TotalChunks)
	assert.Equal(t, int64(3), rebuilt.Generation)

	w = doJSON(router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats pipeline.Statistics
	decode(t, w, &stats)
	assert.Equal(t, []string{"fox"}, stats.Topics)
}

func TestWritesGoThroughQueue(t *testing.T) {
	queue := setupQueue(t)
	router, _ := setupRouter(t, queue)

	w := doJSON(router, http.MethodPost, "/api/ingest", gin.H{"topic": "solar energy"})
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted model.TaskAcceptedResponse
	decode(t, w, &accepted)
	assert.Equal(t, taskqueue.TaskIngestTopic, accepted.Type)
	require.NotEmpty(t, accepted.TaskID)

	w = doJSON(router, http.MethodGet, "/api/tasks/"+accepted.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info taskqueue.TaskInfo
	decode(t, w, &info)
	assert.Equal(t, "solar energy", info.Subject)
	assert.Equal(t, taskqueue.StatusPending, info.Status)

	w = doJSON(router, http.MethodDelete, "/api/documents/doc-a", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(router, http.MethodGet, "/api/tasks?subject=doc-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Subject string                `json:"subject"`
		Tasks   []*taskqueue.TaskInfo `json:"tasks"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Tasks, 1)
	assert.Equal(t, taskqueue.TaskRemoveDocument, listed.Tasks[0].Type)
}

func TestTaskStatus_Errors(t *testing.T) {
	queue := setupQueue(t)
	router, _ := setupRouter(t, queue)

	w := doJSON(router, http.MethodGet, "/api/tasks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/tasks/unknown?wait=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.ObserveSearch(2, nil, 0)
	m.ObservePipelineRun(errors.New("boom"), 0)

	corpus := &mockCorpus{}
	router := SetupRouter(handler.NewSearchHandler(corpus), handler.NewDocumentHandler(corpus, nil), nil, reg)

	w := doJSON(router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	w = doJSON(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "elis_rag_searches_total")
	assert.Contains(t, w.Body.String(), `elis_rag_pipeline_runs_total{status="error"} 1`)

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
