package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/fyerfyer/elis-rag/api/model"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理入库、删除、重建和统计请求
// 配置了任务队列时所有写操作都交给工作者执行，保证向量库只有一个写者
type DocumentHandler struct {
	corpus Corpus
	queue  taskqueue.Queue
	logger *logrus.Logger
}

// NewDocumentHandler 创建文档处理器，queue可以为nil
func NewDocumentHandler(corpus Corpus, queue taskqueue.Queue) *DocumentHandler {
	return &DocumentHandler{
		corpus: corpus,
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// Ingest 按主题执行采集入库
// POST /api/ingest
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid ingest request", err.Error()))
		return
	}

	if h.queue != nil {
		h.enqueue(c, taskqueue.TaskIngestTopic, req.Topic, &taskqueue.IngestTopicPayload{
			Topic:            req.Topic,
			MaxDocsPerSource: req.MaxDocsPerSource,
		})
		return
	}

	report, err := h.corpus.Run(c.Request.Context(), req.Topic, req.MaxDocsPerSource)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) && report != nil {
			middleware.HandleError(c, middleware.NewBusinessError(err.Error(), report))
			return
		}
		middleware.HandleError(c, translateError(err))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"topic":      req.Topic,
		"run_id":     report.RunID,
		"chunks_new": report.ChunksNew,
	}).Info("Ingest request completed")
	c.JSON(http.StatusOK, model.NewSuccessResponse(report))
}

// DeleteDocument 删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req model.DocumentDeleteRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("document id is required"))
		return
	}

	if h.queue != nil {
		h.enqueue(c, taskqueue.TaskRemoveDocument, req.ID, &taskqueue.RemoveDocumentPayload{DocumentID: req.ID})
		return
	}

	removed, err := h.corpus.RemoveDocument(c.Request.Context(), req.ID)
	if err != nil {
		middleware.HandleError(c, translateError(err))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentDeleteResponse{
		DocumentID: req.ID,
		Removed:    removed,
	}))
}

// RebuildIndex 重建向量索引
// POST /api/index/rebuild
func (h *DocumentHandler) RebuildIndex(c *gin.Context) {
	if h.queue != nil {
		h.enqueue(c, taskqueue.TaskRebuildIndex, "index", nil)
		return
	}

	total, generation, err := h.corpus.RebuildIndex(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, translateError(err))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.RebuildResponse{
		TotalChunks: total,
		Generation:  generation,
	}))
}

// Stats 语料库统计
// GET /api/stats
func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.corpus.Statistics(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, translateError(err))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(stats))
}

func (h *DocumentHandler) enqueue(c *gin.Context, taskType taskqueue.TaskType, subject string, payload interface{}) {
	taskID, err := h.queue.Enqueue(c.Request.Context(), taskType, subject, payload)
	if err != nil {
		h.logger.WithError(err).WithField("task_type", taskType).Error("Failed to enqueue task")
		middleware.HandleError(c, middleware.NewUnavailableError("task queue unavailable"))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": taskType,
		"subject":   subject,
	}).Info("Task enqueued")
	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.TaskAcceptedResponse{
		TaskID: taskID,
		Type:   taskType,
		Status: taskqueue.StatusPending,
	}))
}
