package handler

import (
	"net/http"
	"unicode/utf8"

	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/fyerfyer/elis-rag/api/model"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SearchHandler 处理检索相关的API请求
type SearchHandler struct {
	corpus Corpus
	logger *logrus.Logger
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(corpus Corpus) *SearchHandler {
	return &SearchHandler{
		corpus: corpus,
		logger: middleware.GetLogger(),
	}
}

// Search 语义检索
// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid search request", err.Error()))
		return
	}

	filters, err := models.ParseFilters(req.Filters)
	if err != nil {
		middleware.HandleError(c, translateError(err))
		return
	}

	ctx := c.Request.Context()
	var hits []pipeline.Hit
	if req.ContextWindow > 0 {
		hits, err = h.corpus.SearchWithContext(ctx, req.Query, req.TopK, filters, req.ContextWindow)
	} else {
		hits, err = h.corpus.Search(ctx, req.Query, req.TopK, filters)
	}
	if err != nil {
		middleware.HandleError(c, translateError(err))
		return
	}
	if hits == nil {
		hits = []pipeline.Hit{}
	}

	h.logger.WithFields(logrus.Fields{
		"query":   models.Snippet(req.Query, 50),
		"results": len(hits),
	}).Debug("Search request served")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SearchResponse{
		Query:   req.Query,
		Total:   len(hits),
		Results: hits,
	}))
}

// Context 拼接检索结果作为上下文
// POST /api/context
func (h *SearchHandler) Context(c *gin.Context) {
	var req model.ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid context request", err.Error()))
		return
	}

	text, err := h.corpus.ContextForQuery(c.Request.Context(), req.Query, req.MaxChars)
	if err != nil {
		middleware.HandleError(c, translateError(err))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ContextResponse{
		Query:   req.Query,
		Context: text,
		Length:  utf8.RuneCountInString(text),
	}))
}
