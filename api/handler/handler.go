package handler

import (
	"context"
	"errors"

	"github.com/fyerfyer/elis-rag/api/middleware"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
)

// Corpus 处理器依赖的语料库操作，由 pipeline.Pipeline 实现
type Corpus interface {
	Search(ctx context.Context, query string, topK int, filters *models.SearchFilters) ([]pipeline.Hit, error)
	SearchWithContext(ctx context.Context, query string, topK int, filters *models.SearchFilters, window int) ([]pipeline.Hit, error)
	ContextForQuery(ctx context.Context, query string, maxChars int) (string, error)
	Run(ctx context.Context, topic string, maxDocsPerSource int) (*pipeline.Report, error)
	RemoveDocument(ctx context.Context, documentID string) (int, error)
	RebuildIndex(ctx context.Context) (int, int64, error)
	Statistics(ctx context.Context) (*pipeline.Statistics, error)
}

var _ Corpus = (*pipeline.Pipeline)(nil)

// translateError 把领域错误转换为带HTTP状态的应用错误
func translateError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return middleware.NewValidationError("query is empty")
	case errors.Is(err, models.ErrInvalidFilter):
		return middleware.NewValidationError("invalid filters", err.Error())
	case errors.Is(err, models.ErrDocumentNotFound):
		return middleware.NewNotFoundError("document not found")
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		return middleware.NewNotFoundError("task not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return middleware.NewUnavailableError("request cancelled or timed out")
	default:
		return middleware.NewInternalError("operation failed", err.Error())
	}
}
