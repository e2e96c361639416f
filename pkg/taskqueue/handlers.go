package taskqueue

import (
	"context"
	"fmt"
	"strings"
)

// Operations 任务处理器背后的语料库操作
type Operations interface {
	// IngestTopic 执行一次按主题的入库流程，返回值作为任务结果
	IngestTopic(ctx context.Context, topic string, maxDocsPerSource int) (interface{}, error)

	// RemoveDocument 移除文档，返回移除的分块数
	RemoveDocument(ctx context.Context, documentID string) (int, error)

	// RebuildIndex 重建索引，返回重建后的分块数和代数
	RebuildIndex(ctx context.Context) (int, int64, error)
}

// NewHandlers 为三种任务类型创建处理器
func NewHandlers(ops Operations) map[TaskType]Handler {
	return map[TaskType]Handler{
		TaskIngestTopic:    HandlerFunc(ingestHandler(ops)),
		TaskRemoveDocument: HandlerFunc(removeDocumentHandler(ops)),
		TaskRebuildIndex:   HandlerFunc(rebuildIndexHandler(ops)),
	}
}

// RegisterHandlers 把所有处理器注册到工作者
func RegisterHandlers(w Worker, ops Operations) {
	for taskType, h := range NewHandlers(ops) {
		w.RegisterHandler(taskType, h)
	}
}

func ingestHandler(ops Operations) func(context.Context, *Task) (interface{}, error) {
	return func(ctx context.Context, task *Task) (interface{}, error) {
		var payload IngestTopicPayload
		if err := UnmarshalPayload(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if payload.MaxDocsPerSource < 0 {
			return nil, fmt.Errorf("%w: negative max_docs_per_source", ErrInvalidPayload)
		}
		return ops.IngestTopic(ctx, strings.TrimSpace(payload.Topic), payload.MaxDocsPerSource)
	}
}

func removeDocumentHandler(ops Operations) func(context.Context, *Task) (interface{}, error) {
	return func(ctx context.Context, task *Task) (interface{}, error) {
		var payload RemoveDocumentPayload
		if err := UnmarshalPayload(task.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if payload.DocumentID == "" {
			return nil, fmt.Errorf("%w: missing document_id", ErrInvalidPayload)
		}

		removed, err := ops.RemoveDocument(ctx, payload.DocumentID)
		if err != nil {
			return nil, err
		}
		return &RemoveDocumentResult{DocumentID: payload.DocumentID, Removed: removed}, nil
	}
}

func rebuildIndexHandler(ops Operations) func(context.Context, *Task) (interface{}, error) {
	return func(ctx context.Context, task *Task) (interface{}, error) {
		total, generation, err := ops.RebuildIndex(ctx)
		if err != nil {
			return nil, err
		}
		return &RebuildIndexResult{TotalChunks: total, Generation: generation}, nil
	}
}
