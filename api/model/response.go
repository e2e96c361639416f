package model

import (
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// SearchResponse 检索响应
type SearchResponse struct {
	Query   string         `json:"query"`
	Total   int            `json:"total"`
	Results []pipeline.Hit `json:"results"`
}

// ContextResponse 上下文拼接响应
type ContextResponse struct {
	Query   string `json:"query"`
	Context string `json:"context"`
	Length  int    `json:"length"` // 字符数
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	DocumentID string `json:"document_id"`
	Removed    int    `json:"removed"` // 移除的分块数
}

// RebuildResponse 索引重建响应
type RebuildResponse struct {
	TotalChunks int   `json:"total_chunks"`
	Generation  int64 `json:"generation"`
}

// TaskAcceptedResponse 写操作被放入任务队列时的响应
type TaskAcceptedResponse struct {
	TaskID string               `json:"task_id"`
	Type   taskqueue.TaskType   `json:"type"`
	Status taskqueue.TaskStatus `json:"status"`
}
