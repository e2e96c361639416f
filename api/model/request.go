package model

// SearchRequest 语义检索请求
type SearchRequest struct {
	Query         string                 `json:"query" binding:"required"`                 // 查询文本
	TopK          int                    `json:"top_k" binding:"omitempty,min=1"`          // 返回结果数，缺省使用服务端默认值
	Filters       map[string]interface{} `json:"filters" binding:"omitempty"`              // source_type、quality_score、document_id、chunk_size
	ContextWindow int                    `json:"context_window" binding:"omitempty,min=0"` // 大于0时附带相邻分块
}

// ContextRequest 上下文拼接请求
type ContextRequest struct {
	Query    string `json:"query" binding:"required"`
	MaxChars int    `json:"max_chars" binding:"omitempty,min=1"` // 字符预算
}

// IngestRequest 主题入库请求
type IngestRequest struct {
	Topic            string `json:"topic" binding:"required"`
	MaxDocsPerSource int    `json:"max_docs_per_source" binding:"omitempty,min=1"`
}

// DocumentDeleteRequest 文档删除请求
type DocumentDeleteRequest struct {
	ID string `uri:"id" binding:"required"` // 文档ID
}

// TaskStatusRequest 任务状态查询请求
type TaskStatusRequest struct {
	ID   string `uri:"id" binding:"required"`
	Wait string `form:"wait" binding:"omitempty"` // 等待任务结束的最长时间，例如 10s
}
