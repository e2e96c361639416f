package repository

import (
	"context"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
)

// CorpusRepository 语料元数据仓储接口
// 混合存储模式下保存文档、分块、检索历史与系统配置，向量本身由向量库保存
type CorpusRepository interface {
	// SaveDocuments 批量保存文档，已存在的按ID覆盖
	SaveDocuments(ctx context.Context, docs []*models.RawDocument) (int, error)

	// GetDocument 根据ID获取文档
	GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error)

	// DocumentExists 文档是否已保存
	DocumentExists(ctx context.Context, id string) (bool, error)

	// SaveChunks 批量保存分块及其在向量索引中的位置
	SaveChunks(ctx context.Context, chunks []*models.ProcessedChunk, positions map[string]int64) (int, error)

	// ChunkIDs 文档的分块ID，documentID为空时返回全部
	ChunkIDs(ctx context.Context, documentID string) ([]string, error)

	// GetChunks 按文档内序号获取文档的分块（不含向量）
	GetChunks(ctx context.Context, documentID string) ([]*models.ProcessedChunk, error)

	// DeleteDocument 删除文档及其分块，返回删除的分块数
	DeleteDocument(ctx context.Context, id string) (int64, error)

	// LogSearch 记录一次检索
	LogSearch(ctx context.Context, entry *models.SearchHistory) error

	// RecentSearches 最近的检索记录
	RecentSearches(ctx context.Context, limit int) ([]*models.SearchHistory, error)

	// CleanupOldSearches 删除早于olderThan的检索记录
	CleanupOldSearches(ctx context.Context, olderThan time.Duration) (int64, error)

	// GetConfig 读取配置项
	GetConfig(ctx context.Context, key string) (string, bool, error)

	// SetConfig 写入配置项
	SetConfig(ctx context.Context, key, value, description string) error

	// Statistics 语料统计
	Statistics(ctx context.Context) (*CorpusStats, error)

	// Vacuum 整理数据库文件
	Vacuum(ctx context.Context) error
}

// CorpusStats 语料统计
type CorpusStats struct {
	TotalDocuments     int64            `json:"total_documents"`
	TotalChunks        int64            `json:"total_chunks"`
	TotalSearches      int64            `json:"total_searches"`
	AvgDocumentQuality float64          `json:"avg_document_quality"`
	AvgChunkQuality    float64          `json:"avg_chunk_quality"`
	SourceDistribution map[string]int64 `json:"source_distribution"`
	LastSearchAt       *time.Time       `json:"last_search_at,omitempty"`
}
