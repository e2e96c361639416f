package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 100

// corpusRepository 基于gorm的语料仓储实现
type corpusRepository struct {
	db *gorm.DB
}

// NewCorpusRepository 使用指定的数据库连接创建语料仓储
func NewCorpusRepository(db *gorm.DB) (CorpusRepository, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &corpusRepository{db: db}, nil
}

// SaveDocuments 批量保存文档
func (r *corpusRepository) SaveDocuments(ctx context.Context, docs []*models.RawDocument) (int, error) {
	records := make([]*models.DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		records = append(records, models.NewDocumentRecord(doc))
	}
	if len(records) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, insertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save documents: %w", err)
	}
	return len(records), nil
}

// GetDocument 根据ID获取文档
func (r *corpusRepository) GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error) {
	var doc models.DocumentRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil, err
	}
	return &doc, nil
}

// DocumentExists 文档是否已保存
func (r *corpusRepository) DocumentExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DocumentRecord{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return count > 0, nil
}

// SaveChunks 批量保存分块，positions中缺失的分块位置记为-1
func (r *corpusRepository) SaveChunks(ctx context.Context, chunks []*models.ProcessedChunk, positions map[string]int64) (int, error) {
	records := make([]*models.ChunkRecord, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		pos, ok := positions[chunk.ResolvedID()]
		if !ok {
			pos = -1
		}
		records = append(records, models.NewChunkRecord(chunk, pos))
	}
	if len(records) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(records, insertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save chunks: %w", err)
	}
	return len(records), nil
}

// ChunkIDs 文档的分块ID
func (r *corpusRepository) ChunkIDs(ctx context.Context, documentID string) ([]string, error) {
	query := r.db.WithContext(ctx).Model(&models.ChunkRecord{})
	if documentID != "" {
		query = query.Where("document_id = ?", documentID)
	}
	var ids []string
	if err := query.Order("document_id, chunk_index").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	return ids, nil
}

// GetChunks 获取文档的分块
func (r *corpusRepository) GetChunks(ctx context.Context, documentID string) ([]*models.ProcessedChunk, error) {
	var records []*models.ChunkRecord
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	chunks := make([]*models.ProcessedChunk, len(records))
	for i, rec := range records {
		chunks[i] = rec.ToChunk()
	}
	return chunks, nil
}

// DeleteDocument 在事务中删除分块和文档
func (r *corpusRepository) DeleteDocument(ctx context.Context, id string) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("document_id = ?", id).Delete(&models.ChunkRecord{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected

		res = tx.Where("id = ?", id).Delete(&models.DocumentRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 && removed == 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// LogSearch 记录一次检索
func (r *corpusRepository) LogSearch(ctx context.Context, entry *models.SearchHistory) error {
	if entry == nil {
		return errors.New("search history entry is nil")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log search: %w", err)
	}
	return nil
}

// RecentSearches 按时间倒序返回最近的检索
func (r *corpusRepository) RecentSearches(ctx context.Context, limit int) ([]*models.SearchHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []*models.SearchHistory
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	return entries, nil
}

// CleanupOldSearches 删除过期的检索记录
func (r *corpusRepository) CleanupOldSearches(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SearchHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cleanup searches: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetConfig 读取配置项
func (r *corpusRepository) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var cfg models.SystemConfig
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read config %s: %w", key, err)
	}
	return cfg.Value, true, nil
}

// SetConfig 写入配置项
func (r *corpusRepository) SetConfig(ctx context.Context, key, value, description string) error {
	cfg := &models.SystemConfig{
		Key:         key,
		Value:       value,
		Description: description,
		UpdatedAt:   time.Now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("failed to write config %s: %w", key, err)
	}
	return nil
}

// Statistics 语料统计
func (r *corpusRepository) Statistics(ctx context.Context) (*CorpusStats, error) {
	db := r.db.WithContext(ctx)
	stats := &CorpusStats{SourceDistribution: make(map[string]int64)}

	if err := db.Model(&models.DocumentRecord{}).Count(&stats.TotalDocuments).Error; err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := db.Model(&models.ChunkRecord{}).Count(&stats.TotalChunks).Error; err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := db.Model(&models.SearchHistory{}).Count(&stats.TotalSearches).Error; err != nil {
		return nil, fmt.Errorf("failed to count searches: %w", err)
	}

	var avg struct{ Avg *float64 }
	if err := db.Model(&models.DocumentRecord{}).Select("AVG(quality_score) AS avg").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("failed to average document quality: %w", err)
	}
	if avg.Avg != nil {
		stats.AvgDocumentQuality = *avg.Avg
	}
	avg.Avg = nil
	if err := db.Model(&models.ChunkRecord{}).Select("AVG(quality_score) AS avg").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("failed to average chunk quality: %w", err)
	}
	if avg.Avg != nil {
		stats.AvgChunkQuality = *avg.Avg
	}

	var rows []struct {
		SourceType string
		Count      int64
	}
	err := db.Model(&models.DocumentRecord{}).
		Select("source_type, COUNT(*) AS count").
		Group("source_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to group documents by source: %w", err)
	}
	for _, row := range rows {
		stats.SourceDistribution[row.SourceType] = row.Count
	}

	var last models.SearchHistory
	err = db.Order("created_at DESC").First(&last).Error
	switch {
	case err == nil:
		stats.LastSearchAt = &last.CreatedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to read last search: %w", err)
	}
	return stats, nil
}

// Vacuum 整理SQLite数据库文件
func (r *corpusRepository) Vacuum(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
