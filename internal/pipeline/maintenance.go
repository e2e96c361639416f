package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/fyerfyer/elis-rag/internal/repository"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// Statistics 向量库与元数据库的汇总统计
type Statistics struct {
	Store  *vectordb.Statistics    `json:"vector_store"`
	Corpus *repository.CorpusStats `json:"corpus,omitempty"`
	Topics []string                `json:"topics"`
}

// RemoveDocument 从向量库和元数据库中移除文档，返回移除的分块数
// 两边都没有该文档时返回models.ErrDocumentNotFound
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID string) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	log := p.logger.WithField("document_id", documentID)
	generation := p.store.Generation()

	removed, err := p.store.RemoveChunksByDocument(documentID)
	if err != nil {
		return removed, fmt.Errorf("failed to remove document chunks: %w", err)
	}

	rowsDeleted := false
	if p.repo != nil {
		if _, err := p.repo.DeleteDocument(ctx, documentID); err == nil {
			rowsDeleted = true
		} else if !errors.Is(err, models.ErrDocumentNotFound) {
			log.WithError(err).Warn("Failed to delete document rows")
		}
	}
	if removed == 0 && !rowsDeleted {
		return 0, models.ErrDocumentNotFound
	}

	if p.store.Config().StorageDir != "" && removed > 0 {
		if err := p.store.Save(); err != nil {
			return removed, stageError(StagePersist, err)
		}
	}
	if p.store.Generation() != generation {
		p.syncPositions(ctx, log)
	}
	p.updateStoreMetrics()

	log.WithFields(logrus.Fields{
		"removed":      removed,
		"rows_deleted": rowsDeleted,
	}).Info("Document removed")
	return removed, nil
}

// RebuildIndex 重建向量索引，返回存活分块数和新的代数
func (p *Pipeline) RebuildIndex(ctx context.Context) (int, int64, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if err := p.store.RebuildIndex(); err != nil {
		return 0, 0, fmt.Errorf("failed to rebuild index: %w", err)
	}
	log := p.logger.WithField("generation", p.store.Generation())
	p.syncPositions(ctx, log)
	p.updateStoreMetrics()

	log.WithField("chunks", p.store.Len()).Info("Index rebuilt")
	return p.store.Len(), p.store.Generation(), nil
}

// CleanupResult 维护操作的结果
type CleanupResult struct {
	SearchesDeleted int64 `json:"searches_deleted"`
	Compacted       bool  `json:"compacted"`
	Generation      int64 `json:"generation"`
}

// Cleanup 删除早于olderThan的检索历史并整理数据库，同时压缩带墓碑的索引
func (p *Pipeline) Cleanup(ctx context.Context, olderThan time.Duration) (*CleanupResult, error) {
	if p.repo == nil {
		return nil, ErrNoRepository
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deleted, err := p.repo.CleanupOldSearches(ctx, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to cleanup search history: %w", err)
	}
	if err := p.repo.Vacuum(ctx); err != nil {
		return nil, fmt.Errorf("failed to vacuum database: %w", err)
	}

	generation := p.store.Generation()
	if err := p.store.Compact(); err != nil {
		return nil, fmt.Errorf("failed to compact index: %w", err)
	}
	result := &CleanupResult{
		SearchesDeleted: deleted,
		Compacted:       p.store.Generation() != generation,
		Generation:      p.store.Generation(),
	}
	log := p.logger.WithField("generation", result.Generation)
	if result.Compacted {
		if p.store.Config().StorageDir != "" {
			if err := p.store.Save(); err != nil {
				return nil, stageError(StagePersist, err)
			}
		}
		p.syncPositions(ctx, log)
		p.updateStoreMetrics()
	}

	log.WithFields(logrus.Fields{
		"older_than":       olderThan,
		"searches_deleted": deleted,
		"compacted":        result.Compacted,
	}).Info("Corpus maintenance finished")
	return result, nil
}

// Statistics 汇总统计，未配置元数据库时Corpus为空
func (p *Pipeline) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{Store: p.store.Statistics()}
	if p.repo != nil {
		corpus, err := p.repo.Statistics(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get corpus statistics: %w", err)
		}
		stats.Corpus = corpus
	}
	topics, err := p.Topics(ctx)
	if err != nil {
		return nil, err
	}
	stats.Topics = topics
	return stats, nil
}
