package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Hit 简化后的检索结果
type Hit struct {
	Text         string   `json:"text"`
	Similarity   float64  `json:"similarity"`
	Source       string   `json:"source"`
	Document     string   `json:"document"` // 文档标题
	DocumentID   string   `json:"document_id"`
	ChunkID      string   `json:"chunk_id"`
	QualityScore float64  `json:"quality_score"`
	Rank         int      `json:"rank"`
	Context      []string `json:"context,omitempty"` // 同一文档中相邻分块的文本
}

// Search 嵌入查询并检索最相似的分块
// 没有匹配时返回空切片和nil
func (p *Pipeline) Search(ctx context.Context, query string, topK int, filters *models.SearchFilters) ([]Hit, error) {
	return p.search(ctx, query, topK, filters, 0)
}

// SearchWithContext 检索并附带每个结果前后window个相邻分块
func (p *Pipeline) SearchWithContext(ctx context.Context, query string, topK int, filters *models.SearchFilters, window int) ([]Hit, error) {
	if window <= 0 {
		window = p.store.Config().ContextWindow
	}
	return p.search(ctx, query, topK, filters, window)
}

func (p *Pipeline) search(ctx context.Context, query string, topK int, filters *models.SearchFilters, window int) (hits []Hit, err error) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveSearch(len(hits), err, time.Since(start))
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = p.cfg.DefaultTopK
	}

	vectors, err := p.processor.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var results []*models.SearchResult
	if window > 0 {
		results, err = p.store.SearchWithContext(vectors[0], topK, filters, window)
	} else {
		results, err = p.store.Search(vectors[0], topK, filters)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	hits = make([]Hit, 0, len(results))
	for _, r := range results {
		hit := Hit{
			Text:         r.Chunk.Text,
			Similarity:   r.Score,
			Source:       r.Chunk.SourceType,
			Document:     r.Chunk.DocumentTitle,
			DocumentID:   r.Chunk.DocumentID,
			ChunkID:      r.Chunk.ChunkID,
			QualityScore: r.Chunk.QualityScore,
			Rank:         r.Rank,
		}
		for _, c := range r.ContextChunks {
			hit.Context = append(hit.Context, c.Text)
		}
		hits = append(hits, hit)
	}

	elapsed := time.Since(start)
	p.logger.WithFields(logrus.Fields{
		"query":    models.Snippet(query, 50),
		"top_k":    topK,
		"results":  len(hits),
		"duration": elapsed,
	}).Debug("Search completed")

	if p.repo != nil {
		p.logSearch(ctx, query, filters, hits, elapsed)
	}
	return hits, nil
}

// logSearch 记录检索历史，失败只记录日志
func (p *Pipeline) logSearch(ctx context.Context, query string, filters *models.SearchFilters, hits []Hit, elapsed time.Duration) {
	entry := &models.SearchHistory{
		ID:              uuid.NewString(),
		Query:           query,
		ResultsCount:    len(hits),
		ExecutionTimeMs: float64(elapsed.Microseconds()) / 1000,
		CreatedAt:       time.Now(),
	}
	ids := make([]string, len(hits))
	var sum float64
	for i, h := range hits {
		ids[i] = h.ChunkID
		sum += h.Similarity
		if h.Similarity > entry.TopScore {
			entry.TopScore = h.Similarity
		}
	}
	if len(hits) > 0 {
		entry.AvgScore = sum / float64(len(hits))
	}
	if data, err := json.Marshal(ids); err == nil {
		entry.ResultsSummary = datatypes.JSON(data)
	}
	if filters != nil && !filters.IsEmpty() {
		if data, err := json.Marshal(filters); err == nil {
			entry.FiltersApplied = datatypes.JSON(data)
		}
	}

	if err := p.repo.LogSearch(ctx, entry); err != nil {
		p.logger.WithError(err).Warn("Failed to log search history")
	}
}

// ContextForQuery 拼接检索结果作为生成模型的上下文
// 每个片段以来源标签开头，以空行分隔，总长度不超过maxChars个字符，最后一个片段必要时截断
func (p *Pipeline) ContextForQuery(ctx context.Context, query string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = p.cfg.ContextMaxChars
	}
	hits, err := p.Search(ctx, query, p.cfg.ContextTopK, nil)
	if err != nil {
		return "", err
	}

	const sep = "\n\n"
	var b strings.Builder
	used := 0
	for _, h := range hits {
		if used > 0 {
			if used+len(sep) >= maxChars {
				break
			}
			b.WriteString(sep)
			used += len(sep)
		}
		fragment := fmt.Sprintf("[%s] %s", h.Source, h.Text)
		remaining := maxChars - used
		if n := utf8.RuneCountInString(fragment); n > remaining {
			b.WriteString(string([]rune(fragment)[:remaining]))
			break
		}
		b.WriteString(fragment)
		used += utf8.RuneCountInString(fragment)
	}
	return b.String(), nil
}
