package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fyerfyer/elis-rag/internal/cache"
	"github.com/fyerfyer/elis-rag/internal/embedding"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownStrategy 未知的分块策略
	ErrUnknownStrategy = errors.New("unknown chunking strategy")
	// ErrEmbeddingCount 嵌入结果数量与输入不一致
	ErrEmbeddingCount = errors.New("embedding client returned wrong number of vectors")
	// ErrNilDocument 文档为空
	ErrNilDocument = errors.New("document is nil")
)

// Config 文档处理配置
type Config struct {
	ChunkSize         int           // 目标块大小（字符）
	ChunkOverlap      int           // 重叠词数（fixed_size策略下为字符数）
	MinChunkSize      int           // 低于该长度的块被丢弃
	MaxChunkSize      int           // 质量分的长度上限
	MinTextLength     int           // 清洗后低于该长度的文档不分块
	BatchSize         int           // 单次嵌入请求的文本数
	Strategy          Strategy      // 默认策略
	SemanticThreshold float64       // semantic策略的断开阈值
	Languages         []string      // 分句语言，依次尝试
	CacheTTL          time.Duration // 向量缓存有效期，0使用缓存默认值
	Cleaner           CleanerConfig
}

// DefaultConfig 返回默认文档处理配置
func DefaultConfig() Config {
	return Config{
		ChunkSize:         512,
		ChunkOverlap:      50,
		MinChunkSize:      100,
		MaxChunkSize:      1000,
		MinTextLength:     50,
		BatchSize:         32,
		Strategy:          StrategySentence,
		SemanticThreshold: 0.5,
		Languages:         []string{"pt", "en"},
		Cleaner:           DefaultCleanerConfig(),
	}
}

func (c Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap must not be negative, got %d", c.ChunkOverlap)
	}
	if c.MinChunkSize < 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("min chunk size %d must be within [0, %d]", c.MinChunkSize, c.ChunkSize)
	}
	if c.Strategy != "" {
		if _, err := ParseStrategy(string(c.Strategy)); err != nil {
			return err
		}
	}
	return nil
}

// Processor 文档处理器：清洗、分块、嵌入并组装分块记录
type Processor struct {
	cfg      Config
	cleaner  *Cleaner
	embedder embedding.Client
	vectors  *cache.VectorCache
	logger   *logrus.Logger
}

// Option 处理器配置选项
type Option func(*Processor)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithCache 使用指定的缓存保存文本向量，例如跨进程共享的Redis缓存
func WithCache(c cache.Cache) Option {
	return func(p *Processor) {
		p.vectors = cache.NewVectorCache(c, p.cfg.CacheTTL)
	}
}

// NewProcessor 创建文档处理器，未指定缓存时使用进程内缓存
func NewProcessor(cfg Config, embedder embedding.Client, opts ...Option) (*Processor, error) {
	if embedder == nil {
		return nil, errors.New("embedding client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid processor config: %w", err)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySentence
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	p := &Processor{
		cfg:      cfg,
		cleaner:  NewCleaner(cfg.Cleaner),
		embedder: embedder,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.vectors == nil {
		mem, err := cache.NewMemoryCache(cache.Config{Namespace: "emb"})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		p.vectors = cache.NewVectorCache(mem, cfg.CacheTTL)
	}
	return p, nil
}

// Config 返回处理配置
func (p *Processor) Config() Config {
	return p.cfg
}

// Embedder 返回嵌入客户端
func (p *Processor) Embedder() embedding.Client {
	return p.embedder
}

// CleanText 清洗文本
func (p *Processor) CleanText(text string) string {
	return p.cleaner.Clean(text)
}

// ChunkText 按策略切分已清洗的文本，strategy为空时使用默认策略
// 文本短于MinTextLength时返回空列表
func (p *Processor) ChunkText(ctx context.Context, text string, strategy Strategy) ([]string, error) {
	chunks, _, err := p.chunkText(ctx, text, strategy)
	return chunks, err
}

// chunkText 切分文本并返回每块与前一块实际重叠的量
// fixed_size为字符数，sentence和semantic为词数
func (p *Processor) chunkText(ctx context.Context, text string, strategy Strategy) ([]string, []int, error) {
	if strategy == "" {
		strategy = p.cfg.Strategy
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(text) == "" || runeLen(text) < p.cfg.MinTextLength {
		return []string{}, nil, nil
	}

	var chunks []string
	var overlaps []int
	switch strategy {
	case StrategySentence:
		sentences := SplitSentences(text, p.cfg.Languages)
		chunks = packUnits(sentences, " ", p.cfg.ChunkSize, p.cfg.MinChunkSize)
		chunks, overlaps = applyOverlap(chunks, p.cfg.ChunkOverlap)
	case StrategyParagraph:
		chunks = packUnits(splitParagraphs(text), "\n\n", p.cfg.ChunkSize, p.cfg.MinChunkSize)
	case StrategyFixedSize:
		chunks = splitFixedSize(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap, p.cfg.MinChunkSize)
		overlaps = fixedOverlaps(chunks, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	case StrategySemantic:
		sentences := SplitSentences(text, p.cfg.Languages)
		if len(sentences) <= 1 {
			chunks = packUnits(sentences, " ", p.cfg.ChunkSize, p.cfg.MinChunkSize)
			break
		}
		vectors, err := p.GenerateEmbeddings(ctx, sentences)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to embed sentences for semantic chunking: %w", err)
		}
		chunks = packSemantic(sentences, vectors, p.cfg.SemanticThreshold, p.cfg.ChunkSize, p.cfg.MinChunkSize)
		chunks, overlaps = applyOverlap(chunks, p.cfg.ChunkOverlap)
	}
	if chunks == nil {
		chunks = []string{}
	}
	if len(overlaps) != len(chunks) {
		overlaps = make([]int, len(chunks))
	}
	return chunks, overlaps, nil
}

// GenerateEmbeddings 为文本生成向量，先查缓存，未命中的去重后分批请求
func (p *Processor) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	if len(texts) == 0 {
		return result, nil
	}

	keys := make([]string, len(texts))
	missing := make(map[string][]int)
	var order []string
	for i, text := range texts {
		keys[i] = p.cacheKey(text)
		vec, found, err := p.vectors.GetVector(ctx, keys[i])
		if err != nil {
			p.logger.WithError(err).Warn("Embedding cache lookup failed")
		}
		if found {
			result[i] = vec
			continue
		}
		if _, seen := missing[text]; !seen {
			order = append(order, text)
		}
		missing[text] = append(missing[text], i)
	}

	hits := len(texts) - countIndexes(missing)
	for start := 0; start < len(order); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(order) {
			end = len(order)
		}
		batch := order[start:end]
		vectors, err := p.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: sent %d, got %d", ErrEmbeddingCount, len(batch), len(vectors))
		}
		for j, text := range batch {
			for _, idx := range missing[text] {
				result[idx] = vectors[j]
			}
			if err := p.vectors.SetVector(ctx, keys[missing[text][0]], vectors[j]); err != nil {
				p.logger.WithError(err).Warn("Embedding cache write failed")
			}
		}
	}

	p.logger.WithFields(logrus.Fields{
		"texts":      len(texts),
		"cache_hits": hits,
		"embedded":   len(order),
	}).Debug("Embeddings generated")
	return result, nil
}

// ClearCache 清空向量缓存
func (p *Processor) ClearCache(ctx context.Context) error {
	return p.vectors.Clear(ctx)
}

func (p *Processor) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.GenerateCacheKey("emb", p.embedder.Name(), hex.EncodeToString(sum[:]))
}

func countIndexes(m map[string][]int) int {
	n := 0
	for _, idx := range m {
		n += len(idx)
	}
	return n
}

// ProcessDocument 清洗、分块、嵌入并生成分块记录，相邻分块互相链接
// 清洗后过短的文档返回空列表而不是错误
func (p *Processor) ProcessDocument(ctx context.Context, doc *models.RawDocument, strategy Strategy) ([]*models.ProcessedChunk, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if strategy == "" {
		strategy = p.cfg.Strategy
	}
	docID := doc.ResolvedID()

	cleaned := p.CleanText(doc.Content)
	if runeLen(cleaned) < p.cfg.MinTextLength {
		return []*models.ProcessedChunk{}, nil
	}

	texts, overlaps, err := p.chunkText(ctx, cleaned, strategy)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return []*models.ProcessedChunk{}, nil
	}

	vectors, err := p.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	chunks := make([]*models.ProcessedChunk, len(texts))
	for i, text := range texts {
		chunk := &models.ProcessedChunk{
			ChunkID:       models.ChunkID(docID, i),
			Text:          text,
			Embedding:     vectors[i],
			DocumentID:    docID,
			ChunkIndex:    i,
			ChunkSize:     runeLen(text),
			OverlapSize:   overlaps[i],
			SourceType:    doc.SourceType,
			DocumentTitle: doc.Title,
			CreatedAt:     now,
			Metadata: map[string]interface{}{
				"chunking_strategy":        string(strategy),
				"original_document_length": runeLen(doc.Content),
				"cleaned_document_length":  runeLen(cleaned),
				"document_language":        doc.Language,
				"document_quality_score":   doc.QualityScore,
			},
		}
		chunk.ComputeNorm()
		chunk.QualityScore = p.chunkQualityScore(chunk, doc)
		chunks[i] = chunk
	}

	for i, chunk := range chunks {
		if i > 0 {
			chunk.PreviousChunk = chunks[i-1].ChunkID
		}
		if i < len(chunks)-1 {
			chunk.NextChunk = chunks[i+1].ChunkID
		}
	}
	return chunks, nil
}

// ProcessDocuments 逐个处理文档，单个文档失败只记录日志并跳过
// 只有上下文被取消时返回错误
func (p *Processor) ProcessDocuments(ctx context.Context, docs []*models.RawDocument, strategy Strategy) ([]*models.ProcessedChunk, error) {
	var all []*models.ProcessedChunk
	failed := 0
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		chunks, err := p.ProcessDocument(ctx, doc, strategy)
		if err != nil {
			failed++
			fields := logrus.Fields{"index": i}
			if doc != nil {
				fields["document_id"] = doc.ResolvedID()
				fields["title"] = models.Snippet(doc.Title, 50)
			}
			p.logger.WithFields(fields).WithError(err).Warn("Failed to process document, skipping")
			continue
		}
		all = append(all, chunks...)
	}

	p.logger.WithFields(logrus.Fields{
		"documents": len(docs),
		"failed":    failed,
		"chunks":    len(all),
		"strategy":  string(strategy),
	}).Info("Documents processed")
	if all == nil {
		all = []*models.ProcessedChunk{}
	}
	return all, nil
}

// chunkQualityScore 分块质量分
func (p *Processor) chunkQualityScore(chunk *models.ProcessedChunk, doc *models.RawDocument) float64 {
	score := 0.5
	length := runeLen(chunk.Text)
	switch {
	case length >= p.cfg.MinChunkSize && length <= p.cfg.MaxChunkSize:
		score += 0.2
	case length < p.cfg.MinChunkSize:
		score -= 0.2
	}
	score += doc.QualityScore * 0.3
	if chunk.EmbeddingNorm > 0.1 {
		score += 0.1
	}
	if strings.ContainsAny(chunk.Text, ".,!?;:") {
		score += 0.1
	}
	return models.Clamp01(score)
}

// ProcessingStats 分块集合的统计信息
type ProcessingStats struct {
	TotalChunks          int            `json:"total_chunks"`
	AvgChunkSize         float64        `json:"avg_chunk_size"`
	MinChunkSize         int            `json:"min_chunk_size"`
	MaxChunkSize         int            `json:"max_chunk_size"`
	AvgQualityScore      float64        `json:"avg_quality_score"`
	AvgEmbeddingNorm     float64        `json:"avg_embedding_norm"`
	SourceDistribution   map[string]int `json:"source_distribution"`
	DocumentDistribution map[string]int `json:"document_distribution"`
	StrategyDistribution map[string]int `json:"strategy_distribution"`
	UniqueDocuments      int            `json:"unique_documents"`
	ChunksPerDocument    float64        `json:"chunks_per_document"`
}

// ProcessingStatistics 汇总分块统计，空输入返回零值
func ProcessingStatistics(chunks []*models.ProcessedChunk) *ProcessingStats {
	stats := &ProcessingStats{
		SourceDistribution:   make(map[string]int),
		DocumentDistribution: make(map[string]int),
		StrategyDistribution: make(map[string]int),
	}
	if len(chunks) == 0 {
		return stats
	}

	stats.TotalChunks = len(chunks)
	stats.MinChunkSize = math.MaxInt
	for _, c := range chunks {
		stats.AvgChunkSize += float64(c.ChunkSize)
		stats.AvgQualityScore += c.QualityScore
		stats.AvgEmbeddingNorm += c.EmbeddingNorm
		if c.ChunkSize < stats.MinChunkSize {
			stats.MinChunkSize = c.ChunkSize
		}
		if c.ChunkSize > stats.MaxChunkSize {
			stats.MaxChunkSize = c.ChunkSize
		}
		stats.SourceDistribution[c.SourceType]++
		stats.DocumentDistribution[c.DocumentID]++
		if s, ok := c.Metadata["chunking_strategy"].(string); ok {
			stats.StrategyDistribution[s]++
		}
	}
	n := float64(len(chunks))
	stats.AvgChunkSize /= n
	stats.AvgQualityScore /= n
	stats.AvgEmbeddingNorm /= n
	stats.UniqueDocuments = len(stats.DocumentDistribution)
	stats.ChunksPerDocument = n / float64(stats.UniqueDocuments)
	return stats
}
