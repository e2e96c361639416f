package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fyerfyer/elis-rag/internal/collector"
	"github.com/fyerfyer/elis-rag/internal/document"
	"github.com/fyerfyer/elis-rag/internal/metrics"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/fyerfyer/elis-rag/internal/quality"
	"github.com/fyerfyer/elis-rag/internal/repository"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
	"github.com/fyerfyer/elis-rag/pkg/storage"
	"github.com/sirupsen/logrus"
)

// 每次入库后写入system_config的键
const (
	ConfigKeyLastRun            = "last_run_id"
	ConfigKeyEmbeddingModel     = "embedding_model"
	ConfigKeyEmbeddingDimension = "embedding_dimension"
)

// Config 流水线配置
type Config struct {
	MaxDocsPerSource int               `mapstructure:"max_docs_per_source" validate:"gte=1"` // 每个采集器的默认最大文档数
	Strategy         document.Strategy `mapstructure:"strategy"`                             // 分块策略，空值使用处理器默认策略
	RescoreDocuments bool              `mapstructure:"rescore_documents"`                    // 过滤前由质量过滤器重新计算文档质量分
	DefaultTopK      int               `mapstructure:"default_top_k" validate:"gte=1"`
	ContextTopK      int               `mapstructure:"context_top_k" validate:"gte=1"`     // 拼接上下文时检索的分块数
	ContextMaxChars  int               `mapstructure:"context_max_chars" validate:"gte=1"` // 上下文字符预算
	ResultsPrefix    string            `mapstructure:"results_prefix"`                     // 结果目录前缀
	WriteDumps       bool              `mapstructure:"write_dumps"`                        // 是否写出文档与分块的可读副本
}

// DefaultConfig 返回默认流水线配置
func DefaultConfig() Config {
	return Config{
		MaxDocsPerSource: 5,
		RescoreDocuments: true,
		DefaultTopK:      5,
		ContextTopK:      10,
		ContextMaxChars:  2000,
		ResultsPrefix:    "resultados_",
		WriteDumps:       true,
	}
}

// Pipeline 串联采集、文档过滤、分块嵌入、分块过滤和向量库
// 写操作（运行、删除、重建）串行执行，检索只依赖向量库自身的读锁
type Pipeline struct {
	cfg        Config
	filter     *quality.Filter
	processor  *document.Processor
	store      *vectordb.Store
	collectors []collector.Collector
	repo       repository.CorpusRepository
	storage    storage.Storage
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	writeMu sync.Mutex
}

// Option 流水线配置选项
type Option func(*Pipeline)

// WithCollectors 设置文档采集器
func WithCollectors(collectors ...collector.Collector) Option {
	return func(p *Pipeline) {
		p.collectors = append(p.collectors, collectors...)
	}
}

// WithRepository 设置元数据仓储，启用混合存储
func WithRepository(repo repository.CorpusRepository) Option {
	return func(p *Pipeline) {
		p.repo = repo
	}
}

// WithStorage 设置结果副本的存储
func WithStorage(s storage.Storage) Option {
	return func(p *Pipeline) {
		p.storage = s
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New 创建流水线
// 向量库为空且配置了存储目录时，先从磁盘恢复完整的分块内容
func New(cfg Config, filter *quality.Filter, processor *document.Processor, store *vectordb.Store, opts ...Option) (*Pipeline, error) {
	if filter == nil || processor == nil || store == nil {
		return nil, errors.New("filter, processor and store are required")
	}
	def := DefaultConfig()
	if cfg.MaxDocsPerSource <= 0 {
		cfg.MaxDocsPerSource = def.MaxDocsPerSource
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.ContextTopK <= 0 {
		cfg.ContextTopK = def.ContextTopK
	}
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = def.ContextMaxChars
	}
	if cfg.ResultsPrefix == "" {
		cfg.ResultsPrefix = def.ResultsPrefix
	}
	if cfg.Strategy == "" {
		cfg.Strategy = processor.Config().Strategy
	}

	p := &Pipeline{
		cfg:       cfg,
		filter:    filter,
		processor: processor,
		store:     store,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if store.Len() == 0 && store.Config().StorageDir != "" {
		if err := store.Load(); err != nil {
			return nil, fmt.Errorf("failed to restore vector store: %w", err)
		}
	}
	p.updateStoreMetrics()

	p.logger.WithFields(logrus.Fields{
		"collectors": len(p.collectors),
		"chunks":     store.Len(),
		"state":      store.State(),
		"hybrid":     p.repo != nil,
	}).Info("Pipeline initialized")
	return p, nil
}

// Config 返回流水线配置
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Store 返回底层向量库
func (p *Pipeline) Store() *vectordb.Store {
	return p.store
}

// Run 对一个主题执行完整流程并返回报告
// 任一阶段结果为空时中止，报告的Error字段记录原因，同时返回StageError
func (p *Pipeline) Run(ctx context.Context, topic string, maxDocsPerSource int) (*Report, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if maxDocsPerSource <= 0 {
		maxDocsPerSource = p.cfg.MaxDocsPerSource
	}
	report := newReport(topic)
	log := p.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"topic":  topic,
	})
	log.Info("Pipeline run started")

	err := p.run(ctx, topic, maxDocsPerSource, report, log)
	report.finish(err)
	report.TotalChunks = p.store.Len()

	p.metrics.ObservePipelineRun(err, time.Since(report.StartedAt))
	p.updateStoreMetrics()

	if err != nil {
		log.WithError(err).Warn("Pipeline run aborted")
		return report, err
	}
	if p.cfg.WriteDumps && p.storage != nil {
		if werr := p.writeReport(ctx, report); werr != nil {
			log.WithError(werr).Warn("Failed to write run report")
		}
	}

	log.WithFields(logrus.Fields{
		"documents_accepted": report.DocumentsAccepted,
		"chunks_new":         report.ChunksNew,
		"total_chunks":       report.TotalChunks,
		"duration":           report.DurationSeconds,
	}).Info("Pipeline run completed")
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, topic string, maxDocs int, report *Report, log *logrus.Entry) error {
	docs, err := p.collect(ctx, topic, maxDocs, report, log)
	if err != nil {
		return stageError(StageCollect, err)
	}
	report.DocumentsCollected = len(docs)
	if len(docs) == 0 {
		return stageError(StageCollect, ErrNoDocuments)
	}

	if p.cfg.RescoreDocuments {
		for _, doc := range docs {
			doc.QualityScore = p.filter.CalculateDocumentQualityScore(doc)
		}
	}
	accepted, docStats := p.filter.FilterDocuments(docs)
	report.DocumentFilter = docStats
	report.DocumentsAccepted = len(accepted)
	p.metrics.ObserveFilter("documents", docStats.TotalOutput, docStats.Reasons)
	if len(accepted) == 0 {
		return stageError(StageFilterDocuments, ErrAllDocumentsFiltered)
	}

	chunks, err := p.processor.ProcessDocuments(ctx, accepted, p.cfg.Strategy)
	if err != nil {
		return stageError(StageProcess, err)
	}
	report.ChunksGenerated = len(chunks)
	if len(chunks) == 0 {
		return stageError(StageProcess, ErrNoChunks)
	}

	kept, chunkStats := p.filter.FilterChunks(chunks)
	report.ChunkFilter = chunkStats
	report.ChunksAccepted = len(kept)
	p.metrics.ObserveFilter("chunks", chunkStats.TotalOutput, chunkStats.Reasons)
	if len(kept) == 0 {
		return stageError(StageFilterChunks, ErrAllChunksFiltered)
	}
	report.Processing = document.ProcessingStatistics(kept)
	report.Quality = p.filter.Summarize(accepted, kept)

	fresh := make([]*models.ProcessedChunk, 0, len(kept))
	for _, chunk := range kept {
		if !p.store.Contains(chunk.ChunkID) {
			fresh = append(fresh, chunk)
		}
	}
	added, err := p.store.AddChunks(fresh)
	if err != nil {
		return stageError(StageStore, err)
	}
	report.ChunksNew = added
	log.WithFields(logrus.Fields{
		"accepted": len(kept),
		"added":    added,
		"skipped":  len(kept) - len(fresh),
	}).Info("Chunks added to vector store")

	if p.repo != nil {
		p.saveRows(ctx, accepted, fresh, report, log)
	}
	if p.cfg.WriteDumps && p.storage != nil {
		if err := p.writeDumps(ctx, topic, accepted, kept); err != nil {
			report.warn("write dumps: %v", err)
			log.WithError(err).Warn("Failed to write result dumps")
		}
	}
	if p.store.Config().StorageDir != "" {
		generation := p.store.Generation()
		if err := p.store.Save(); err != nil {
			report.warn("persist vector store: %v", err)
			log.WithError(err).Error("Failed to persist vector store")
		} else if p.store.Generation() != generation {
			p.syncPositions(ctx, log)
		}
	}
	return nil
}

// collect 依次调用采集器，单个采集器失败只记为警告
func (p *Pipeline) collect(ctx context.Context, topic string, maxDocs int, report *Report, log *logrus.Entry) ([]*models.RawDocument, error) {
	var docs []*models.RawDocument
	for _, c := range p.collectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := c.Collect(ctx, topic, maxDocs)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			report.warn("collector %s: %v", c.Name(), err)
			log.WithField("collector", c.Name()).WithError(err).Warn("Collector failed, continuing")
			continue
		}
		report.Sources[c.Name()] += len(found)
		docs = append(docs, found...)
	}
	return docs, nil
}

// saveRows 把文档和新增分块写入元数据库，失败只记为警告
func (p *Pipeline) saveRows(ctx context.Context, docs []*models.RawDocument, chunks []*models.ProcessedChunk, report *Report, log *logrus.Entry) {
	if _, err := p.repo.SaveDocuments(ctx, docs); err != nil {
		report.warn("save documents: %v", err)
		log.WithError(err).Warn("Failed to save document rows")
		return
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	if _, err := p.repo.SaveChunks(ctx, chunks, p.store.Positions(ids)); err != nil {
		report.warn("save chunks: %v", err)
		log.WithError(err).Warn("Failed to save chunk rows")
		return
	}

	settings := []struct{ key, value, description string }{
		{ConfigKeyLastRun, report.RunID, "ID of the last ingestion run"},
		{ConfigKeyEmbeddingModel, p.processor.Embedder().Name(), "Embedding model used to build the index"},
		{ConfigKeyEmbeddingDimension, strconv.Itoa(p.store.Dimension()), "Embedding dimension of the index"},
	}
	for _, s := range settings {
		if err := p.repo.SetConfig(ctx, s.key, s.value, s.description); err != nil {
			log.WithError(err).WithField("key", s.key).Warn("Failed to record system config")
		}
	}
}

// syncPositions 压缩或重建改变了索引位置后，刷新元数据库中的位置
func (p *Pipeline) syncPositions(ctx context.Context, log *logrus.Entry) {
	if p.repo == nil {
		return
	}
	chunks := p.store.Chunks()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	if _, err := p.repo.SaveChunks(ctx, chunks, p.store.Positions(ids)); err != nil {
		log.WithError(err).Warn("Failed to sync chunk positions")
	}
}

func (p *Pipeline) updateStoreMetrics() {
	if p.metrics == nil {
		return
	}
	stats := p.store.Statistics()
	p.metrics.SetStoreSize(stats.Basic.TotalChunks, stats.Basic.TotalDocuments, stats.Index.Tombstones)
}

// IngestTopic 供任务队列调用的入库操作
func (p *Pipeline) IngestTopic(ctx context.Context, topic string, maxDocsPerSource int) (interface{}, error) {
	report, err := p.Run(ctx, topic, maxDocsPerSource)
	if err != nil {
		return nil, err
	}
	return report, nil
}
