package config

import (
	"github.com/fyerfyer/elis-rag/internal/cache"
	"github.com/fyerfyer/elis-rag/internal/database"
	"github.com/fyerfyer/elis-rag/internal/document"
	"github.com/fyerfyer/elis-rag/internal/embedding"
	"github.com/fyerfyer/elis-rag/internal/quality"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
	"github.com/fyerfyer/elis-rag/pkg/storage"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
)

// StorageConfig 结果副本存储的组件配置
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type:  c.Storage.Type,
		Local: storage.LocalConfig{Path: c.Storage.Path},
		Minio: storage.MinioConfig{
			Endpoint:  c.Storage.Endpoint,
			AccessKey: c.Storage.AccessKey,
			SecretKey: c.Storage.SecretKey,
			UseSSL:    c.Storage.UseSSL,
			Bucket:    c.Storage.Bucket,
			Prefix:    c.Storage.Prefix,
		},
	}
}

// StoreConfig 向量库的组件配置
func (c *Config) StoreConfig() vectordb.Config {
	vs := c.VectorStore
	return vectordb.Config{
		StorageDir: vs.StorageDir,
		Index: vectordb.IndexConfig{
			Backend:   vs.Backend,
			Type:      vs.IndexType,
			Dimension: vs.Dimension,
			NList:     vs.NList,
			NProbe:    vs.NProbe,
			HNSWM:     vs.HNSWM,
			EfSearch:  vs.EfSearch,
			Seed:      vs.Seed,
		},
		DefaultTopK:         vs.DefaultTopK,
		MaxTopK:             vs.MaxTopK,
		SimilarityThreshold: vs.SimilarityThreshold,
		CompactionRatio:     vs.CompactionRatio,
		ContextWindow:       vs.ContextWindow,
	}
}

// EmbeddingOptions 嵌入客户端选项
func (c *Config) EmbeddingOptions() []embedding.Option {
	opts := []embedding.Option{
		embedding.WithDimensions(c.Embed.Dimensions),
		embedding.WithBatchSize(c.Embed.BatchSize),
		embedding.WithMaxRetries(c.Embed.MaxRetries),
	}
	if c.Embed.Model != "" {
		opts = append(opts, embedding.WithModel(c.Embed.Model))
	}
	if c.Embed.APIKey != "" {
		opts = append(opts, embedding.WithAPIKey(c.Embed.APIKey))
	}
	if c.Embed.Endpoint != "" {
		opts = append(opts, embedding.WithBaseURL(c.Embed.Endpoint))
	}
	if c.Embed.Timeout > 0 {
		opts = append(opts, embedding.WithTimeout(c.Embed.Timeout))
	}
	return opts
}

// CacheConfig 向量缓存的组件配置
func (c *Config) CacheConfig() cache.Config {
	cc := cache.DefaultConfig()
	cc.Type = c.Cache.Type
	if c.Cache.Namespace != "" {
		cc.Namespace = c.Cache.Namespace
	}
	cc.RedisAddr = c.Cache.Address
	cc.RedisPassword = c.Cache.Password
	cc.RedisDB = c.Cache.DB
	if c.Cache.TTL > 0 {
		cc.DefaultTTL = c.Cache.TTL
	}
	return cc
}

// QueueConfig 任务队列的组件配置
func (c *Config) QueueConfig() *taskqueue.Config {
	return &taskqueue.Config{
		RedisAddr:     c.Queue.RedisAddr,
		RedisPassword: c.Queue.RedisPassword,
		RedisDB:       c.Queue.RedisDB,
		Concurrency:   c.Queue.Concurrency,
		RetryLimit:    c.Queue.RetryLimit,
		RetryDelay:    c.Queue.RetryDelay,
		TaskExpiry:    c.Queue.TaskExpiry,
		Queue:         c.Queue.Name,
	}
}

// DatabaseConfig 元数据库的组件配置
func (c *Config) DatabaseConfig() *database.Config {
	return &database.Config{
		Type:         c.Database.Type,
		DSN:          c.Database.DSN,
		MaxOpenConns: c.Database.MaxOpenConns,
		MaxIdleConns: c.Database.MaxIdleConns,
		MaxLifetime:  c.Database.MaxLifetime,
	}
}

// ProcessorConfig 文档处理器的组件配置
func (c *Config) ProcessorConfig() document.Config {
	p := c.Processor
	return document.Config{
		ChunkSize:         p.ChunkSize,
		ChunkOverlap:      p.ChunkOverlap,
		MinChunkSize:      p.MinChunkSize,
		MaxChunkSize:      p.MaxChunkSize,
		MinTextLength:     p.MinTextLength,
		BatchSize:         p.BatchSize,
		Strategy:          document.Strategy(p.Strategy),
		SemanticThreshold: p.SemanticThreshold,
		Languages:         p.Languages,
		CacheTTL:          c.Cache.TTL,
		Cleaner:           p.Cleaner,
	}
}

// QualityConfig 质量过滤器的组件配置，未配置的模式列表沿用默认值
func (c *Config) QualityConfig() quality.Config {
	q := c.Quality
	cfg := quality.DefaultConfig()
	cfg.MinDocumentLength = q.MinDocumentLength
	cfg.MaxDocumentLength = q.MaxDocumentLength
	cfg.MinDocumentQualityScore = q.MinDocumentQualityScore
	cfg.MinChunkLength = q.MinChunkLength
	cfg.MaxChunkLength = q.MaxChunkLength
	cfg.MinChunkQualityScore = q.MinChunkQualityScore
	cfg.MinEmbeddingNorm = q.MinEmbeddingNorm
	cfg.SimilarityThreshold = q.SimilarityThreshold
	cfg.EnableDuplicateDetection = q.EnableDedup
	cfg.MaxFeatures = q.MaxFeatures
	cfg.LSHMinItems = q.LSHMinItems
	cfg.LSHBands = q.LSHBands
	cfg.LSHRows = q.LSHRows
	cfg.LSHSeed = q.LSHSeed
	if len(q.LowQualityPatterns) > 0 {
		cfg.LowQualityPatterns = q.LowQualityPatterns
	}
	if len(q.AcademicIndicators) > 0 {
		cfg.AcademicIndicators = q.AcademicIndicators
	}
	return cfg
}
