package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/elis-rag/internal/cache"
	"github.com/fyerfyer/elis-rag/internal/collector"
	"github.com/fyerfyer/elis-rag/internal/database"
	"github.com/fyerfyer/elis-rag/internal/document"
	"github.com/fyerfyer/elis-rag/internal/embedding"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/fyerfyer/elis-rag/internal/quality"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
	"github.com/fyerfyer/elis-rag/pkg/storage"
	"github.com/fyerfyer/elis-rag/pkg/taskqueue"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 ELIS_SERVER_PORT 覆盖 server.port
const EnvPrefix = "ELIS"

// Config 应用程序配置结构体
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	Embed       EmbedConfig       `mapstructure:"embed"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Processor   ProcessorConfig   `mapstructure:"processor"`
	Quality     QualityConfig     `mapstructure:"quality"`
	Pipeline    pipeline.Config   `mapstructure:"pipeline"`
	Collector   collector.Config  `mapstructure:"collector"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"` // gin运行模式
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`        // 为空时只输出到标准输出
	MaxSize    int    `mapstructure:"max_size"`    // 单个日志文件大小（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧文件数
	MaxAge     int    `mapstructure:"max_age"`     // 保留天数
	Compress   bool   `mapstructure:"compress"`
}

// StorageConfig 结果副本存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=local minio"` // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`                              // 本地存储路径
	Bucket    string `mapstructure:"bucket"`                            // MinIO桶名称
	Prefix    string `mapstructure:"prefix"`                            // MinIO对象键前缀
	Endpoint  string `mapstructure:"endpoint"`                          // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// VectorStoreConfig 向量库配置
type VectorStoreConfig struct {
	StorageDir          string  `mapstructure:"storage_dir"`
	Backend             string  `mapstructure:"backend" validate:"oneof=memory faiss"`
	IndexType           string  `mapstructure:"index_type" validate:"oneof=flat ivf hnsw"`
	Dimension           int     `mapstructure:"dimension" validate:"gte=0"` // 0表示取第一批向量的维度
	NList               int     `mapstructure:"nlist" validate:"gte=1"`
	NProbe              int     `mapstructure:"nprobe" validate:"gte=1"`
	HNSWM               int     `mapstructure:"hnsw_m" validate:"gte=2"`
	EfSearch            int     `mapstructure:"ef_search" validate:"gte=1"`
	Seed                int64   `mapstructure:"seed"`
	DefaultTopK         int     `mapstructure:"default_top_k" validate:"gte=1"`
	MaxTopK             int     `mapstructure:"max_top_k" validate:"gtefield=DefaultTopK"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gte=-1,lte=1"`
	CompactionRatio     float64 `mapstructure:"compaction_ratio" validate:"gt=0,lte=1"`
	ContextWindow       int     `mapstructure:"context_window" validate:"gte=0"`
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider" validate:"oneof=hash openai"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"` // 支持 ${VAR} 形式引用环境变量
	Endpoint   string        `mapstructure:"endpoint"`
	BatchSize  int           `mapstructure:"batch_size" validate:"gte=1"`
	Dimensions int           `mapstructure:"dimensions" validate:"gte=1"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
}

// CacheConfig 向量缓存配置
type CacheConfig struct {
	Enable    bool          `mapstructure:"enable"`
	Type      string        `mapstructure:"type" validate:"oneof=memory redis"`
	Namespace string        `mapstructure:"namespace"`
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool          `mapstructure:"enable"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=1"`
	RetryLimit    int           `mapstructure:"retry_limit" validate:"gte=0"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	TaskExpiry    time.Duration `mapstructure:"task_expiry"`
	Name          string        `mapstructure:"name"`
}

// DatabaseConfig 混合存储的元数据库配置
type DatabaseConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Type         string        `mapstructure:"type" validate:"oneof=sqlite"`
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// ProcessorConfig 文档处理配置
type ProcessorConfig struct {
	ChunkSize         int                    `mapstructure:"chunk_size" validate:"gte=1"`
	ChunkOverlap      int                    `mapstructure:"chunk_overlap" validate:"gte=0"`
	MinChunkSize      int                    `mapstructure:"min_chunk_size" validate:"gte=0,ltefield=ChunkSize"`
	MaxChunkSize      int                    `mapstructure:"max_chunk_size" validate:"gte=1"`
	MinTextLength     int                    `mapstructure:"min_text_length" validate:"gte=0"`
	BatchSize         int                    `mapstructure:"batch_size" validate:"gte=1"`
	Strategy          string                 `mapstructure:"strategy" validate:"oneof=sentence paragraph fixed_size semantic"`
	SemanticThreshold float64                `mapstructure:"semantic_threshold" validate:"gte=-1,lte=1"`
	Languages         []string               `mapstructure:"languages"`
	Cleaner           document.CleanerConfig `mapstructure:"cleaner"`
}

// QualityConfig 质量过滤配置
type QualityConfig struct {
	MinDocumentLength       int      `mapstructure:"min_document_length" validate:"gte=0,ltefield=MaxDocumentLength"`
	MaxDocumentLength       int      `mapstructure:"max_document_length" validate:"gte=1"`
	MinDocumentQualityScore float64  `mapstructure:"min_document_quality_score" validate:"gte=0,lte=1"`
	MinChunkLength          int      `mapstructure:"min_chunk_length" validate:"gte=0,ltefield=MaxChunkLength"`
	MaxChunkLength          int      `mapstructure:"max_chunk_length" validate:"gte=1"`
	MinChunkQualityScore    float64  `mapstructure:"min_chunk_quality_score" validate:"gte=0,lte=1"`
	MinEmbeddingNorm        float64  `mapstructure:"min_embedding_norm" validate:"gte=0"`
	SimilarityThreshold     float64  `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
	EnableDedup             bool     `mapstructure:"enable_dedup"`
	MaxFeatures             int      `mapstructure:"max_features" validate:"gte=1"`
	LSHMinItems             int      `mapstructure:"lsh_min_items" validate:"gte=2"`
	LSHBands                int      `mapstructure:"lsh_bands" validate:"gte=1"`
	LSHRows                 int      `mapstructure:"lsh_rows" validate:"gte=1"`
	LSHSeed                 int64    `mapstructure:"lsh_seed"`
	LowQualityPatterns      []string `mapstructure:"low_quality_patterns"`
	AcademicIndicators      []string `mapstructure:"academic_indicators"`
}

// Load 从 .env、配置文件和环境变量加载配置
// 配置文件不存在时使用默认值并写出一份默认配置文件
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		logrus.WithField("path", configPath).Warn("Config file not found, using defaults")
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err == nil {
			if err := v.WriteConfigAs(configPath); err != nil {
				logrus.WithError(err).WithField("path", configPath).Warn("Could not write default config")
			}
		}
	} else {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.WithField("path", v.ConfigFileUsed()).Debug("Using config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	processEnvironmentVariables(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 加载可选的 .env 文件，已存在的环境变量不会被覆盖
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate 校验配置取值
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// processEnvironmentVariables 展开密钥类配置中的 ${VAR} 引用
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embed.APIKey,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		*field = expandEnv(*field)
	}
}

// expandEnv 未设置的变量展开为空串
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// setDefaults 设置配置的默认值，各组件的默认值来自其DefaultConfig
func setDefaults(v *viper.Viper) {
	// 服务器
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	// 日志
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)

	// 存储
	st := storage.DefaultConfig()
	v.SetDefault("storage.type", st.Type)
	v.SetDefault("storage.path", "./resultados")
	v.SetDefault("storage.bucket", st.Minio.Bucket)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)

	// 向量库
	vs := vectordb.DefaultConfig()
	v.SetDefault("vectorstore.storage_dir", vs.StorageDir)
	v.SetDefault("vectorstore.backend", vs.Index.Backend)
	v.SetDefault("vectorstore.index_type", vs.Index.Type)
	v.SetDefault("vectorstore.dimension", vs.Index.Dimension)
	v.SetDefault("vectorstore.nlist", vs.Index.NList)
	v.SetDefault("vectorstore.nprobe", vs.Index.NProbe)
	v.SetDefault("vectorstore.hnsw_m", vs.Index.HNSWM)
	v.SetDefault("vectorstore.ef_search", vs.Index.EfSearch)
	v.SetDefault("vectorstore.seed", vs.Index.Seed)
	v.SetDefault("vectorstore.default_top_k", vs.DefaultTopK)
	v.SetDefault("vectorstore.max_top_k", vs.MaxTopK)
	v.SetDefault("vectorstore.similarity_threshold", vs.SimilarityThreshold)
	v.SetDefault("vectorstore.compaction_ratio", vs.CompactionRatio)
	v.SetDefault("vectorstore.context_window", vs.ContextWindow)

	// 嵌入模型
	emb := embedding.DefaultConfig()
	v.SetDefault("embed.provider", "hash")
	v.SetDefault("embed.model", "")
	v.SetDefault("embed.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("embed.endpoint", emb.BaseURL)
	v.SetDefault("embed.batch_size", emb.BatchSize)
	v.SetDefault("embed.dimensions", emb.Dimensions)
	v.SetDefault("embed.timeout", emb.Timeout.String())
	v.SetDefault("embed.max_retries", emb.MaxRetries)

	// 缓存
	c := cache.DefaultConfig()
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", c.Type)
	v.SetDefault("cache.namespace", c.Namespace)
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", c.DefaultTTL.String())

	// 任务队列
	q := taskqueue.DefaultConfig()
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", q.RedisAddr)
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", q.RedisDB)
	v.SetDefault("queue.concurrency", q.Concurrency)
	v.SetDefault("queue.retry_limit", q.RetryLimit)
	v.SetDefault("queue.retry_delay", q.RetryDelay.String())
	v.SetDefault("queue.task_expiry", q.TaskExpiry.String())
	v.SetDefault("queue.name", q.Queue)

	// 元数据库
	db := database.DefaultConfig()
	v.SetDefault("database.enable", true)
	v.SetDefault("database.type", db.Type)
	v.SetDefault("database.dsn", db.DSN)
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.max_lifetime", db.MaxLifetime.String())

	// 文档处理
	p := document.DefaultConfig()
	v.SetDefault("processor.chunk_size", p.ChunkSize)
	v.SetDefault("processor.chunk_overlap", p.ChunkOverlap)
	v.SetDefault("processor.min_chunk_size", p.MinChunkSize)
	v.SetDefault("processor.max_chunk_size", p.MaxChunkSize)
	v.SetDefault("processor.min_text_length", p.MinTextLength)
	v.SetDefault("processor.batch_size", p.BatchSize)
	v.SetDefault("processor.strategy", string(p.Strategy))
	v.SetDefault("processor.semantic_threshold", p.SemanticThreshold)
	v.SetDefault("processor.languages", p.Languages)
	v.SetDefault("processor.cleaner.remove_html", p.Cleaner.RemoveHTML)
	v.SetDefault("processor.cleaner.remove_urls", p.Cleaner.RemoveURLs)
	v.SetDefault("processor.cleaner.remove_emails", p.Cleaner.RemoveEmails)
	v.SetDefault("processor.cleaner.normalize_whitespace", p.Cleaner.NormalizeWhitespace)
	v.SetDefault("processor.cleaner.restrict_charset", p.Cleaner.RestrictCharset)

	// 质量过滤
	f := quality.DefaultConfig()
	v.SetDefault("quality.min_document_length", f.MinDocumentLength)
	v.SetDefault("quality.max_document_length", f.MaxDocumentLength)
	v.SetDefault("quality.min_document_quality_score", f.MinDocumentQualityScore)
	v.SetDefault("quality.min_chunk_length", f.MinChunkLength)
	v.SetDefault("quality.max_chunk_length", f.MaxChunkLength)
	v.SetDefault("quality.min_chunk_quality_score", f.MinChunkQualityScore)
	v.SetDefault("quality.min_embedding_norm", f.MinEmbeddingNorm)
	v.SetDefault("quality.similarity_threshold", f.SimilarityThreshold)
	v.SetDefault("quality.enable_dedup", f.EnableDuplicateDetection)
	v.SetDefault("quality.max_features", f.MaxFeatures)
	v.SetDefault("quality.lsh_min_items", f.LSHMinItems)
	v.SetDefault("quality.lsh_bands", f.LSHBands)
	v.SetDefault("quality.lsh_rows", f.LSHRows)
	v.SetDefault("quality.lsh_seed", f.LSHSeed)
	v.SetDefault("quality.low_quality_patterns", f.LowQualityPatterns)
	v.SetDefault("quality.academic_indicators", f.AcademicIndicators)

	// 流水线
	pl := pipeline.DefaultConfig()
	v.SetDefault("pipeline.max_docs_per_source", pl.MaxDocsPerSource)
	v.SetDefault("pipeline.strategy", "")
	v.SetDefault("pipeline.rescore_documents", pl.RescoreDocuments)
	v.SetDefault("pipeline.default_top_k", pl.DefaultTopK)
	v.SetDefault("pipeline.context_top_k", pl.ContextTopK)
	v.SetDefault("pipeline.context_max_chars", pl.ContextMaxChars)
	v.SetDefault("pipeline.results_prefix", pl.ResultsPrefix)
	v.SetDefault("pipeline.write_dumps", pl.WriteDumps)

	// 本地文件采集
	col := collector.DefaultConfig()
	v.SetDefault("collector.dir", col.Dir)
	v.SetDefault("collector.recursive", col.Recursive)
	v.SetDefault("collector.extensions", col.Extensions)
	v.SetDefault("collector.min_content_length", col.MinContentLength)
	v.SetDefault("collector.language", col.Language)
}
