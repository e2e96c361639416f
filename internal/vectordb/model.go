package vectordb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// 常用错误定义
var (
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrEmptyEmbedding       = errors.New("empty embedding")
	ErrInvalidEmbedding     = errors.New("embedding has zero norm or non-finite values")
	ErrIndexNotInitialized  = errors.New("vector index not initialized")
	ErrIndexNotTrained      = errors.New("vector index requires training before add")
	ErrUnsupportedIndexType = errors.New("unsupported index type")
	ErrUnknownBackend       = errors.New("unknown index backend")
)

// 索引类型
const (
	IndexFlat = "flat"
	IndexIVF  = "ivf"
	IndexHNSW = "hnsw"
)

// Index 最近邻索引，向量按行展平传入，标签为插入顺序位置
// 所有实现使用内积度量，调用方负责归一化
type Index interface {
	// Dimension 向量维度
	Dimension() int
	// Ntotal 已加入的向量数
	Ntotal() int64
	// IsTrained 是否可以直接Add
	IsTrained() bool
	// Train 用样本向量训练索引
	Train(vectors []float32) error
	// Add 追加向量
	Add(vectors []float32) error
	// Search 返回前k个内积得分及位置，不足k个时标签为-1
	Search(query []float32, k int64) ([]float32, []int64, error)
	// WriteFile 序列化到文件
	WriteFile(path string) error
	// Type 索引类型 flat/ivf/hnsw
	Type() string
	// Close 释放资源
	Close() error
}

// IndexConfig 索引配置
type IndexConfig struct {
	Backend   string `mapstructure:"backend"`    // memory 或 faiss
	Type      string `mapstructure:"index_type"` // flat、ivf、hnsw
	Dimension int    `mapstructure:"dimension"`
	NList     int    `mapstructure:"nlist"`     // IVF聚类数
	NProbe    int    `mapstructure:"nprobe"`    // IVF查询的聚类数
	HNSWM     int    `mapstructure:"hnsw_m"`    // HNSW每层邻居数
	EfSearch  int    `mapstructure:"ef_search"` // HNSW查询宽度
	Seed      int64  `mapstructure:"seed"`      // k-means初始化种子
}

// DefaultIndexConfig 返回默认索引配置
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Backend:  "memory",
		Type:     IndexFlat,
		NList:    100,
		NProbe:   10,
		HNSWM:    32,
		EfSearch: 50,
		Seed:     42,
	}
}

// NeedsTraining 索引类型是否需要训练
func (c IndexConfig) NeedsTraining() bool {
	return c.Type == IndexIVF
}

// IndexFactory 创建空索引
type IndexFactory func(cfg IndexConfig) (Index, error)

// IndexLoader 从文件读取索引
type IndexLoader func(path string, cfg IndexConfig) (Index, error)

type backend struct {
	factory IndexFactory
	loader  IndexLoader
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]backend{}
)

// RegisterIndex 注册索引后端
func RegisterIndex(name string, factory IndexFactory, loader IndexLoader) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = backend{factory: factory, loader: loader}
}

// Backends 返回已注册的后端名称
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(name string) (backend, error) {
	if name == "" {
		name = "memory"
	}
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	if !ok {
		return backend{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

// NewIndex 根据配置创建索引
func NewIndex(cfg IndexConfig) (Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", cfg.Dimension)
	}
	b, err := lookupBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return b.factory(cfg)
}

// ReadIndex 从文件读取索引
func ReadIndex(path string, cfg IndexConfig) (Index, error) {
	b, err := lookupBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return b.loader(path, cfg)
}
