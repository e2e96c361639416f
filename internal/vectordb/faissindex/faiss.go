//go:build faiss

// Package faissindex 基于Faiss的向量索引后端，导入后注册为"faiss"
package faissindex

import (
	"fmt"

	"github.com/DataIntelligenceCrew/go-faiss"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
)

// Index 包装faiss索引，统一使用内积度量
type Index struct {
	index faiss.Index
	kind  string
}

// description 索引工厂描述串
func description(cfg vectordb.IndexConfig) (string, error) {
	switch cfg.Type {
	case "", vectordb.IndexFlat:
		return "Flat", nil
	case vectordb.IndexIVF:
		nlist := cfg.NList
		if nlist <= 0 {
			nlist = 1
		}
		return fmt.Sprintf("IVF%d,Flat", nlist), nil
	case vectordb.IndexHNSW:
		m := cfg.HNSWM
		if m <= 0 {
			m = 32
		}
		return fmt.Sprintf("HNSW%d,Flat", m), nil
	default:
		return "", fmt.Errorf("%w: %q", vectordb.ErrUnsupportedIndexType, cfg.Type)
	}
}

// New 创建faiss索引
func New(cfg vectordb.IndexConfig) (vectordb.Index, error) {
	desc, err := description(cfg)
	if err != nil {
		return nil, err
	}
	idx, err := faiss.IndexFactory(cfg.Dimension, desc, faiss.MetricInnerProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to create faiss index %q: %w", desc, err)
	}
	kind := cfg.Type
	if kind == "" {
		kind = vectordb.IndexFlat
	}
	wrapped := &Index{index: idx, kind: kind}
	if err := wrapped.applySearchParams(cfg); err != nil {
		idx.Delete()
		return nil, err
	}
	return wrapped, nil
}

// Read 从文件读取faiss索引，查询参数以当前配置为准
func Read(path string, cfg vectordb.IndexConfig) (vectordb.Index, error) {
	idx, err := faiss.ReadIndex(path, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read faiss index: %w", err)
	}
	kind := cfg.Type
	if kind == "" {
		kind = vectordb.IndexFlat
	}
	wrapped := &Index{index: idx, kind: kind}
	if err := wrapped.applySearchParams(cfg); err != nil {
		idx.Delete()
		return nil, err
	}
	return wrapped, nil
}

// applySearchParams 设置nprobe或efSearch
func (i *Index) applySearchParams(cfg vectordb.IndexConfig) error {
	var name string
	var value int
	switch i.kind {
	case vectordb.IndexIVF:
		name, value = "nprobe", cfg.NProbe
	case vectordb.IndexHNSW:
		name, value = "efSearch", cfg.EfSearch
	default:
		return nil
	}
	if value <= 0 {
		return nil
	}

	ps, err := faiss.NewParameterSpace()
	if err != nil {
		return fmt.Errorf("failed to create faiss parameter space: %w", err)
	}
	defer ps.Delete()
	if err := ps.SetIndexParameter(i.index, name, float64(value)); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

// Dimension 向量维度
func (i *Index) Dimension() int { return i.index.D() }

// Ntotal 向量总数
func (i *Index) Ntotal() int64 { return i.index.Ntotal() }

// IsTrained 是否已训练
func (i *Index) IsTrained() bool { return i.index.IsTrained() }

// Type 索引类型
func (i *Index) Type() string { return i.kind }

// Train 训练索引
func (i *Index) Train(vectors []float32) error {
	return i.index.Train(vectors)
}

// Add 追加向量
func (i *Index) Add(vectors []float32) error {
	return i.index.Add(vectors)
}

// Search 内积检索
func (i *Index) Search(query []float32, k int64) ([]float32, []int64, error) {
	return i.index.Search(query, k)
}

// WriteFile 写入索引文件
func (i *Index) WriteFile(path string) error {
	return faiss.WriteIndex(i.index, path)
}

// Close 释放C++索引
func (i *Index) Close() error {
	i.index.Delete()
	return nil
}

func init() {
	vectordb.RegisterIndex("faiss", New, Read)
}
