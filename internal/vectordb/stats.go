package vectordb

import (
	"math"
	"time"
)

// BasicStats 基本计数
type BasicStats struct {
	TotalChunks    int        `json:"total_chunks"`
	TotalDocuments int        `json:"total_documents"`
	IndexSize      int64      `json:"index_size"`
	SearchCount    int64      `json:"search_count"`
	LastUpdated    *time.Time `json:"last_updated,omitempty"`
}

// QualityMetrics 质量分与向量范数汇总
type QualityMetrics struct {
	AvgQualityScore  float64 `json:"avg_quality_score"`
	MinQualityScore  float64 `json:"min_quality_score"`
	MaxQualityScore  float64 `json:"max_quality_score"`
	AvgEmbeddingNorm float64 `json:"avg_embedding_norm"`
}

// IndexInfo 索引配置摘要
type IndexInfo struct {
	Type         string `json:"type"`
	Backend      string `json:"backend"`
	Dimension    int    `json:"dimension"`
	MetricType   string `json:"metric_type"`
	TotalVectors int64  `json:"total_vectors"`
	Tombstones   int    `json:"tombstones"`
	Generation   int64  `json:"generation"`
	NList        int    `json:"nlist,omitempty"`
	NProbe       int    `json:"nprobe,omitempty"`
	HNSWM        int    `json:"hnsw_m,omitempty"`
}

// Statistics 向量库统计
type Statistics struct {
	State                State          `json:"state"`
	Basic                BasicStats     `json:"basic_stats"`
	SourceDistribution   map[string]int `json:"source_distribution"`
	DocumentDistribution map[string]int `json:"document_distribution"`
	Quality              QualityMetrics `json:"quality_metrics"`
	Index                IndexInfo      `json:"index_info"`
}

// Statistics 扫描存活分块计算统计
func (s *Store) Statistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		State:                s.state,
		Basic:                s.basicStatsLocked(),
		SourceDistribution:   make(map[string]int),
		DocumentDistribution: make(map[string]int),
		Index: IndexInfo{
			Type:       s.cfg.Index.Type,
			Backend:    s.backendName(),
			Dimension:  s.dimension,
			MetricType: "inner_product",
			Tombstones: len(s.tombstones),
			Generation: s.generation,
		},
	}
	switch s.cfg.Index.Type {
	case IndexIVF:
		stats.Index.NList = s.cfg.Index.NList
		stats.Index.NProbe = s.cfg.Index.NProbe
	case IndexHNSW:
		stats.Index.HNSWM = s.cfg.Index.HNSWM
	}
	if s.index != nil {
		stats.Index.TotalVectors = s.index.Ntotal()
	}

	live := s.liveChunksLocked()
	if len(live) == 0 {
		return stats
	}
	stats.Quality.MinQualityScore = math.Inf(1)
	stats.Quality.MaxQualityScore = math.Inf(-1)
	for _, c := range live {
		stats.SourceDistribution[c.SourceType]++
		stats.DocumentDistribution[c.DocumentID]++
		stats.Quality.AvgQualityScore += c.QualityScore
		stats.Quality.AvgEmbeddingNorm += c.EmbeddingNorm
		stats.Quality.MinQualityScore = math.Min(stats.Quality.MinQualityScore, c.QualityScore)
		stats.Quality.MaxQualityScore = math.Max(stats.Quality.MaxQualityScore, c.QualityScore)
	}
	n := float64(len(live))
	stats.Quality.AvgQualityScore /= n
	stats.Quality.AvgEmbeddingNorm /= n
	return stats
}

func (s *Store) basicStatsLocked() BasicStats {
	basic := BasicStats{
		TotalChunks:    len(s.positions),
		TotalDocuments: len(s.byDocument),
		SearchCount:    s.searchCount.Load(),
	}
	if s.index != nil {
		basic.IndexSize = s.index.Ntotal()
	}
	if !s.lastUpdated.IsZero() {
		t := s.lastUpdated
		basic.LastUpdated = &t
	}
	return basic
}
