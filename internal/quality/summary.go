package quality

import (
	"math"
	"unicode/utf8"

	"github.com/fyerfyer/elis-rag/internal/models"
)

// Summary 过滤配置与输入集合的统计
type Summary struct {
	Config    Config            `json:"filter_config"`
	Documents *DocumentsSummary `json:"documents,omitempty"`
	Chunks    *ChunksSummary    `json:"chunks,omitempty"`
}

// DocumentsSummary 文档集合统计
type DocumentsSummary struct {
	Total            int     `json:"total"`
	AvgQualityScore  float64 `json:"avg_quality_score"`
	AvgContentLength float64 `json:"avg_content_length"`
	MinQualityScore  float64 `json:"min_quality_score"`
	MaxQualityScore  float64 `json:"max_quality_score"`
	StdQualityScore  float64 `json:"std_quality_score"`
}

// ChunksSummary 分块集合统计
type ChunksSummary struct {
	Total            int     `json:"total"`
	AvgQualityScore  float64 `json:"avg_quality_score"`
	AvgChunkSize     float64 `json:"avg_chunk_size"`
	AvgEmbeddingNorm float64 `json:"avg_embedding_norm"`
}

// Summarize 汇总文档与分块的质量分布
func (f *Filter) Summarize(docs []*models.RawDocument, chunks []*models.ProcessedChunk) *Summary {
	s := &Summary{Config: f.cfg}

	if len(docs) > 0 {
		ds := &DocumentsSummary{Total: len(docs), MinQualityScore: math.Inf(1), MaxQualityScore: math.Inf(-1)}
		var sum, sumSq, length float64
		for _, d := range docs {
			sum += d.QualityScore
			sumSq += d.QualityScore * d.QualityScore
			length += float64(utf8.RuneCountInString(d.Content))
			ds.MinQualityScore = math.Min(ds.MinQualityScore, d.QualityScore)
			ds.MaxQualityScore = math.Max(ds.MaxQualityScore, d.QualityScore)
		}
		n := float64(len(docs))
		ds.AvgQualityScore = sum / n
		ds.AvgContentLength = length / n
		ds.StdQualityScore = math.Sqrt(math.Max(sumSq/n-ds.AvgQualityScore*ds.AvgQualityScore, 0))
		s.Documents = ds
	}

	if len(chunks) > 0 {
		cs := &ChunksSummary{Total: len(chunks)}
		for _, c := range chunks {
			cs.AvgQualityScore += c.QualityScore
			cs.AvgChunkSize += float64(c.ChunkSize)
			cs.AvgEmbeddingNorm += c.EmbeddingNorm
		}
		n := float64(len(chunks))
		cs.AvgQualityScore /= n
		cs.AvgChunkSize /= n
		cs.AvgEmbeddingNorm /= n
		s.Chunks = cs
	}

	return s
}
