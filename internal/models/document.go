package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// SourceType 文档来源类型
type SourceType string

const (
	// SourceWikipedia 维基百科
	SourceWikipedia SourceType = "wikipedia"
	// SourceArxiv ArXiv论文
	SourceArxiv SourceType = "arxiv"
	// SourceLocalFile 本地文件
	SourceLocalFile SourceType = "local_file"
)

// RawDocument 采集到的原始文档，分块之前的完整文本
type RawDocument struct {
	ID              string                 `json:"id"`                        // 文档ID，缺省时由内容哈希生成
	Title           string                 `json:"title"`                     // 标题
	Content         string                 `json:"content"`                   // 全文内容
	SourceType      string                 `json:"source_type"`               // 来源类型
	URL             string                 `json:"url,omitempty"`             // 来源链接
	Authors         []string               `json:"authors,omitempty"`         // 作者列表
	PublicationDate *time.Time             `json:"publication_date,omitempty"` // 发布日期
	Abstract        string                 `json:"abstract,omitempty"`        // 摘要
	Keywords        []string               `json:"keywords,omitempty"`        // 关键词
	Language        string                 `json:"language"`                  // 语言代码
	CollectedAt     time.Time              `json:"collected_at"`              // 采集时间
	SourceMetadata  map[string]interface{} `json:"source_metadata,omitempty"` // 来源元数据
	QualityScore    float64                `json:"quality_score"`             // 质量分数 [0,1]
}

// NewRawDocument 创建原始文档并生成稳定ID
func NewRawDocument(title, content, sourceType string) *RawDocument {
	doc := &RawDocument{
		Title:          title,
		Content:        content,
		SourceType:     sourceType,
		Language:       "pt",
		CollectedAt:    time.Now(),
		SourceMetadata: make(map[string]interface{}),
		QualityScore:   0.5,
	}
	doc.ID = doc.ResolvedID()
	return doc
}

// DocumentID 根据来源类型和内容哈希计算文档ID
func DocumentID(sourceType, title, content string) string {
	sum := md5.Sum([]byte(title + content))
	return sourceType + "_" + hex.EncodeToString(sum[:])[:12]
}

// ResolvedID 返回文档ID，未设置时按内容推导，不修改文档本身
func (d *RawDocument) ResolvedID() string {
	if d.ID != "" {
		return d.ID
	}
	return DocumentID(d.SourceType, d.Title, d.Content)
}

// ClampQuality 将质量分数限制在[0,1]
func (d *RawDocument) ClampQuality() {
	d.QualityScore = Clamp01(d.QualityScore)
}

// ProcessedChunk 文档分块及其向量
type ProcessedChunk struct {
	ChunkID       string                 `json:"chunk_id"`                 // 分块ID
	Text          string                 `json:"text"`                     // 分块文本
	Embedding     []float32              `json:"embedding"`                // 向量
	DocumentID    string                 `json:"document_id"`              // 所属文档ID
	ChunkIndex    int                    `json:"chunk_index"`              // 文档内序号（从0开始）
	ChunkSize     int                    `json:"chunk_size"`               // 字符长度
	OverlapSize   int                    `json:"overlap_size"`             // 与前一分块实际重叠的词数（fixed_size为字符数）
	SourceType    string                 `json:"source_type"`              // 来源类型
	DocumentTitle string                 `json:"document_title"`           // 文档标题
	QualityScore  float64                `json:"quality_score"`            // 质量分数
	EmbeddingNorm float64                `json:"embedding_norm"`           // 向量L2范数
	PreviousChunk string                 `json:"previous_chunk,omitempty"` // 前一个分块ID
	NextChunk     string                 `json:"next_chunk,omitempty"`     // 后一个分块ID
	CreatedAt     time.Time              `json:"created_at"`               // 创建时间
	Metadata      map[string]interface{} `json:"metadata,omitempty"`       // 元数据
}

// ChunkID 生成分块ID
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// ResolvedID 返回分块ID，未设置时由文档ID和序号推导
func (c *ProcessedChunk) ResolvedID() string {
	if c.ChunkID != "" {
		return c.ChunkID
	}
	return ChunkID(c.DocumentID, c.ChunkIndex)
}

// WithResolvedID 分块ID或长度缺失时返回补全后的副本，否则返回原分块
func (c *ProcessedChunk) WithResolvedID() *ProcessedChunk {
	if c.ChunkID != "" && (c.ChunkSize != 0 || c.Text == "") {
		return c
	}
	cp := *c
	cp.ChunkID = c.ResolvedID()
	if cp.ChunkSize == 0 {
		cp.ChunkSize = len([]rune(c.Text))
	}
	return &cp
}

// ComputeNorm 计算并记录向量范数
func (c *ProcessedChunk) ComputeNorm() float64 {
	c.EmbeddingNorm = VectorNorm(c.Embedding)
	return c.EmbeddingNorm
}

// HasValidEmbedding 判断分块是否带有可索引的向量
func (c *ProcessedChunk) HasValidEmbedding(dimension int) bool {
	if len(c.Embedding) == 0 {
		return false
	}
	if dimension > 0 && len(c.Embedding) != dimension {
		return false
	}
	for _, v := range c.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return VectorNorm(c.Embedding) > 0
}

// SearchResult 检索结果，不单独持久化
type SearchResult struct {
	Chunk          *ProcessedChunk        `json:"chunk"`
	Score          float64                `json:"score"`
	Rank           int                    `json:"rank"`
	Query          string                 `json:"query,omitempty"`
	SearchType     string                 `json:"search_type"`
	ContextChunks  []*ProcessedChunk      `json:"context_chunks,omitempty"`
	SearchMetadata map[string]interface{} `json:"search_metadata,omitempty"`
}

// VectorNorm 计算向量L2范数
func VectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Clamp01 限制到[0,1]
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Snippet 截取文本前n个字符用于日志和展示
func Snippet(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
