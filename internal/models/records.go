package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentRecord 文档元数据表
// 用于混合存储模式下在SQLite中保存文档信息
type DocumentRecord struct {
	ID              string         `gorm:"primaryKey"`              // 文档ID
	Title           string         `gorm:"not null"`                // 标题
	Content         string         `gorm:"type:text;not null"`      // 全文
	SourceType      string         `gorm:"not null;index"`          // 来源类型
	URL             string         `gorm:"type:text"`               // 来源链接
	Authors         datatypes.JSON `gorm:"type:json"`               // 作者列表
	PublicationDate *time.Time     // 发布日期
	Abstract        string         `gorm:"type:text"`               // 摘要
	Keywords        datatypes.JSON `gorm:"type:json"`               // 关键词
	Language        string         `gorm:"size:10"`                 // 语言
	QualityScore    float64        `gorm:"index"`                   // 质量分数
	SourceMetadata  datatypes.JSON `gorm:"type:json"`               // 来源元数据
	CreatedAt       time.Time      `gorm:"not null;index"`          // 创建时间
	UpdatedAt       time.Time      `gorm:"not null"`                // 更新时间
	Chunks          []ChunkRecord  `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

// TableName 明确指定表名
func (DocumentRecord) TableName() string {
	return "documents"
}

// BeforeCreate 创建记录前设置时间
func (d *DocumentRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate 更新记录前设置更新时间
func (d *DocumentRecord) BeforeUpdate(tx *gorm.DB) (err error) {
	d.UpdatedAt = time.Now()
	return nil
}

// ChunkRecord 分块元数据表，IndexPosition对应向量索引中的位置
type ChunkRecord struct {
	ID              string         `gorm:"primaryKey"`
	DocumentID      string         `gorm:"not null;index"`
	Text            string         `gorm:"type:text;not null"`
	ChunkIndex      int            `gorm:"not null"`
	ChunkSize       int            `gorm:"not null"`
	OverlapSize     int
	SourceType      string         `gorm:"not null;index"`
	DocumentTitle   string         `gorm:"not null"`
	QualityScore    float64        `gorm:"index"`
	EmbeddingNorm   float64
	IndexPosition   int64          `gorm:"index"`
	PreviousChunkID string
	NextChunkID     string
	Metadata        datatypes.JSON `gorm:"type:json"`
	CreatedAt       time.Time      `gorm:"not null;index"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

// TableName 明确指定表名
func (ChunkRecord) TableName() string {
	return "chunks"
}

// SearchHistory 检索历史表
type SearchHistory struct {
	ID              string         `gorm:"primaryKey"`
	Query           string         `gorm:"type:text;not null;index"`
	ResultsCount    int
	TopScore        float64
	AvgScore        float64
	ExecutionTimeMs float64
	FiltersApplied  datatypes.JSON `gorm:"type:json"`
	ResultsSummary  datatypes.JSON `gorm:"type:json"` // 返回的分块ID列表
	CreatedAt       time.Time      `gorm:"not null;index"`
}

// TableName 明确指定表名
func (SearchHistory) TableName() string {
	return "search_history"
}

// SystemConfig 系统配置键值表
type SystemConfig struct {
	Key         string    `gorm:"primaryKey"`
	Value       string    `gorm:"not null"`
	Description string
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName 明确指定表名
func (SystemConfig) TableName() string {
	return "system_config"
}

// NewDocumentRecord 将原始文档转换为数据库记录
func NewDocumentRecord(doc *RawDocument) *DocumentRecord {
	createdAt := doc.CollectedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &DocumentRecord{
		ID:              doc.ResolvedID(),
		Title:           doc.Title,
		Content:         doc.Content,
		SourceType:      doc.SourceType,
		URL:             doc.URL,
		Authors:         toJSON(doc.Authors),
		PublicationDate: doc.PublicationDate,
		Abstract:        doc.Abstract,
		Keywords:        toJSON(doc.Keywords),
		Language:        doc.Language,
		QualityScore:    doc.QualityScore,
		SourceMetadata:  toJSON(doc.SourceMetadata),
		CreatedAt:       createdAt,
	}
}

// NewChunkRecord 将分块转换为数据库记录，向量本身不入库
func NewChunkRecord(chunk *ProcessedChunk, position int64) *ChunkRecord {
	chunk = chunk.WithResolvedID()
	return &ChunkRecord{
		ID:              chunk.ChunkID,
		DocumentID:      chunk.DocumentID,
		Text:            chunk.Text,
		ChunkIndex:      chunk.ChunkIndex,
		ChunkSize:       chunk.ChunkSize,
		OverlapSize:     chunk.OverlapSize,
		SourceType:      chunk.SourceType,
		DocumentTitle:   chunk.DocumentTitle,
		QualityScore:    chunk.QualityScore,
		EmbeddingNorm:   chunk.EmbeddingNorm,
		IndexPosition:   position,
		PreviousChunkID: chunk.PreviousChunk,
		NextChunkID:     chunk.NextChunk,
		Metadata:        toJSON(chunk.Metadata),
		CreatedAt:       chunk.CreatedAt,
		UpdatedAt:       time.Now(),
	}
}

// ToChunk 转换为分块（不含向量）
func (r *ChunkRecord) ToChunk() *ProcessedChunk {
	chunk := &ProcessedChunk{
		ChunkID:       r.ID,
		Text:          r.Text,
		DocumentID:    r.DocumentID,
		ChunkIndex:    r.ChunkIndex,
		ChunkSize:     r.ChunkSize,
		OverlapSize:   r.OverlapSize,
		SourceType:    r.SourceType,
		DocumentTitle: r.DocumentTitle,
		QualityScore:  r.QualityScore,
		EmbeddingNorm: r.EmbeddingNorm,
		PreviousChunk: r.PreviousChunkID,
		NextChunk:     r.NextChunkID,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &chunk.Metadata)
	}
	return chunk
}

func toJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}
