package quality

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
)

// 过滤原因
const (
	ReasonTooShort           = "too_short"
	ReasonTooLong            = "too_long"
	ReasonLowQualityScore    = "low_quality_score"
	ReasonLowQualityPatterns = "low_quality_patterns"
	ReasonLowEmbeddingNorm   = "low_embedding_norm"
	ReasonDuplicate          = "duplicate"
	ReasonOther              = "other"
)

// FilterStats 一次过滤的统计信息
type FilterStats struct {
	TotalInput  int            `json:"total_input"`
	TotalOutput int            `json:"total_output"`
	Reasons     map[string]int `json:"filtered_reasons"`
	DedupMode   string         `json:"dedup_mode,omitempty"`
	DedupError  string         `json:"dedup_error,omitempty"`
}

// Filtered 被过滤掉的数量
func (s *FilterStats) Filtered() int {
	return s.TotalInput - s.TotalOutput
}

func newFilterStats(total int, reasons ...string) *FilterStats {
	stats := &FilterStats{
		TotalInput: total,
		Reasons:    make(map[string]int, len(reasons)),
	}
	for _, r := range reasons {
		stats.Reasons[r] = 0
	}
	return stats
}

// Filter 文档与分块的质量过滤器
// 过滤器不会因为单条输入异常而失败，无法评估的输入计入other
type Filter struct {
	cfg      Config
	patterns []*regexp.Regexp
	logger   *logrus.Logger
}

// Option 过滤器配置选项
type Option func(*Filter)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(f *Filter) {
		f.logger = logger
	}
}

// NewFilter 创建质量过滤器
func NewFilter(cfg Config, opts ...Option) (*Filter, error) {
	f := &Filter{
		cfg:    cfg,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, p := range cfg.LowQualityPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile low quality pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Config 返回过滤配置
func (f *Filter) Config() Config {
	return f.cfg
}

// FilterDocuments 按长度、质量分、低质量模式过滤文档，并去除近似重复
func (f *Filter) FilterDocuments(docs []*models.RawDocument) ([]*models.RawDocument, *FilterStats) {
	stats := newFilterStats(len(docs),
		ReasonTooShort, ReasonTooLong, ReasonLowQualityScore,
		ReasonLowQualityPatterns, ReasonDuplicate, ReasonOther)

	kept := make([]*models.RawDocument, 0, len(docs))
	for _, doc := range docs {
		if reason := f.documentRejection(doc); reason != "" {
			stats.Reasons[reason]++
			continue
		}
		kept = append(kept, doc)
	}

	if f.cfg.EnableDuplicateDetection && len(kept) > 1 {
		kept = f.dedupeDocuments(kept, stats)
	}

	stats.TotalOutput = len(kept)
	f.logStats("documents", stats)
	return kept, stats
}

// FilterChunks 按长度、质量分、向量范数过滤分块，并基于向量相似度去重
func (f *Filter) FilterChunks(chunks []*models.ProcessedChunk) ([]*models.ProcessedChunk, *FilterStats) {
	stats := newFilterStats(len(chunks),
		ReasonTooShort, ReasonTooLong, ReasonLowQualityScore,
		ReasonLowEmbeddingNorm, ReasonDuplicate, ReasonOther)

	kept := make([]*models.ProcessedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if reason := f.chunkRejection(chunk); reason != "" {
			stats.Reasons[reason]++
			continue
		}
		kept = append(kept, chunk)
	}

	if f.cfg.EnableDuplicateDetection && len(kept) > 1 {
		kept = f.dedupeChunks(kept, stats)
	}

	stats.TotalOutput = len(kept)
	f.logStats("chunks", stats)
	return kept, stats
}

func (f *Filter) documentRejection(doc *models.RawDocument) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithField("panic", r).Warn("Document could not be evaluated")
			reason = ReasonOther
		}
	}()

	if doc == nil || math.IsNaN(doc.QualityScore) {
		return ReasonOther
	}
	length := utf8.RuneCountInString(doc.Content)
	if length < f.cfg.MinDocumentLength {
		return ReasonTooShort
	}
	if length > f.cfg.MaxDocumentLength {
		return ReasonTooLong
	}
	if doc.QualityScore < f.cfg.MinDocumentQualityScore {
		return ReasonLowQualityScore
	}
	if f.containsLowQualityPatterns(doc.Content) {
		return ReasonLowQualityPatterns
	}
	return ""
}

func (f *Filter) chunkRejection(chunk *models.ProcessedChunk) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithField("panic", r).Warn("Chunk could not be evaluated")
			reason = ReasonOther
		}
	}()

	if chunk == nil || math.IsNaN(chunk.QualityScore) || math.IsNaN(chunk.EmbeddingNorm) {
		return ReasonOther
	}
	if chunk.ChunkSize < f.cfg.MinChunkLength {
		return ReasonTooShort
	}
	if chunk.ChunkSize > f.cfg.MaxChunkLength {
		return ReasonTooLong
	}
	if chunk.QualityScore < f.cfg.MinChunkQualityScore {
		return ReasonLowQualityScore
	}
	if chunk.EmbeddingNorm < f.cfg.MinEmbeddingNorm {
		return ReasonLowEmbeddingNorm
	}
	return ""
}

func (f *Filter) dedupeDocuments(docs []*models.RawDocument, stats *FilterStats) (out []*models.RawDocument) {
	defer func() {
		if r := recover(); r != nil {
			stats.DedupError = fmt.Sprint(r)
			f.logger.WithField("error", r).Warn("Duplicate detection failed, keeping documents unfiltered")
			out = docs
		}
	}()

	texts := make([]string, len(docs))
	quality := make([]float64, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
		quality[i] = doc.QualityScore
	}

	vectors, err := newTFIDFVectorizer(f.cfg.MaxFeatures).fitTransform(texts)
	if err != nil {
		stats.DedupError = err.Error()
		f.logger.WithError(err).Warn("Duplicate detection failed, keeping documents unfiltered")
		return docs
	}

	removed, mode := f.findDuplicates(vectors, quality)
	stats.DedupMode = mode
	stats.Reasons[ReasonDuplicate] = len(removed)

	out = make([]*models.RawDocument, 0, len(docs)-len(removed))
	for i, doc := range docs {
		if _, dup := removed[i]; !dup {
			out = append(out, doc)
		}
	}
	return out
}

func (f *Filter) dedupeChunks(chunks []*models.ProcessedChunk, stats *FilterStats) (out []*models.ProcessedChunk) {
	defer func() {
		if r := recover(); r != nil {
			stats.DedupError = fmt.Sprint(r)
			f.logger.WithField("error", r).Warn("Duplicate detection failed, keeping chunks unfiltered")
			out = chunks
		}
	}()

	vectors := make([][]float64, len(chunks))
	quality := make([]float64, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = normalizeEmbedding(chunk.Embedding)
		quality[i] = chunk.QualityScore
	}

	removed, mode := f.findDuplicates(vectors, quality)
	stats.DedupMode = mode
	stats.Reasons[ReasonDuplicate] = len(removed)

	out = make([]*models.ProcessedChunk, 0, len(chunks)-len(removed))
	for i, chunk := range chunks {
		if _, dup := removed[i]; !dup {
			out = append(out, chunk)
		}
	}
	return out
}

// CalculateDocumentQualityScore 计算文档综合质量分
func (f *Filter) CalculateDocumentQualityScore(doc *models.RawDocument) float64 {
	if doc == nil {
		return 0
	}
	score := 0.5

	length := utf8.RuneCountInString(doc.Content)
	switch {
	case length >= 1000 && length <= 10000:
		score += 0.2
	case (length >= 500 && length < 1000) || (length > 10000 && length <= 20000):
		score += 0.1
	case length < 200:
		score -= 0.3
	}

	score += f.academicScore(doc.Content) * 0.2
	score += structureScore(doc.Content) * 0.1

	if len(doc.Authors) > 0 {
		score += 0.05
	}
	if doc.PublicationDate != nil && !doc.PublicationDate.IsZero() {
		score += 0.05
	}
	if len(doc.Keywords) > 0 {
		score += 0.05
	}
	if doc.Abstract != "" {
		score += 0.05
	}

	if f.containsLowQualityPatterns(doc.Content) {
		score -= 0.3
	}

	return models.Clamp01(score)
}

func (f *Filter) containsLowQualityPatterns(text string) bool {
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (f *Filter) academicScore(text string) float64 {
	if len(f.cfg.AcademicIndicators) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	found := 0
	for _, indicator := range f.cfg.AcademicIndicators {
		if strings.Contains(lower, indicator) {
			found++
		}
	}
	return math.Min(float64(found)/float64(len(f.cfg.AcademicIndicators)), 1.0)
}

// structureScore 标点、大小写比例、段落数和词汇多样性
func structureScore(text string) float64 {
	score := 0.0

	if strings.ContainsAny(text, ".,!?;:") {
		score += 0.3
	}

	total, upper := 0, 0
	for _, r := range text {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if total > 0 {
		ratio := float64(upper) / float64(total)
		if ratio >= 0.02 && ratio <= 0.15 {
			score += 0.2
		}
	}

	paragraphs := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	if paragraphs > 1 {
		score += 0.3
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) > 0.3 {
			score += 0.2
		}
	}

	return math.Min(score, 1.0)
}

func (f *Filter) logStats(kind string, stats *FilterStats) {
	fields := logrus.Fields{
		"kind":         kind,
		"total_input":  stats.TotalInput,
		"total_output": stats.TotalOutput,
	}
	for reason, count := range stats.Reasons {
		if count > 0 {
			fields[reason] = count
		}
	}
	if stats.DedupMode != "" {
		fields["dedup_mode"] = stats.DedupMode
	}
	f.logger.WithFields(fields).Info("Quality filter applied")
}
