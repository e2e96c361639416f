package vectordb

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
)

// State 向量库生命周期状态
type State string

const (
	StateUninitialized State = "uninitialized"
	StateEmpty         State = "empty"
	StatePopulated     State = "populated"
	StatePersisted     State = "persisted"
	StateRestored      State = "restored"
)

// Config 向量库配置
type Config struct {
	StorageDir          string      `mapstructure:"storage_dir"`
	Index               IndexConfig `mapstructure:",squash"`
	DefaultTopK         int         `mapstructure:"default_top_k"`
	MaxTopK             int         `mapstructure:"max_top_k"`
	SimilarityThreshold float64     `mapstructure:"similarity_threshold"`
	CompactionRatio     float64     `mapstructure:"compaction_ratio"` // 墓碑占比达到该值时自动压缩
	ContextWindow       int         `mapstructure:"context_window"`
}

// DefaultConfig 返回默认向量库配置
func DefaultConfig() Config {
	return Config{
		StorageDir:          "./rag_storage",
		Index:               DefaultIndexConfig(),
		DefaultTopK:         10,
		MaxTopK:             100,
		SimilarityThreshold: 0.5,
		CompactionRatio:     0.25,
		ContextWindow:       1,
	}
}

// Store 分块向量库：索引位置与分块列表一一对应
// 删除只打墓碑，压缩时整体重建
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	logger *logrus.Logger

	index      Index
	dimension  int
	chunks     []*models.ProcessedChunk // 下标即索引位置
	positions  map[string]int64         // 存活分块ID到位置
	byDocument map[string][]int64       // 文档ID到存活位置
	tombstones map[int64]struct{}
	generation int64
	state      State

	lastUpdated time.Time
	searchCount atomic.Int64
}

// Option 向量库配置选项
type Option func(*Store)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore 创建空向量库，索引在第一批分块到达时才创建
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 100
	}
	if cfg.DefaultTopK > cfg.MaxTopK {
		return nil, fmt.Errorf("default top_k %d exceeds max top_k %d", cfg.DefaultTopK, cfg.MaxTopK)
	}
	if cfg.CompactionRatio <= 0 || cfg.CompactionRatio > 1 {
		cfg.CompactionRatio = 0.25
	}
	if _, err := lookupBackend(cfg.Index.Backend); err != nil {
		return nil, err
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = IndexFlat
	}

	s := &Store{
		cfg:       cfg,
		logger:    logrus.StandardLogger(),
		dimension: cfg.Index.Dimension,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s, nil
}

func (s *Store) resetLocked() {
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to release vector index")
		}
	}
	s.index = nil
	s.chunks = nil
	s.positions = make(map[string]int64)
	s.byDocument = make(map[string][]int64)
	s.tombstones = make(map[int64]struct{})
	s.state = StateEmpty
}

// State 当前状态
func (s *Store) State() State {
	if s == nil {
		return StateUninitialized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Config 返回配置
func (s *Store) Config() Config {
	return s.cfg
}

// Len 存活分块数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Dimension 向量维度，索引未创建时为0
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Contains 分块是否已索引
func (s *Store) Contains(chunkID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[chunkID]
	return ok
}

// AddChunks 添加分块，已存在的ID被跳过，返回新增数量
// 向量不合法的分块被跳过，整批都不合法时返回第一个校验错误
func (s *Store) AddChunks(chunks []*models.ProcessedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	seen := make(map[string]struct{}, len(chunks))
	var fresh []*models.ProcessedChunk
	var vectors [][]float32
	var firstErr error
	invalid := 0
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		chunk = chunk.WithResolvedID()
		if _, ok := s.positions[chunk.ChunkID]; ok {
			continue
		}
		if _, ok := seen[chunk.ChunkID]; ok {
			continue
		}
		if err := validateVector(chunk.Embedding, dimension); err != nil {
			invalid++
			if firstErr == nil {
				firstErr = fmt.Errorf("chunk %s: %w", chunk.ChunkID, err)
			}
			continue
		}
		if dimension == 0 {
			dimension = len(chunk.Embedding)
		}
		seen[chunk.ChunkID] = struct{}{}
		fresh = append(fresh, chunk)
		vectors = append(vectors, normalizeVector(chunk.Embedding))
	}
	if len(fresh) == 0 {
		return 0, firstErr
	}

	flat := flatten(vectors, dimension)
	if s.index == nil {
		idx, err := s.createIndex(dimension, flat)
		if err != nil {
			return 0, err
		}
		s.index = idx
		s.dimension = dimension
	}
	if err := s.index.Add(flat); err != nil {
		return 0, fmt.Errorf("failed to add vectors to index: %w", err)
	}
	s.appendLocked(fresh)
	s.state = StatePopulated
	s.lastUpdated = time.Now()

	fields := logrus.Fields{
		"added":        len(fresh),
		"skipped":      len(chunks) - len(fresh),
		"total_chunks": len(s.positions),
	}
	if invalid > 0 {
		fields["invalid"] = invalid
		s.logger.WithFields(fields).WithError(firstErr).Warn("Chunks with invalid embeddings skipped")
	}
	s.logger.WithFields(fields).Info("Chunks added to vector store")
	return len(fresh), nil
}

// createIndex 创建索引，需要训练的类型用首批向量训练
func (s *Store) createIndex(dimension int, sample []float32) (Index, error) {
	cfg := s.cfg.Index
	cfg.Dimension = dimension
	if n := len(sample) / dimension; cfg.NeedsTraining() && cfg.NList > n {
		cfg.NList = n
	}
	idx, err := NewIndex(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s index: %w", cfg.Type, err)
	}
	if !idx.IsTrained() {
		s.logger.WithFields(logrus.Fields{
			"index_type": cfg.Type,
			"samples":    len(sample) / dimension,
			"nlist":      cfg.NList,
		}).Info("Training vector index")
		if err := idx.Train(sample); err != nil {
			idx.Close()
			return nil, fmt.Errorf("failed to train index: %w", err)
		}
	}
	return idx, nil
}

func (s *Store) appendLocked(chunks []*models.ProcessedChunk) {
	start := int64(len(s.chunks))
	for i, chunk := range chunks {
		pos := start + int64(i)
		s.chunks = append(s.chunks, chunk)
		s.positions[chunk.ChunkID] = pos
		s.byDocument[chunk.DocumentID] = append(s.byDocument[chunk.DocumentID], pos)
	}
}

func (s *Store) clampTopK(topK int) int {
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}
	if topK > s.cfg.MaxTopK {
		topK = s.cfg.MaxTopK
	}
	return topK
}

// Search 相似度检索，空库返回空列表
// 向量库失败返回错误，空列表只表示没有匹配
func (s *Store) Search(query []float32, topK int, filters *models.SearchFilters) ([]*models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(query, topK, filters)
}

func (s *Store) searchLocked(query []float32, topK int, filters *models.SearchFilters) ([]*models.SearchResult, error) {
	results := []*models.SearchResult{}
	if s.index == nil || len(s.positions) == 0 {
		return results, nil
	}
	if err := validateVector(query, s.dimension); err != nil {
		return nil, fmt.Errorf("invalid query vector: %w", err)
	}
	s.searchCount.Add(1)

	topK = s.clampTopK(topK)
	k := int64(2*topK + len(s.tombstones))
	if total := s.index.Ntotal(); k > total {
		k = total
	}

	scores, labels, err := s.index.Search(normalizeVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	for i, label := range labels {
		if label < 0 || label >= int64(len(s.chunks)) {
			continue
		}
		if _, dead := s.tombstones[label]; dead {
			continue
		}
		score := float64(scores[i])
		if score < s.cfg.SimilarityThreshold {
			continue
		}
		chunk := s.chunks[label]
		if !filters.Match(chunk) {
			continue
		}
		results = append(results, &models.SearchResult{
			Chunk:      chunk,
			Score:      score,
			Rank:       len(results) + 1,
			SearchType: "semantic",
			SearchMetadata: map[string]interface{}{
				"index_position": label,
				"raw_score":      scores[i],
				"index_type":     s.index.Type(),
				"generation":     s.generation,
			},
		})
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

// SearchWithContext 检索并为每个命中附加同一文档前后window个分块
func (s *Store) SearchWithContext(query []float32, topK int, filters *models.SearchFilters, window int) ([]*models.SearchResult, error) {
	if window <= 0 {
		window = s.cfg.ContextWindow
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.searchLocked(query, topK, filters)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		r.ContextChunks = s.contextLocked(r.Chunk, window)
	}
	return results, nil
}

func (s *Store) contextLocked(chunk *models.ProcessedChunk, window int) []*models.ProcessedChunk {
	siblings := s.documentChunksLocked(chunk.DocumentID)
	current := -1
	for i, c := range siblings {
		if c.ChunkID == chunk.ChunkID {
			current = i
			break
		}
	}
	context := []*models.ProcessedChunk{}
	if current < 0 {
		return context
	}
	start := current - window
	if start < 0 {
		start = 0
	}
	end := current + window + 1
	if end > len(siblings) {
		end = len(siblings)
	}
	for i := start; i < end; i++ {
		if i != current {
			context = append(context, siblings[i])
		}
	}
	return context
}

// documentChunksLocked 文档的存活分块，按文档内序号排序
func (s *Store) documentChunksLocked(documentID string) []*models.ProcessedChunk {
	positions := s.byDocument[documentID]
	chunks := make([]*models.ProcessedChunk, 0, len(positions))
	for _, pos := range positions {
		chunks = append(chunks, s.chunks[pos])
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	return chunks
}

// GetChunk 按ID获取分块
func (s *Store) GetChunk(chunkID string) (*models.ProcessedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[chunkID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrChunkNotFound, chunkID)
	}
	return s.chunks[pos], nil
}

// ChunksByDocument 获取文档的全部分块
func (s *Store) ChunksByDocument(documentID string) []*models.ProcessedChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentChunksLocked(documentID)
}

// Chunks 按索引位置返回全部存活分块
func (s *Store) Chunks() []*models.ProcessedChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveChunksLocked()
}

// Positions 返回分块当前的索引位置，未索引的ID不出现在结果中
func (s *Store) Positions(chunkIDs []string) map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(chunkIDs))
	for _, id := range chunkIDs {
		if pos, ok := s.positions[id]; ok {
			out[id] = pos
		}
	}
	return out
}

// Generation 索引重建代数
func (s *Store) Generation() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// DocumentIDs 返回已索引的文档ID
func (s *Store) DocumentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byDocument))
	for id := range s.byDocument {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveChunksByDocument 给文档的全部分块打墓碑，返回移除数量
// 墓碑占比达到CompactionRatio时立即压缩
func (s *Store) RemoveChunksByDocument(documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.byDocument[documentID]
	if len(positions) == 0 {
		return 0, nil
	}
	for _, pos := range positions {
		s.tombstones[pos] = struct{}{}
		delete(s.positions, s.chunks[pos].ChunkID)
	}
	delete(s.byDocument, documentID)
	s.lastUpdated = time.Now()
	s.state = StatePopulated

	ratio := float64(len(s.tombstones)) / float64(len(s.chunks))
	s.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"removed":     len(positions),
		"tombstones":  len(s.tombstones),
		"ratio":       ratio,
	}).Info("Document chunks removed from vector store")

	if ratio >= s.cfg.CompactionRatio {
		if err := s.rebuildLocked(s.liveChunksLocked()); err != nil {
			return len(positions), fmt.Errorf("failed to compact index: %w", err)
		}
	}
	return len(positions), nil
}

// Compact 有墓碑时重建索引
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tombstones) == 0 {
		return nil
	}
	return s.rebuildLocked(s.liveChunksLocked())
}

// RebuildIndex 丢弃无效向量后重建索引，配置了存储目录时同时持久化
func (s *Store) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebuildLocked(s.liveChunksLocked()); err != nil {
		return err
	}
	if s.cfg.StorageDir == "" {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) liveChunksLocked() []*models.ProcessedChunk {
	live := make([]*models.ProcessedChunk, 0, len(s.positions))
	for pos, chunk := range s.chunks {
		if _, dead := s.tombstones[int64(pos)]; !dead {
			live = append(live, chunk)
		}
	}
	return live
}

// rebuildLocked 用给定分块重新创建索引，位置按分块顺序重新分配
func (s *Store) rebuildLocked(chunks []*models.ProcessedChunk) error {
	dimension := s.dimension
	var valid []*models.ProcessedChunk
	var vectors [][]float32
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if dimension == 0 {
			dimension = len(chunk.Embedding)
		}
		if _, dup := seen[chunk.ChunkID]; dup || !chunk.HasValidEmbedding(dimension) {
			continue
		}
		seen[chunk.ChunkID] = struct{}{}
		valid = append(valid, chunk)
		vectors = append(vectors, normalizeVector(chunk.Embedding))
	}

	var idx Index
	if len(valid) > 0 {
		var err error
		idx, err = s.createIndex(dimension, flatten(vectors, dimension))
		if err != nil {
			return err
		}
		if err := idx.Add(flatten(vectors, dimension)); err != nil {
			idx.Close()
			return fmt.Errorf("failed to add vectors to rebuilt index: %w", err)
		}
	}

	dropped := len(chunks) - len(valid)
	s.resetLocked()
	s.index = idx
	s.dimension = dimension
	s.appendLocked(valid)
	s.generation++
	s.lastUpdated = time.Now()
	if len(valid) > 0 {
		s.state = StatePopulated
	}

	s.logger.WithFields(logrus.Fields{
		"chunks":     len(valid),
		"dropped":    dropped,
		"generation": s.generation,
	}).Info("Vector index rebuilt")
	return nil
}

// Clear 清空内存中的全部内容，不删除磁盘文件
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.dimension = s.cfg.Index.Dimension
	s.lastUpdated = time.Time{}
	s.searchCount.Store(0)
}

// Close 释放索引资源
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	s.state = StateUninitialized
	return err
}
