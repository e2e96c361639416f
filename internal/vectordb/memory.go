package vectordb

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
)

const (
	memoryFormatVersion = 1
	kmeansIterations    = 10
)

// MemoryIndex 纯Go实现的内积索引
// flat为精确扫描，ivf为k-means粗量化后只扫描nprobe个倒排表
type MemoryIndex struct {
	kind      string
	dimension int
	nlist     int
	nprobe    int
	seed      int64

	vectors   []float32 // 按位置展平
	ntotal    int64
	trained   bool
	centroids []float32 // nlist*dimension
	lists     [][]int64 // 每个聚类内的位置
}

// NewMemoryIndex 创建内存索引
func NewMemoryIndex(cfg IndexConfig) (Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	idx := &MemoryIndex{
		kind:      cfg.Type,
		dimension: cfg.Dimension,
		nlist:     cfg.NList,
		nprobe:    cfg.NProbe,
		seed:      cfg.Seed,
	}
	switch cfg.Type {
	case "", IndexFlat:
		idx.kind = IndexFlat
		idx.trained = true
	case IndexIVF:
		if idx.nlist <= 0 {
			idx.nlist = 1
		}
		if idx.nprobe <= 0 {
			idx.nprobe = 1
		}
	default:
		return nil, fmt.Errorf("%w for memory backend: %q", ErrUnsupportedIndexType, cfg.Type)
	}
	return idx, nil
}

// Dimension 向量维度
func (m *MemoryIndex) Dimension() int { return m.dimension }

// Ntotal 向量总数
func (m *MemoryIndex) Ntotal() int64 { return m.ntotal }

// IsTrained 是否已训练
func (m *MemoryIndex) IsTrained() bool { return m.trained }

// Type 索引类型
func (m *MemoryIndex) Type() string { return m.kind }

// Close 内存索引无需释放
func (m *MemoryIndex) Close() error { return nil }

func (m *MemoryIndex) rows(x []float32) (int, error) {
	if len(x)%m.dimension != 0 {
		return 0, fmt.Errorf("%w: %d values is not a multiple of %d", ErrDimensionMismatch, len(x), m.dimension)
	}
	return len(x) / m.dimension, nil
}

func (m *MemoryIndex) row(x []float32, i int) []float32 {
	return x[i*m.dimension : (i+1)*m.dimension]
}

// Train 对ivf运行球面k-means，flat直接返回
func (m *MemoryIndex) Train(x []float32) error {
	if m.kind != IndexIVF {
		return nil
	}
	n, err := m.rows(x)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cannot train ivf index on empty sample")
	}

	k := m.nlist
	if k > n {
		k = n
	}
	rng := rand.New(rand.NewSource(m.seed))
	centroids := make([]float32, 0, k*m.dimension)
	for _, i := range rng.Perm(n)[:k] {
		centroids = append(centroids, m.row(x, i)...)
	}

	assign := make([]int, n)
	for iter := 0; iter < kmeansIterations; iter++ {
		for i := 0; i < n; i++ {
			assign[i] = nearestCentroid(centroids, m.row(x, i), m.dimension)
		}
		sums := make([]float64, k*m.dimension)
		counts := make([]int, k)
		for i := 0; i < n; i++ {
			c := assign[i]
			counts[c]++
			for d, v := range m.row(x, i) {
				sums[c*m.dimension+d] += float64(v)
			}
		}
		for c := 0; c < k; c++ {
			// 空聚类保留原中心
			if counts[c] == 0 {
				continue
			}
			var norm float64
			for d := 0; d < m.dimension; d++ {
				norm += sums[c*m.dimension+d] * sums[c*m.dimension+d]
			}
			norm = math.Sqrt(norm)
			if norm == 0 {
				continue
			}
			for d := 0; d < m.dimension; d++ {
				centroids[c*m.dimension+d] = float32(sums[c*m.dimension+d] / norm)
			}
		}
	}

	m.nlist = k
	m.centroids = centroids
	m.lists = make([][]int64, k)
	m.trained = true
	return nil
}

func nearestCentroid(centroids, v []float32, dimension int) int {
	best, bestScore := 0, float32(math.Inf(-1))
	for c := 0; c*dimension < len(centroids); c++ {
		if s := dotProduct(centroids[c*dimension:(c+1)*dimension], v); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// Add 追加向量，ivf需先训练
func (m *MemoryIndex) Add(x []float32) error {
	if !m.trained {
		return ErrIndexNotTrained
	}
	n, err := m.rows(x)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		v := m.row(x, i)
		if m.kind == IndexIVF {
			c := nearestCentroid(m.centroids, v, m.dimension)
			m.lists[c] = append(m.lists[c], m.ntotal)
		}
		m.vectors = append(m.vectors, v...)
		m.ntotal++
	}
	return nil
}

// Search 返回前k个内积结果，按得分降序
func (m *MemoryIndex) Search(query []float32, k int64) ([]float32, []int64, error) {
	if len(query) != m.dimension {
		return nil, nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, m.dimension, len(query))
	}
	if k <= 0 {
		return []float32{}, []int64{}, nil
	}

	type hit struct {
		score float32
		label int64
	}
	var hits []hit
	scan := func(pos int64) {
		v := m.vectors[pos*int64(m.dimension) : (pos+1)*int64(m.dimension)]
		hits = append(hits, hit{score: dotProduct(query, v), label: pos})
	}

	if m.kind == IndexIVF {
		for _, c := range m.probe(query) {
			for _, pos := range m.lists[c] {
				scan(pos)
			}
		}
	} else {
		for pos := int64(0); pos < m.ntotal; pos++ {
			scan(pos)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score == hits[j].score {
			return hits[i].label < hits[j].label
		}
		return hits[i].score > hits[j].score
	})

	scores := make([]float32, k)
	labels := make([]int64, k)
	for i := int64(0); i < k; i++ {
		if i < int64(len(hits)) {
			scores[i] = hits[i].score
			labels[i] = hits[i].label
			continue
		}
		scores[i] = float32(math.Inf(-1))
		labels[i] = -1
	}
	return scores, labels, nil
}

// probe 返回与查询最接近的nprobe个聚类
func (m *MemoryIndex) probe(query []float32) []int {
	order := make([]int, m.nlist)
	scores := make([]float32, m.nlist)
	for c := range order {
		order[c] = c
		scores[c] = dotProduct(m.centroids[c*m.dimension:(c+1)*m.dimension], query)
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	n := m.nprobe
	if n > len(order) {
		n = len(order)
	}
	return order[:n]
}

// memoryIndexFile 内存索引的磁盘格式
type memoryIndexFile struct {
	Version   int
	Kind      string
	Dimension int
	NList     int
	NProbe    int
	Trained   bool
	Vectors   []float32
	Ntotal    int64
	Centroids []float32
	Lists     [][]int64
}

// WriteFile 以gob格式写入文件
func (m *MemoryIndex) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	payload := memoryIndexFile{
		Version:   memoryFormatVersion,
		Kind:      m.kind,
		Dimension: m.dimension,
		NList:     m.nlist,
		NProbe:    m.nprobe,
		Trained:   m.trained,
		Vectors:   m.vectors,
		Ntotal:    m.ntotal,
		Centroids: m.centroids,
		Lists:     m.lists,
	}
	if err := gob.NewEncoder(f).Encode(&payload); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return f.Sync()
}

// ReadMemoryIndex 从文件读取内存索引，nprobe以当前配置为准
func ReadMemoryIndex(path string, cfg IndexConfig) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	var payload memoryIndexFile
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	if payload.Version != memoryFormatVersion {
		return nil, fmt.Errorf("unsupported index file version %d", payload.Version)
	}
	if payload.Dimension <= 0 || int64(len(payload.Vectors)) != payload.Ntotal*int64(payload.Dimension) {
		return nil, fmt.Errorf("corrupt index file: %d values for %d vectors", len(payload.Vectors), payload.Ntotal)
	}

	idx := &MemoryIndex{
		kind:      payload.Kind,
		dimension: payload.Dimension,
		nlist:     payload.NList,
		nprobe:    payload.NProbe,
		seed:      cfg.Seed,
		vectors:   payload.Vectors,
		ntotal:    payload.Ntotal,
		trained:   payload.Trained,
		centroids: payload.Centroids,
		lists:     payload.Lists,
	}
	if cfg.NProbe > 0 {
		idx.nprobe = cfg.NProbe
	}
	if idx.kind == IndexIVF && len(idx.lists) != idx.nlist {
		return nil, fmt.Errorf("corrupt index file: %d inverted lists for nlist %d", len(idx.lists), idx.nlist)
	}
	return idx, nil
}

func init() {
	RegisterIndex("memory", NewMemoryIndex, ReadMemoryIndex)
}
