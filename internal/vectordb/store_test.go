package vectordb

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T, mutate func(*Config)) *Store {
	cfg := DefaultConfig()
	cfg.StorageDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewStore(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	return s
}

func testChunk(id, doc string, index int, vec ...float32) *models.ProcessedChunk {
	c := &models.ProcessedChunk{
		ChunkID:      id,
		DocumentID:   doc,
		ChunkIndex:   index,
		Text:         "text of " + id,
		ChunkSize:    10 + index,
		SourceType:   "test",
		QualityScore: 0.5,
		Embedding:    vec,
	}
	c.ComputeNorm()
	return c
}

// a、b、c与查询(1,0,0)的相似度依次为1、0.8、0.6，d为0
func sampleChunks() []*models.ProcessedChunk {
	return []*models.ProcessedChunk{
		testChunk("a", "d1", 0, 1, 0, 0),
		testChunk("b", "d1", 1, 0.8, 0.6, 0),
		testChunk("c", "d2", 0, 0.6, 0.8, 0),
		testChunk("d", "d3", 0, 0, 1, 0),
	}
}

var query = []float32{1, 0, 0}

func ids(results []*models.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ChunkID
	}
	return out
}

func TestStore_AddChunks(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		s := newTestStore(t, nil)
		assert.Equal(t, StateEmpty, s.State())

		added, err := s.AddChunks(sampleChunks())
		require.NoError(t, err)
		assert.Equal(t, 4, added)
		assert.Equal(t, StatePopulated, s.State())
		assert.Equal(t, 3, s.Dimension())

		added, err = s.AddChunks(sampleChunks())
		require.NoError(t, err)
		assert.Zero(t, added)
		assert.Equal(t, 4, s.Len())
		assert.Equal(t, int64(4), s.Statistics().Index.TotalVectors)
	})

	t.Run("duplicates inside batch", func(t *testing.T) {
		s := newTestStore(t, nil)
		added, err := s.AddChunks([]*models.ProcessedChunk{
			testChunk("x", "d", 0, 1, 0), testChunk("x", "d", 0, 1, 0), nil,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, added)
	})

	t.Run("invalid embeddings are skipped", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.AddChunks(sampleChunks()[:1])
		require.NoError(t, err)

		added, err := s.AddChunks([]*models.ProcessedChunk{
			testChunk("ok", "d9", 0, 0, 0, 1),
			testChunk("bad", "d9", 1, 1, 0),
			testChunk("zero", "d9", 2, 0, 0, 0),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.Equal(t, 2, s.Len())
		assert.True(t, s.Contains("ok"))
		assert.False(t, s.Contains("bad"))
		assert.False(t, s.Contains("zero"))
	})

	t.Run("batch without valid embeddings", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.AddChunks(sampleChunks()[:1])
		require.NoError(t, err)

		_, err = s.AddChunks([]*models.ProcessedChunk{testChunk("bad", "d9", 0, 1, 0)})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("empty and degenerate embeddings", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.AddChunks([]*models.ProcessedChunk{testChunk("e", "d", 0)})
		assert.ErrorIs(t, err, ErrEmptyEmbedding)

		_, err = s.AddChunks([]*models.ProcessedChunk{testChunk("z", "d", 0, 0, 0, 0)})
		assert.ErrorIs(t, err, ErrInvalidEmbedding)
		assert.Equal(t, StateEmpty, s.State())
	})

	t.Run("caller chunks keep their fields", func(t *testing.T) {
		s := newTestStore(t, nil)
		chunk := testChunk("", "d5", 3, 1, 0, 0)
		chunk.ChunkSize = 0

		added, err := s.AddChunks([]*models.ProcessedChunk{chunk})
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		assert.Empty(t, chunk.ChunkID)
		assert.Zero(t, chunk.ChunkSize)
		assert.True(t, s.Contains("d5_chunk_3"))

		results, err := s.Search([]float32{1, 0, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "d5_chunk_3", results[0].Chunk.ChunkID)
		assert.Equal(t, len([]rune(chunk.Text)), results[0].Chunk.ChunkSize)
	})

	t.Run("unsupported index type", func(t *testing.T) {
		s := newTestStore(t, func(c *Config) { c.Index.Type = IndexHNSW })
		_, err := s.AddChunks(sampleChunks())
		assert.ErrorIs(t, err, ErrUnsupportedIndexType)
		assert.Zero(t, s.Len())
	})
}

func TestStore_Search(t *testing.T) {
	s := newTestStore(t, nil)

	empty, err := s.Search(query, 5, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = s.AddChunks(sampleChunks())
	require.NoError(t, err)

	t.Run("ranked and thresholded", func(t *testing.T) {
		results, err := s.Search(query, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(results))
		for i, r := range results {
			assert.Equal(t, i+1, r.Rank)
			assert.Equal(t, "semantic", r.SearchType)
			assert.GreaterOrEqual(t, r.Score, 0.5)
			if i > 0 {
				assert.LessOrEqual(t, r.Score, results[i-1].Score)
			}
		}
		assert.InDelta(t, 0.8, results[1].Score, 1e-6)
		assert.Equal(t, int64(1), results[1].SearchMetadata["index_position"])
		assert.Equal(t, IndexFlat, results[1].SearchMetadata["index_type"])
	})

	t.Run("top k", func(t *testing.T) {
		results, err := s.Search(query, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(results))

		results, err = s.Search(query, 0, nil)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("filters", func(t *testing.T) {
		results, err := s.Search(query, 3, &models.SearchFilters{DocumentIDs: []string{"d2"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(results))
		assert.Equal(t, 1, results[0].Rank)

		minSize := 11
		results, err = s.Search(query, 3, &models.SearchFilters{ChunkSizeMin: &minSize})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(results))
	})

	t.Run("unnormalized query", func(t *testing.T) {
		results, err := s.Search([]float32{5, 0, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	})

	t.Run("bad query", func(t *testing.T) {
		_, err := s.Search([]float32{1, 0}, 1, nil)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		_, err = s.Search([]float32{0, 0, 0}, 1, nil)
		assert.ErrorIs(t, err, ErrInvalidEmbedding)
	})

	t.Run("custom threshold", func(t *testing.T) {
		strict := newTestStore(t, func(c *Config) { c.SimilarityThreshold = 0.7 })
		_, err := strict.AddChunks(sampleChunks())
		require.NoError(t, err)
		results, err := strict.Search(query, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(results))
	})

	assert.Positive(t, s.Statistics().Basic.SearchCount)
}

func TestStore_SearchWithContext(t *testing.T) {
	s := newTestStore(t, nil)
	var chunks []*models.ProcessedChunk
	for _, i := range []int{3, 0, 4, 2, 1} {
		v := make([]float32, 5)
		v[i] = 1
		chunks = append(chunks, testChunk(models.ChunkID("long", i), "long", i, v...))
	}
	_, err := s.AddChunks(chunks)
	require.NoError(t, err)

	contextIDs := func(r *models.SearchResult) []string {
		out := make([]string, len(r.ContextChunks))
		for i, c := range r.ContextChunks {
			out[i] = c.ChunkID
		}
		return out
	}

	results, err := s.SearchWithContext([]float32{0, 0, 1, 0, 0}, 1, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "long_chunk_2", results[0].Chunk.ChunkID)
	assert.Equal(t, []string{"long_chunk_1", "long_chunk_3"}, contextIDs(results[0]))

	results, err = s.SearchWithContext([]float32{0, 0, 1, 0, 0}, 1, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"long_chunk_0", "long_chunk_1", "long_chunk_3", "long_chunk_4"}, contextIDs(results[0]))

	results, err = s.SearchWithContext([]float32{1, 0, 0, 0, 0}, 1, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"long_chunk_1"}, contextIDs(results[0]))

	byDoc := s.ChunksByDocument("long")
	require.Len(t, byDoc, 5)
	for i, c := range byDoc {
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestStore_RemoveChunksByDocument(t *testing.T) {
	t.Run("tombstones until compaction", func(t *testing.T) {
		s := newTestStore(t, func(c *Config) { c.CompactionRatio = 1 })
		_, err := s.AddChunks(sampleChunks())
		require.NoError(t, err)

		removed, err := s.RemoveChunksByDocument("d1")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		assert.Equal(t, 2, s.Len())

		results, err := s.Search(query, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(results))

		_, err = s.GetChunk("a")
		assert.ErrorIs(t, err, models.ErrChunkNotFound)
		assert.Empty(t, s.ChunksByDocument("d1"))

		stats := s.Statistics()
		assert.Equal(t, 2, stats.Index.Tombstones)
		assert.Equal(t, int64(4), stats.Index.TotalVectors)
		assert.Zero(t, stats.Index.Generation)

		require.NoError(t, s.Compact())
		stats = s.Statistics()
		assert.Zero(t, stats.Index.Tombstones)
		assert.Equal(t, int64(2), stats.Index.TotalVectors)
		assert.Equal(t, int64(1), stats.Index.Generation)

		results, err = s.Search(query, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(results))

		// 删除后可以重新加入
		added, err := s.AddChunks(sampleChunks()[:1])
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		results, err = s.Search(query, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(results))
	})

	t.Run("ratio triggers compaction", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.AddChunks(sampleChunks())
		require.NoError(t, err)

		removed, err := s.RemoveChunksByDocument("d2")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		stats := s.Statistics()
		assert.Zero(t, stats.Index.Tombstones)
		assert.Equal(t, int64(3), stats.Index.TotalVectors)
		assert.Equal(t, int64(1), stats.Index.Generation)
	})

	t.Run("unknown document", func(t *testing.T) {
		s := newTestStore(t, nil)
		removed, err := s.RemoveChunksByDocument("nope")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("removing everything", func(t *testing.T) {
		s := newTestStore(t, nil)
		_, err := s.AddChunks(sampleChunks()[:1])
		require.NoError(t, err)
		_, err = s.RemoveChunksByDocument("d1")
		require.NoError(t, err)
		assert.Equal(t, StateEmpty, s.State())
		results, err := s.Search(query, 1, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.AddChunks(sampleChunks())
	require.NoError(t, err)
	before, err := s.Search(query, 1, nil)
	require.NoError(t, err)

	require.NoError(t, s.Save())
	assert.Equal(t, StatePersisted, s.State())
	dir := s.Config().StorageDir
	for _, name := range []string{indexFileName, chunksFileName, metadataFileName} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	var meta storeMetadata
	require.NoError(t, readJSON(filepath.Join(dir, metadataFileName), &meta))
	assert.Equal(t, metadataFormatVersion, meta.FormatVersion)
	assert.Len(t, meta.ChunkPositions, 4)
	assert.Equal(t, int64(2), meta.ChunkPositions["c"])
	assert.Equal(t, 3, meta.Dimension)
	assert.Equal(t, "memory", meta.Backend)
	_, err = time.Parse(time.RFC3339, meta.LastUpdated)
	assert.NoError(t, err)

	load := func(t *testing.T) *Store {
		restored, err := NewStore(s.Config(), WithLogger(quietLogger()))
		require.NoError(t, err)
		require.NoError(t, restored.Load())
		return restored
	}
	assertSameTop := func(t *testing.T, restored *Store) {
		after, err := restored.Search(query, 1, nil)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, before[0].Chunk.ChunkID, after[0].Chunk.ChunkID)
		assert.InDelta(t, before[0].Score, after[0].Score, 1e-6)
		assert.Equal(t, before[0].Chunk.Text, after[0].Chunk.Text)
	}

	t.Run("round trip", func(t *testing.T) {
		restored := load(t)
		assert.Equal(t, StateRestored, restored.State())
		assert.Equal(t, 4, restored.Len())
		assertSameTop(t, restored)
		assert.Zero(t, restored.Statistics().Index.Generation)
	})

	t.Run("missing metadata", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, metadataFileName)))
		restored := load(t)
		assert.Equal(t, 4, restored.Len())
		assertSameTop(t, restored)
	})

	t.Run("missing index is rebuilt", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, indexFileName)))
		restored := load(t)
		assert.Equal(t, 4, restored.Len())
		assert.Equal(t, int64(1), restored.Statistics().Index.Generation)
		assertSameTop(t, restored)
	})
}

func TestStore_LoadIndexCountMismatch(t *testing.T) {
	s := newTestStore(t, nil)
	dir := s.Config().StorageDir
	_, err := s.AddChunks(sampleChunks()[:3])
	require.NoError(t, err)
	require.NoError(t, s.Save())
	old, err := os.ReadFile(filepath.Join(dir, indexFileName))
	require.NoError(t, err)

	_, err = s.AddChunks(sampleChunks()[3:])
	require.NoError(t, err)
	require.NoError(t, s.Save())
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), old, 0644))

	restored, err := NewStore(s.Config(), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, restored.Load())
	assert.Equal(t, 4, restored.Len())
	assert.Equal(t, int64(4), restored.Statistics().Index.TotalVectors)
}

func TestStore_LoadDropsInvalidEmbeddings(t *testing.T) {
	dir := t.TempDir()
	chunks := sampleChunks()[:2]
	chunks = append(chunks, testChunk("broken", "d1", 2))
	data, err := json.Marshal(chunks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, chunksFileName), data, 0644))

	cfg := DefaultConfig()
	cfg.StorageDir = dir
	s, err := NewStore(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Load())
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Contains("broken"))
}

func TestStore_LoadNothing(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Load())
	assert.Equal(t, StateEmpty, s.State())

	noDir, err := NewStore(Config{}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Error(t, noDir.Load())
	assert.Error(t, noDir.Save())
}

func TestStore_SaveCompactsTombstones(t *testing.T) {
	s := newTestStore(t, func(c *Config) { c.CompactionRatio = 1 })
	_, err := s.AddChunks(sampleChunks())
	require.NoError(t, err)
	_, err = s.RemoveChunksByDocument("d1")
	require.NoError(t, err)

	require.NoError(t, s.Save())
	var persisted []*models.ProcessedChunk
	require.NoError(t, readJSON(filepath.Join(s.Config().StorageDir, chunksFileName), &persisted))
	assert.Len(t, persisted, 2)
	assert.Equal(t, int64(1), s.Statistics().Index.Generation)
}

func TestStore_RebuildIndex(t *testing.T) {
	s := newTestStore(t, func(c *Config) { c.CompactionRatio = 1 })
	_, err := s.AddChunks(sampleChunks())
	require.NoError(t, err)
	_, err = s.RemoveChunksByDocument("d3")
	require.NoError(t, err)

	require.NoError(t, s.RebuildIndex())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, StatePersisted, s.State())
	assert.FileExists(t, filepath.Join(s.Config().StorageDir, chunksFileName))

	results, err := s.Search(query, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(results))
}

func TestStore_IVF(t *testing.T) {
	s := newTestStore(t, func(c *Config) {
		c.Index.Type = IndexIVF
		c.Index.NList = 4
		c.Index.NProbe = 4
	})
	vectors := randomUnitVectors(30, 6, 3)
	var chunks []*models.ProcessedChunk
	for i, v := range vectors {
		chunks = append(chunks, testChunk(models.ChunkID("doc", i), "doc", i, v...))
	}
	_, err := s.AddChunks(chunks)
	require.NoError(t, err)

	results, err := s.Search(vectors[12], 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_chunk_12", results[0].Chunk.ChunkID)
	assert.Equal(t, IndexIVF, results[0].SearchMetadata["index_type"])

	require.NoError(t, s.Save())
	restored, err := NewStore(s.Config(), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, restored.Load())
	results, err = restored.Search(vectors[12], 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "doc_chunk_12", results[0].Chunk.ChunkID)
}

func TestStore_StatisticsAndLifecycle(t *testing.T) {
	var nilStore *Store
	assert.Equal(t, StateUninitialized, nilStore.State())

	s := newTestStore(t, nil)
	chunks := sampleChunks()
	chunks[0].QualityScore = 0.9
	chunks[2].SourceType = "wikipedia"
	chunks[3].QualityScore = 0.1
	_, err := s.AddChunks(chunks)
	require.NoError(t, err)

	stats := s.Statistics()
	assert.Equal(t, StatePopulated, stats.State)
	assert.Equal(t, 4, stats.Basic.TotalChunks)
	assert.Equal(t, 3, stats.Basic.TotalDocuments)
	assert.NotNil(t, stats.Basic.LastUpdated)
	assert.Equal(t, map[string]int{"test": 3, "wikipedia": 1}, stats.SourceDistribution)
	assert.Equal(t, 2, stats.DocumentDistribution["d1"])
	assert.InDelta(t, 0.5, stats.Quality.AvgQualityScore, 1e-9)
	assert.InDelta(t, 0.1, stats.Quality.MinQualityScore, 1e-9)
	assert.InDelta(t, 0.9, stats.Quality.MaxQualityScore, 1e-9)
	assert.InDelta(t, 1.0, stats.Quality.AvgEmbeddingNorm, 1e-6)
	assert.Equal(t, "inner_product", stats.Index.MetricType)
	assert.Equal(t, []string{"d1", "d2", "d3"}, s.DocumentIDs())

	chunk, err := s.GetChunk("b")
	require.NoError(t, err)
	assert.Equal(t, "d1", chunk.DocumentID)

	s.Clear()
	assert.Equal(t, StateEmpty, s.State())
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Statistics().Basic.SearchCount)

	require.NoError(t, s.Close())
}

func TestNewStore_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTopK = 200
	_, err := NewStore(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Index.Backend = "missing"
	_, err = NewStore(cfg)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
