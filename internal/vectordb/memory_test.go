package vectordb

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomUnitVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[i] = normalizeVector(v)
	}
	return out
}

func TestMemoryIndex_Flat(t *testing.T) {
	idx, err := NewIndex(IndexConfig{Dimension: 3})
	require.NoError(t, err)
	assert.Equal(t, IndexFlat, idx.Type())
	assert.True(t, idx.IsTrained())

	require.NoError(t, idx.Add([]float32{1, 0, 0, 0, 1, 0, 0.6, 0.8, 0}))
	assert.Equal(t, int64(3), idx.Ntotal())

	scores, labels, err := idx.Search([]float32{0, 1, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 0, -1, -1}, labels)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
	assert.InDelta(t, 0.8, scores[1], 1e-6)

	_, _, err = idx.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, idx.Add([]float32{1, 0}), ErrDimensionMismatch)
}

func TestMemoryIndex_IVF(t *testing.T) {
	cfg := IndexConfig{Type: IndexIVF, Dimension: 8, NList: 4, NProbe: 4, Seed: 7}
	idx, err := NewIndex(cfg)
	require.NoError(t, err)
	assert.False(t, idx.IsTrained())
	assert.ErrorIs(t, idx.Add(make([]float32, 8)), ErrIndexNotTrained)

	vectors := randomUnitVectors(40, 8, 1)
	flat := flatten(vectors, 8)
	require.NoError(t, idx.Train(flat))
	require.NoError(t, idx.Add(flat))

	// nprobe等于nlist时结果与精确检索一致
	for _, target := range []int{0, 17, 39} {
		_, labels, err := idx.Search(vectors[target], 1)
		require.NoError(t, err)
		assert.Equal(t, int64(target), labels[0])
	}

	path := filepath.Join(t.TempDir(), "ivf.bin")
	require.NoError(t, idx.WriteFile(path))
	restored, err := ReadIndex(path, cfg)
	require.NoError(t, err)
	assert.Equal(t, IndexIVF, restored.Type())
	assert.Equal(t, int64(40), restored.Ntotal())
	_, labels, err := restored.Search(vectors[17], 1)
	require.NoError(t, err)
	assert.Equal(t, int64(17), labels[0])
}

func TestMemoryIndex_TrainClampsClusters(t *testing.T) {
	idx, err := NewIndex(IndexConfig{Type: IndexIVF, Dimension: 4, NList: 100, NProbe: 100})
	require.NoError(t, err)
	vectors := randomUnitVectors(3, 4, 2)
	require.NoError(t, idx.Train(flatten(vectors, 4)))
	require.NoError(t, idx.Add(flatten(vectors, 4)))
	assert.Equal(t, 3, idx.(*MemoryIndex).nlist)
}

func TestMemoryIndex_Unsupported(t *testing.T) {
	_, err := NewIndex(IndexConfig{Type: IndexHNSW, Dimension: 4})
	assert.ErrorIs(t, err, ErrUnsupportedIndexType)

	_, err = NewIndex(IndexConfig{Backend: "qdrant", Dimension: 4})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = NewIndex(IndexConfig{Dimension: 0})
	assert.Error(t, err)

	assert.Contains(t, Backends(), "memory")
}

func TestReadMemoryIndex_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, writeJSON(path, map[string]int{"not": 1}))
	_, err := ReadIndex(path, IndexConfig{})
	assert.Error(t, err)
}
