package quality

import (
	"strings"
	"testing"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T, mutate func(*Config)) *Filter {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewFilter(cfg)
	require.NoError(t, err)
	return f
}

func makeDoc(title, content string, quality float64) *models.RawDocument {
	doc := models.NewRawDocument(title, content, "test")
	doc.QualityScore = quality
	return doc
}

func TestFilterDocuments_LengthBoundary(t *testing.T) {
	f := newTestFilter(t, nil)

	atMin := makeDoc("at-min", strings.Repeat("x", 200), 0.5)
	belowMin := makeDoc("below-min", strings.Repeat("y", 199), 0.5)

	kept, stats := f.FilterDocuments([]*models.RawDocument{atMin, belowMin})
	require.Len(t, kept, 1)
	assert.Equal(t, "at-min", kept[0].Title)
	assert.Equal(t, 1, stats.Reasons[ReasonTooShort])
	assert.Equal(t, 2, stats.TotalInput)
	assert.Equal(t, 1, stats.TotalOutput)
}

func TestFilterDocuments_Rejections(t *testing.T) {
	f := newTestFilter(t, func(c *Config) {
		c.MaxDocumentLength = 1000
	})

	body := strings.Repeat("Solar panels convert sunlight into electricity. ", 6)
	docs := []*models.RawDocument{
		makeDoc("long", strings.Repeat("z", 1001), 0.9),
		makeDoc("low-score", body, 0.1),
		makeDoc("error-page", "ERROR 404: Page Not Found. "+body, 0.9),
		nil,
	}

	kept, stats := f.FilterDocuments(docs)
	assert.Empty(t, kept)
	assert.Equal(t, 1, stats.Reasons[ReasonTooLong])
	assert.Equal(t, 1, stats.Reasons[ReasonLowQualityScore])
	assert.Equal(t, 1, stats.Reasons[ReasonLowQualityPatterns])
	assert.Equal(t, 1, stats.Reasons[ReasonOther])
}

func TestFilterDocuments_Duplicates(t *testing.T) {
	f := newTestFilter(t, nil)
	content := strings.Repeat("Ocean tides are driven by the gravitational pull of the moon and sun. ", 4)
	other := strings.Repeat("Volcanic eruptions release magma, ash and gases from the crust. ", 4)

	t.Run("higher quality wins", func(t *testing.T) {
		low := makeDoc("low", content, 0.4)
		high := makeDoc("high", content, 0.8)
		distinct := makeDoc("distinct", other, 0.5)

		kept, stats := f.FilterDocuments([]*models.RawDocument{low, high, distinct})
		require.Len(t, kept, 2)
		assert.Equal(t, "high", kept[0].Title)
		assert.Equal(t, "distinct", kept[1].Title)
		assert.Equal(t, 1, stats.Reasons[ReasonDuplicate])
		assert.Equal(t, dedupModePairwise, stats.DedupMode)
	})

	t.Run("tie keeps earlier", func(t *testing.T) {
		first := makeDoc("first", content, 0.6)
		second := makeDoc("second", content, 0.6)

		kept, _ := f.FilterDocuments([]*models.RawDocument{first, second})
		require.Len(t, kept, 1)
		assert.Equal(t, "first", kept[0].Title)
	})

	t.Run("vectorizer failure keeps input", func(t *testing.T) {
		stop := strings.Repeat("the and of to ", 20)
		a := makeDoc("a", stop, 0.5)
		b := makeDoc("b", stop+" ", 0.5)

		kept, stats := f.FilterDocuments([]*models.RawDocument{a, b})
		assert.Len(t, kept, 2)
		assert.NotEmpty(t, stats.DedupError)
	})

	t.Run("disabled", func(t *testing.T) {
		off := newTestFilter(t, func(c *Config) { c.EnableDuplicateDetection = false })
		kept, _ := off.FilterDocuments([]*models.RawDocument{
			makeDoc("x", content, 0.5), makeDoc("y", content, 0.5),
		})
		assert.Len(t, kept, 2)
	})
}

func makeChunk(id string, size int, quality float64, embedding []float32) *models.ProcessedChunk {
	c := &models.ProcessedChunk{
		ChunkID:      id,
		Text:         strings.Repeat("w", size),
		ChunkSize:    size,
		QualityScore: quality,
		Embedding:    embedding,
	}
	c.ComputeNorm()
	return c
}

func TestFilterChunks(t *testing.T) {
	f := newTestFilter(t, nil)

	kept, stats := f.FilterChunks([]*models.ProcessedChunk{
		makeChunk("short", 50, 0.9, []float32{1, 0, 0}),
		makeChunk("long", 2500, 0.9, []float32{0, 1, 0}),
		makeChunk("weak", 300, 0.2, []float32{0, 0, 1}),
		makeChunk("degenerate", 300, 0.9, []float32{0.01, 0, 0}),
		makeChunk("ok", 300, 0.9, []float32{0, 0.6, 0.8}),
	})

	require.Len(t, kept, 1)
	assert.Equal(t, "ok", kept[0].ChunkID)
	assert.Equal(t, 1, stats.Reasons[ReasonTooShort])
	assert.Equal(t, 1, stats.Reasons[ReasonTooLong])
	assert.Equal(t, 1, stats.Reasons[ReasonLowQualityScore])
	assert.Equal(t, 1, stats.Reasons[ReasonLowEmbeddingNorm])
}

func TestFilterChunks_DuplicateEmbeddings(t *testing.T) {
	for _, lshMin := range []int{256, 2} {
		f := newTestFilter(t, func(c *Config) { c.LSHMinItems = lshMin })

		kept, stats := f.FilterChunks([]*models.ProcessedChunk{
			makeChunk("a", 300, 0.5, []float32{1, 2, 3}),
			makeChunk("b", 300, 0.7, []float32{2, 4, 6}),
			makeChunk("c", 300, 0.5, []float32{3, -1, 0}),
		})

		require.Len(t, kept, 2)
		assert.Equal(t, "b", kept[0].ChunkID)
		assert.Equal(t, "c", kept[1].ChunkID)
		assert.Equal(t, 1, stats.Reasons[ReasonDuplicate])
		if lshMin == 2 {
			assert.Equal(t, dedupModeLSH, stats.DedupMode)
		}
	}
}

func TestCalculateDocumentQualityScore(t *testing.T) {
	f := newTestFilter(t, nil)

	t.Run("short plain text", func(t *testing.T) {
		doc := &models.RawDocument{Content: "short"}
		// 0.5 - 0.3 + 0.1*0.2(词汇多样性)
		assert.InDelta(t, 0.22, f.CalculateDocumentQualityScore(doc), 1e-9)
	})

	t.Run("metadata bonuses", func(t *testing.T) {
		now := time.Now()
		doc := &models.RawDocument{
			Content:         "short",
			Authors:         []string{"Ada"},
			PublicationDate: &now,
			Keywords:        []string{"k"},
			Abstract:        "a",
		}
		assert.InDelta(t, 0.42, f.CalculateDocumentQualityScore(doc), 1e-9)
	})

	t.Run("academic text scores higher", func(t *testing.T) {
		para := "This research study presents an analysis of the experiment. The methodology is described in the introduction. "
		academic := &models.RawDocument{Content: strings.Repeat(para, 8) + "\n\nConclusion and references: journal of the university, doi:10.1/x."}
		plain := &models.RawDocument{Content: strings.Repeat("lorem ipsum dolor sit amet ", 40)}

		a := f.CalculateDocumentQualityScore(academic)
		p := f.CalculateDocumentQualityScore(plain)
		assert.Greater(t, a, p)
		assert.LessOrEqual(t, a, 1.0)
	})

	t.Run("error page is clamped", func(t *testing.T) {
		doc := &models.RawDocument{Content: "403 forbidden"}
		score := f.CalculateDocumentQualityScore(doc)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.Less(t, score, 0.22)
	})
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowQualityPatterns = []string{"("}
	_, err := NewFilter(cfg)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	f := newTestFilter(t, nil)

	empty := f.Summarize(nil, nil)
	assert.Nil(t, empty.Documents)
	assert.Nil(t, empty.Chunks)
	assert.Equal(t, f.Config().MinDocumentLength, empty.Config.MinDocumentLength)

	docs := []*models.RawDocument{
		makeDoc("a", strings.Repeat("x", 100), 0.2),
		makeDoc("b", strings.Repeat("y", 300), 0.6),
	}
	chunks := []*models.ProcessedChunk{
		{ChunkSize: 100, QualityScore: 0.5, EmbeddingNorm: 1},
		{ChunkSize: 300, QualityScore: 0.7, EmbeddingNorm: 1},
	}
	s := f.Summarize(docs, chunks)

	require.NotNil(t, s.Documents)
	assert.Equal(t, 2, s.Documents.Total)
	assert.InDelta(t, 0.4, s.Documents.AvgQualityScore, 1e-9)
	assert.InDelta(t, 0.2, s.Documents.StdQualityScore, 1e-9)
	assert.InDelta(t, 200, s.Documents.AvgContentLength, 1e-9)
	assert.Equal(t, 0.2, s.Documents.MinQualityScore)
	assert.Equal(t, 0.6, s.Documents.MaxQualityScore)

	require.NotNil(t, s.Chunks)
	assert.InDelta(t, 0.6, s.Chunks.AvgQualityScore, 1e-9)
	assert.InDelta(t, 200, s.Chunks.AvgChunkSize, 1e-9)
	assert.InDelta(t, 1, s.Chunks.AvgEmbeddingNorm, 1e-9)
}
