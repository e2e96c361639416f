package collector

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writePDF(t *testing.T, dir, name, text string) string {
	path := filepath.Join(dir, name)
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 10, text, "", "", false)
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func setupCorpus(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, dir, "solar_energy_basics.txt",
		"Solar panels convert sunlight into electricity using photovoltaic cells on rooftops.")
	writeFile(t, dir, "ocean-notes.md",
		"# Oceans\n\nOcean tides are driven by the gravitational pull of the moon and the sun.")
	writeFile(t, dir, "tiny.txt", "too short")
	writeFile(t, dir, "ignored.csv", "a,b,c\n1,2,3 and a lot more text that is long enough to pass")
	writeFile(t, dir, "nested/wind_power.txt",
		"Wind turbines turn the kinetic energy of moving air into electricity for the grid.")
	return dir
}

func TestLocalFileCollector_Collect(t *testing.T) {
	dir := setupCorpus(t)

	t.Run("empty topic matches all", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dir = dir
		c := NewLocalFileCollector(cfg)

		docs, err := c.Collect(context.Background(), "", 0)
		require.NoError(t, err)
		require.Len(t, docs, 3)

		titles := []string{docs[0].Title, docs[1].Title, docs[2].Title}
		assert.ElementsMatch(t, []string{"solar_energy_basics", "ocean-notes", "wind_power"}, titles)
		for _, d := range docs {
			assert.Equal(t, string(models.SourceLocalFile), d.SourceType)
			assert.Equal(t, "pt", d.Language)
			assert.NotEmpty(t, d.ID)
		}
	})

	t.Run("topic matching", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dir = dir
		c := NewLocalFileCollector(cfg)

		docs, err := c.Collect(context.Background(), "ELECTRICITY", 0)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		docs, err = c.Collect(context.Background(), "volcano tides", 0)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "ocean-notes", docs[0].Title)
	})

	t.Run("non recursive and max", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dir = dir
		cfg.Recursive = false
		c := NewLocalFileCollector(cfg)

		docs, err := c.Collect(context.Background(), "", 0)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		docs, err = c.Collect(context.Background(), "", 1)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("missing directory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dir = filepath.Join(dir, "missing")
		_, err := NewLocalFileCollector(cfg).Collect(context.Background(), "", 0)
		assert.ErrorIs(t, err, ErrDirectoryNotFound)
	})

	t.Run("cancelled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dir = dir
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewLocalFileCollector(cfg).Collect(ctx, "", 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalFileCollector_CollectFile(t *testing.T) {
	dir := t.TempDir()
	c := NewLocalFileCollector(DefaultConfig())

	t.Run("text metadata", func(t *testing.T) {
		content := strings.Repeat("Renewable energy research on solar cells. ", 30)
		path := writeFile(t, dir, "renewable_energy_research_2024.txt", content)

		doc, err := c.CollectFile(path)
		require.NoError(t, err)
		require.NotNil(t, doc)

		assert.Equal(t, "renewable_energy_research_2024", doc.Title)
		assert.Equal(t, []string{"renewable", "energy", "research", "2024"}, doc.Keywords)
		assert.True(t, strings.HasSuffix(doc.Abstract, "..."))
		assert.Equal(t, ".txt", doc.SourceMetadata["file_extension"])
		assert.EqualValues(t, len(content), doc.SourceMetadata["file_size"])
		require.NotNil(t, doc.PublicationDate)
		// 0.5 + 0.1(>500) + 0.1(.txt) + 0.1(>1KB) + 0.1(关键词>2)
		assert.InDelta(t, 0.9, doc.QualityScore, 1e-9)
	})

	t.Run("short content skipped", func(t *testing.T) {
		path := writeFile(t, dir, "short.txt", "  only a few words  ")
		doc, err := c.CollectFile(path)
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("pdf", func(t *testing.T) {
		path := writePDF(t, dir, "fox_report.pdf", "The quick brown fox jumps over the lazy dog near the river bank.")
		doc, err := c.CollectFile(path)
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Contains(t, doc.Content, "quick brown fox")
		assert.Equal(t, []string{"fox", "report"}, doc.Keywords)
	})

	t.Run("unsupported", func(t *testing.T) {
		path := writeFile(t, dir, "data.csv", strings.Repeat("x", 100))
		_, err := c.CollectFile(path)
		assert.Error(t, err)
	})
}

func TestKeywordsFromFilename(t *testing.T) {
	assert.Equal(t, []string{"machine", "learning", "intro"}, KeywordsFromFilename("Machine-Learning_an_Intro"))
	assert.Equal(t, []string{"one", "two", "three", "four", "five"},
		KeywordsFromFilename("one two three four five six"))
	assert.Empty(t, KeywordsFromFilename("a_b-c"))
}

func TestFileQualityScore(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		ext      string
		size     int64
		keywords int
		want     float64
	}{
		{"short pdf", 80, ".pdf", 500, 0, 0.3},
		{"medium md", 800, ".md", 900, 1, 0.7},
		{"long txt", 3000, ".TXT", 4000, 3, 1.0},
		{"plain", 300, ".pdf", 300, 3, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FileQualityScore(tt.length, tt.ext, tt.size, tt.keywords), 1e-9)
		})
	}
}
