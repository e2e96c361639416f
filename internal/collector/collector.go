package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyerfyer/elis-rag/internal/document"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrDirectoryNotFound 采集目录不存在
var ErrDirectoryNotFound = errors.New("collector directory not found")

// Collector 文档采集器接口
type Collector interface {
	// Collect 按主题采集文档，max<=0 表示不限制数量
	Collect(ctx context.Context, topic string, max int) ([]*models.RawDocument, error)

	// Name 采集器名称，用于日志和报告
	Name() string
}

// Config 本地文件采集配置
type Config struct {
	Dir              string   `mapstructure:"dir"`
	Recursive        bool     `mapstructure:"recursive"`
	Extensions       []string `mapstructure:"extensions"`
	MinContentLength int      `mapstructure:"min_content_length" validate:"gte=0"`
	Language         string   `mapstructure:"language"`
}

// DefaultConfig 返回默认采集配置
func DefaultConfig() Config {
	return Config{
		Dir:              "documents",
		Recursive:        true,
		Extensions:       []string{".txt", ".md", ".pdf"},
		MinContentLength: 50,
		Language:         "pt",
	}
}

// LocalFileCollector 从本地目录采集 txt/md/pdf 文件
type LocalFileCollector struct {
	cfg    Config
	logger *logrus.Logger
}

// Option 采集器选项
type Option func(*LocalFileCollector)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(c *LocalFileCollector) {
		c.logger = logger
	}
}

// NewLocalFileCollector 创建本地文件采集器
func NewLocalFileCollector(cfg Config, opts ...Option) *LocalFileCollector {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultConfig().Extensions
	}
	if cfg.Language == "" {
		cfg.Language = "pt"
	}

	c := &LocalFileCollector{
		cfg:    cfg,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name 采集器名称
func (c *LocalFileCollector) Name() string {
	return string(models.SourceLocalFile)
}

// Collect 遍历目录，解析文件并按主题过滤
func (c *LocalFileCollector) Collect(ctx context.Context, topic string, max int) ([]*models.RawDocument, error) {
	info, err := os.Stat(c.cfg.Dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, c.cfg.Dir)
	}

	paths, err := c.listFiles()
	if err != nil {
		return nil, err
	}

	var docs []*models.RawDocument
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		if max > 0 && len(docs) >= max {
			break
		}

		doc, err := c.CollectFile(path)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"path":  path,
				"error": err,
			}).Warn("Failed to collect file")
			continue
		}
		if doc == nil || !matchesTopic(doc, topic) {
			continue
		}
		docs = append(docs, doc)
	}

	c.logger.WithFields(logrus.Fields{
		"dir":       c.cfg.Dir,
		"topic":     topic,
		"files":     len(paths),
		"collected": len(docs),
	}).Info("Local files collected")

	return docs, nil
}

// listFiles 按路径排序返回目录下所有受支持的文件
func (c *LocalFileCollector) listFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(c.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != c.cfg.Dir && !c.cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if c.supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", c.cfg.Dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (c *LocalFileCollector) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range c.cfg.Extensions {
		if strings.ToLower(allowed) == ext {
			return document.IsSupported(path)
		}
	}
	return false
}

// CollectFile 解析单个文件，内容过短时返回 nil
func (c *LocalFileCollector) CollectFile(path string) (*models.RawDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	parser, err := document.ParserFactory(path)
	if err != nil {
		return nil, err
	}
	content, err := parser.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}

	content = strings.TrimSpace(content)
	if len([]rune(content)) < c.cfg.MinContentLength {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	ext := filepath.Ext(path)
	title := strings.TrimSuffix(filepath.Base(path), ext)
	modified := info.ModTime()

	doc := models.NewRawDocument(title, content, string(models.SourceLocalFile))
	doc.URL = absPath
	doc.Authors = []string{}
	doc.PublicationDate = &modified
	doc.Abstract = models.Snippet(content, 200)
	doc.Keywords = KeywordsFromFilename(title)
	doc.Language = c.cfg.Language
	doc.SourceMetadata = map[string]interface{}{
		"file_path":      absPath,
		"file_size":      info.Size(),
		"file_extension": ext,
		"modified_time":  modified.Format(time.RFC3339),
		"external_id":    absPath,
	}
	doc.QualityScore = FileQualityScore(len([]rune(content)), ext, info.Size(), len(doc.Keywords))

	return doc, nil
}

// KeywordsFromFilename 从文件名拆出关键词，最多5个
func KeywordsFromFilename(name string) []string {
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)

	keywords := make([]string, 0, 5)
	for _, word := range strings.Fields(name) {
		if len([]rune(word)) <= 2 {
			continue
		}
		keywords = append(keywords, strings.ToLower(word))
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}

// FileQualityScore 本地文件的质量启发式
func FileQualityScore(contentLength int, ext string, fileSize int64, keywordCount int) float64 {
	score := 0.5

	switch {
	case contentLength > 2000:
		score += 0.2
	case contentLength > 500:
		score += 0.1
	case contentLength < 100:
		score -= 0.2
	}

	switch strings.ToLower(ext) {
	case ".md", ".txt":
		score += 0.1
	}

	if fileSize > 1024 {
		score += 0.1
	}
	if keywordCount > 2 {
		score += 0.1
	}

	return models.Clamp01(score)
}

// matchesTopic 标题或内容包含任一主题词即匹配，空主题匹配全部
func matchesTopic(doc *models.RawDocument, topic string) bool {
	words := strings.Fields(strings.ToLower(topic))
	if len(words) == 0 {
		return true
	}
	haystack := strings.ToLower(doc.Title + " " + doc.Content)
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
