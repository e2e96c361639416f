package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const defaultHashModel = "feature-hash"

var wordPattern = regexp.MustCompile(`\p{L}[\p{L}\p{N}]*|\p{N}+`)

// HashClient 本地特征哈希嵌入
// 词与相邻词对经FNV哈希映射到固定维度并带符号累加，结果做L2归一化。
// 不依赖外部服务，相同输入总是得到相同向量。
type HashClient struct {
	model      string
	dimensions int
	stopwords  map[string]struct{}
}

// NewHashClient 创建特征哈希客户端
func NewHashClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.Dimensions <= 0 {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("invalid dimension: %d", cfg.Dimensions))
	}
	model := cfg.Model
	if model == "" {
		model = defaultHashModel
	}
	return &HashClient{
		model:      model,
		dimensions: cfg.Dimensions,
		stopwords:  stopwords(),
	}, nil
}

// Name 返回模型名称
func (c *HashClient) Name() string {
	return fmt.Sprintf("%s-%d", c.model, c.dimensions)
}

// Dimensions 返回向量维度
func (c *HashClient) Dimensions() int {
	return c.dimensions
}

// Embed 生成单条文本的向量
// 只包含停用词或符号的文本得到零向量
func (c *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewEmbeddingError(ErrCodeTimeout, err.Error())
	}
	return c.vectorize(text), nil
}

// EmbedBatch 批量生成向量
func (c *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *HashClient) vectorize(text string) []float32 {
	acc := make([]float64, c.dimensions)
	var prev string
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := c.stopwords[tok]; stop {
			prev = ""
			continue
		}
		c.addFeature(acc, "w:"+tok, 1.0)
		if prev != "" {
			c.addFeature(acc, "b:"+prev+" "+tok, 0.5)
		}
		prev = tok
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	vec := make([]float32, c.dimensions)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, x := range acc {
		vec[i] = float32(x / norm)
	}
	return vec
}

func (c *HashClient) addFeature(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(c.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// stopwords 葡萄牙语与英语常见停用词
func stopwords() map[string]struct{} {
	words := []string{
		// en
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "has", "have", "in", "is", "it",
		"its", "of", "on", "or", "that", "the", "this", "to", "was", "were", "will", "with",
		// pt
		"o", "os", "as", "um", "uma", "de", "do", "da", "dos", "das", "e", "em", "no", "na", "nos", "nas",
		"para", "por", "com", "que", "se", "ao", "aos", "é", "são", "foi",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func init() {
	RegisterClient("hash", NewHashClient)
}
