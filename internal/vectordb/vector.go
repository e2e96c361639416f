package vectordb

import (
	"fmt"
	"math"

	"github.com/fyerfyer/elis-rag/internal/models"
)

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// normalizeVector 返回单位长度的副本，零向量原样返回
func normalizeVector(v []float32) []float32 {
	norm := models.VectorNorm(v)
	result := make([]float32, len(v))
	if norm == 0 {
		copy(result, v)
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}
	return result
}

// validateVector 检查向量维度与数值
func validateVector(v []float32, dimension int) error {
	if len(v) == 0 {
		return ErrEmptyEmbedding
	}
	if dimension > 0 && len(v) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(v))
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return ErrInvalidEmbedding
		}
	}
	if models.VectorNorm(v) == 0 {
		return ErrInvalidEmbedding
	}
	return nil
}

// flatten 把多个向量按行拼接
func flatten(vectors [][]float32, dimension int) []float32 {
	out := make([]float32, 0, len(vectors)*dimension)
	for _, v := range vectors {
		out = append(out, v...)
	}
	return out
}
