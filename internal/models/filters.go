package models

import (
	"fmt"
	"math"
)

// SearchFilters 检索过滤条件，零值字段不生效
type SearchFilters struct {
	SourceTypes  []string `json:"source_type,omitempty"`
	DocumentIDs  []string `json:"document_id,omitempty"`
	QualityMin   *float64 `json:"quality_min,omitempty"`
	QualityMax   *float64 `json:"quality_max,omitempty"`
	ChunkSizeMin *int     `json:"chunk_size_min,omitempty"`
	ChunkSizeMax *int     `json:"chunk_size_max,omitempty"`
}

// IsEmpty 没有任何过滤条件
func (f *SearchFilters) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.SourceTypes) == 0 && len(f.DocumentIDs) == 0 &&
		f.QualityMin == nil && f.QualityMax == nil &&
		f.ChunkSizeMin == nil && f.ChunkSizeMax == nil
}

// Match 判断分块是否满足过滤条件
func (f *SearchFilters) Match(chunk *ProcessedChunk) bool {
	if f == nil {
		return true
	}
	if len(f.SourceTypes) > 0 && !contains(f.SourceTypes, chunk.SourceType) {
		return false
	}
	if len(f.DocumentIDs) > 0 && !contains(f.DocumentIDs, chunk.DocumentID) {
		return false
	}
	if f.QualityMin != nil && chunk.QualityScore < *f.QualityMin {
		return false
	}
	if f.QualityMax != nil && chunk.QualityScore > *f.QualityMax {
		return false
	}
	if f.ChunkSizeMin != nil && chunk.ChunkSize < *f.ChunkSizeMin {
		return false
	}
	if f.ChunkSizeMax != nil && chunk.ChunkSize > *f.ChunkSizeMax {
		return false
	}
	return true
}

// ParseFilters 从字典形式的过滤参数构造SearchFilters
// 支持的键：source_type、document_id（字符串或列表），quality_score（下限数值或{min,max}），
// chunk_size（{min,max}）。未识别的键被忽略。
func ParseFilters(raw map[string]interface{}) (*SearchFilters, error) {
	f := &SearchFilters{}
	if len(raw) == 0 {
		return f, nil
	}

	if v, ok := raw["source_type"]; ok {
		list, err := stringList(v)
		if err != nil {
			return nil, fmt.Errorf("%w: source_type: %v", ErrInvalidFilter, err)
		}
		f.SourceTypes = list
	}

	if v, ok := raw["document_id"]; ok {
		list, err := stringList(v)
		if err != nil {
			return nil, fmt.Errorf("%w: document_id: %v", ErrInvalidFilter, err)
		}
		f.DocumentIDs = list
	}

	if v, ok := raw["quality_score"]; ok {
		switch q := v.(type) {
		case map[string]interface{}:
			minV, maxV := 0.0, 1.0
			if m, ok := q["min"]; ok {
				n, err := toFloat(m)
				if err != nil {
					return nil, fmt.Errorf("%w: quality_score.min: %v", ErrInvalidFilter, err)
				}
				minV = n
			}
			if m, ok := q["max"]; ok {
				n, err := toFloat(m)
				if err != nil {
					return nil, fmt.Errorf("%w: quality_score.max: %v", ErrInvalidFilter, err)
				}
				maxV = n
			}
			f.QualityMin = &minV
			f.QualityMax = &maxV
		default:
			n, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("%w: quality_score: %v", ErrInvalidFilter, err)
			}
			f.QualityMin = &n
		}
	}

	if v, ok := raw["chunk_size"]; ok {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: chunk_size must be an object with min/max", ErrInvalidFilter)
		}
		minV := 0
		f.ChunkSizeMin = &minV
		if x, ok := m["min"]; ok {
			n, err := toFloat(x)
			if err != nil {
				return nil, fmt.Errorf("%w: chunk_size.min: %v", ErrInvalidFilter, err)
			}
			minV = int(n)
		}
		if x, ok := m["max"]; ok {
			n, err := toFloat(x)
			if err != nil {
				return nil, fmt.Errorf("%w: chunk_size.max: %v", ErrInvalidFilter, err)
			}
			maxV := int(math.Min(n, math.MaxInt32))
			f.ChunkSizeMax = &maxV
		}
	}

	return f, nil
}

func stringList(v interface{}) ([]string, error) {
	switch s := v.(type) {
	case string:
		return []string{s}, nil
	case []string:
		return s, nil
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list, got %T", v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
