package quality

import (
	"math"
	"math/rand"
	"sort"
)

const (
	dedupModePairwise = "pairwise"
	dedupModeLSH      = "lsh"
)

// findDuplicates 返回需要移除的下标集合
// 相似度达到阈值的两项中保留质量分较高者，分数相同时保留靠前的一项。
// 数量超过LSHMinItems时只比较LSH产生的候选对。
func (f *Filter) findDuplicates(vectors [][]float64, quality []float64) (map[int]struct{}, string) {
	removed := make(map[int]struct{})
	n := len(vectors)
	if n <= 1 {
		return removed, dedupModePairwise
	}

	mode := dedupModePairwise
	var candidates [][]int
	if f.cfg.LSHMinItems > 0 && n > f.cfg.LSHMinItems {
		mode = dedupModeLSH
		candidates = f.lshCandidates(vectors)
	}

	for i := 0; i < n; i++ {
		if _, ok := removed[i]; ok {
			continue
		}
		var others []int
		if candidates != nil {
			others = candidates[i]
		} else {
			others = make([]int, 0, n-i-1)
			for j := i + 1; j < n; j++ {
				others = append(others, j)
			}
		}
		for _, j := range others {
			if _, ok := removed[j]; ok {
				continue
			}
			if dot(vectors[i], vectors[j]) < f.cfg.SimilarityThreshold {
				continue
			}
			if quality[i] >= quality[j] {
				removed[j] = struct{}{}
			} else {
				removed[i] = struct{}{}
				break
			}
		}
	}
	return removed, mode
}

// lshCandidates 使用随机超平面LSH为每个下标生成候选对（仅包含更大的下标，升序）
func (f *Filter) lshCandidates(vectors [][]float64) [][]int {
	dim := len(vectors[0])
	bands, rows := f.cfg.LSHBands, f.cfg.LSHRows
	if bands <= 0 {
		bands = 16
	}
	if rows <= 0 || rows > 64 {
		rows = 8
	}

	rng := rand.New(rand.NewSource(f.cfg.LSHSeed))
	planes := make([][]float64, bands*rows)
	for p := range planes {
		plane := make([]float64, dim)
		for d := range plane {
			plane[d] = rng.NormFloat64()
		}
		planes[p] = plane
	}

	type bucketKey struct {
		band int
		sig  uint64
	}
	buckets := make(map[bucketKey][]int)
	for idx, vec := range vectors {
		for b := 0; b < bands; b++ {
			var sig uint64
			for r := 0; r < rows; r++ {
				if len(vec) == dim && dot(vec, planes[b*rows+r]) >= 0 {
					sig |= 1 << uint(r)
				}
			}
			key := bucketKey{band: b, sig: sig}
			buckets[key] = append(buckets[key], idx)
		}
	}

	sets := make([]map[int]struct{}, len(vectors))
	for _, members := range buckets {
		if len(members) < 2 {
			continue
		}
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				i, j := members[a], members[b]
				if sets[i] == nil {
					sets[i] = make(map[int]struct{})
				}
				sets[i][j] = struct{}{}
			}
		}
	}

	candidates := make([][]int, len(vectors))
	for i, set := range sets {
		list := make([]int, 0, len(set))
		for j := range set {
			list = append(list, j)
		}
		sort.Ints(list)
		candidates[i] = list
	}
	return candidates
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalizeEmbedding 转换为float64并做L2归一化，零向量保持为零
func normalizeEmbedding(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += out[i] * out[i]
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}
