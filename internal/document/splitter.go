package document

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Strategy 分块策略
type Strategy string

const (
	// StrategySentence 按句子打包
	StrategySentence Strategy = "sentence"
	// StrategyParagraph 按空行分隔的段落打包
	StrategyParagraph Strategy = "paragraph"
	// StrategyFixedSize 固定字符窗口滑动
	StrategyFixedSize Strategy = "fixed_size"
	// StrategySemantic 相邻句子向量相似度下降处断开
	StrategySemantic Strategy = "semantic"
)

// ParseStrategy 解析策略名称
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategySentence, StrategyParagraph, StrategyFixedSize, StrategySemantic:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// packUnits 贪心地把句子或段落拼成不超过chunkSize的块
// 只有最后剩余的块短于minSize时才丢弃，单个超长单元独立成块
func packUnits(units []string, sep string, chunkSize, minSize int) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func(last bool) {
		if currentLen > 0 && (!last || currentLen >= minSize) {
			chunks = append(chunks, strings.TrimSpace(current.String()))
		}
		current.Reset()
		currentLen = 0
	}

	sepLen := runeLen(sep)
	for _, unit := range units {
		unitLen := runeLen(unit)
		if currentLen > 0 && currentLen+sepLen+unitLen > chunkSize {
			flush(false)
		}
		if currentLen > 0 {
			current.WriteString(sep)
			currentLen += sepLen
		}
		current.WriteString(unit)
		currentLen += unitLen
	}
	flush(true)
	return chunks
}

// splitParagraphs 按空行切分段落
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var result []string
	for _, p := range paragraphPattern.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// fixedStep 固定窗口的步长，overlap不小于chunkSize时退化为不重叠
func fixedStep(chunkSize, overlap int) int {
	if step := chunkSize - overlap; step > 0 {
		return step
	}
	return chunkSize
}

// splitFixedSize 以chunkSize-overlap为步长的字符窗口
func splitFixedSize(text string, chunkSize, overlap, minSize int) []string {
	runes := []rune(text)
	step := fixedStep(chunkSize, overlap)
	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if end-i >= minSize {
			chunks = append(chunks, string(runes[i:end]))
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// applyOverlap 从第二块开始，前面加上前一块末尾的overlapWords个词
// 返回新分块以及每块实际加上的词数
func applyOverlap(chunks []string, overlapWords int) ([]string, []int) {
	overlaps := make([]int, len(chunks))
	if overlapWords <= 0 || len(chunks) <= 1 {
		return chunks, overlaps
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		words := strings.Fields(chunks[i-1])
		if len(words) > overlapWords {
			words = words[len(words)-overlapWords:]
		}
		out[i] = strings.Join(words, " ") + " " + chunks[i]
		overlaps[i] = len(words)
	}
	return out, overlaps
}

// fixedOverlaps 固定窗口相邻块之间实际共享的字符数
func fixedOverlaps(chunks []string, chunkSize, overlap int) []int {
	overlaps := make([]int, len(chunks))
	shared := chunkSize - fixedStep(chunkSize, overlap)
	for i := 1; i < len(chunks); i++ {
		n := shared
		if prev := runeLen(chunks[i-1]); prev < n {
			n = prev
		}
		if cur := runeLen(chunks[i]); cur < n {
			n = cur
		}
		overlaps[i] = n
	}
	return overlaps
}

// packSemantic 相邻句子相似度低于threshold且当前块已达到minSize时断开，
// 超过chunkSize时总是断开
func packSemantic(sentences []string, vectors [][]float32, threshold float64, chunkSize, minSize int) []string {
	var chunks []string
	var current []string
	currentLen := 0

	flush := func(last bool) {
		if currentLen > 0 && (!last || currentLen >= minSize) {
			chunks = append(chunks, strings.Join(current, " "))
		}
		current = current[:0]
		currentLen = 0
	}

	for i, s := range sentences {
		sLen := runeLen(s)
		if currentLen > 0 {
			tooLong := currentLen+1+sLen > chunkSize
			topicShift := cosine(vectors[i-1], vectors[i]) < threshold && currentLen >= minSize
			if tooLong || topicShift {
				flush(false)
			}
		}
		if currentLen > 0 {
			currentLen++
		}
		current = append(current, s)
		currentLen += sLen
	}
	flush(true)
	return chunks
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
