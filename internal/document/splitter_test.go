package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleaner(t *testing.T) {
	c := NewCleaner(DefaultCleanerConfig())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html", "<p>The quick brown fox jumps. It runs fast.</p>", "The quick brown fox jumps. It runs fast."},
		{"urls", "see https://example.com/a?b=1 now", "see now"},
		{"emails", "mail a.b@example.org today", "mail today"},
		{"charset", "price: 10€ #tag", "price: 10 tag"},
		{"accents kept", "ação e reação", "ação e reação"},
		{"paragraphs kept", "first  line\n  continues\n\n\n second\tparagraph", "first line continues\n\nsecond paragraph"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Clean(tt.in))
		})
	}

	t.Run("toggles", func(t *testing.T) {
		raw := NewCleaner(CleanerConfig{})
		assert.Equal(t, "<b>a  b</b>", raw.Clean("<b>a  b</b>"))
	})
}

func TestSplitSentences(t *testing.T) {
	t.Run("portuguese abbreviations", func(t *testing.T) {
		s := SplitSentences("O Dr. Silva chegou. Ele trouxe os resultados! Tudo certo?", []string{"pt", "en"})
		assert.Equal(t, []string{"O Dr. Silva chegou.", "Ele trouxe os resultados!", "Tudo certo?"}, s)
	})

	t.Run("english", func(t *testing.T) {
		s := SplitSentences("Mr. Smith went to Washington. He arrived at 5 p.m. today.", []string{"en"})
		assert.Equal(t, []string{"Mr. Smith went to Washington.", "He arrived at 5 p.m. today."}, s)
	})

	t.Run("chinese punctuation", func(t *testing.T) {
		s := SplitSentences("第一句。第二句！", []string{"pt"})
		assert.Equal(t, []string{"第一句。", "第二句！"}, s)
	})

	t.Run("unknown language falls back to period split", func(t *testing.T) {
		s := SplitSentences("one. two. ", []string{"xx"})
		assert.Equal(t, []string{"one", "two"}, s)
	})

	t.Run("first supported language wins", func(t *testing.T) {
		s := SplitSentences("Alpha beta. Gamma delta.", []string{"xx", "en"})
		assert.Equal(t, []string{"Alpha beta.", "Gamma delta."}, s)
	})
}

func TestPackUnits(t *testing.T) {
	chunks := packUnits([]string{"aaaa", "bbbb", "cc"}, " ", 9, 3)
	assert.Equal(t, []string{"aaaa bbbb"}, chunks)

	// 超长单元独立成块
	chunks = packUnits([]string{"aa", "bbbbbbbbbbbb", "cc"}, " ", 5, 1)
	assert.Equal(t, []string{"aa", "bbbbbbbbbbbb", "cc"}, chunks)

	// 中间的短单元保留，只丢弃末尾过短的剩余部分
	chunks = packUnits([]string{"aaaa", "b", "cccc"}, " ", 5, 3)
	assert.Equal(t, []string{"aaaa", "b", "cccc"}, chunks)
	chunks = packUnits([]string{"aaaa", "b"}, " ", 5, 3)
	assert.Equal(t, []string{"aaaa"}, chunks)
}

func TestSplitParagraphs(t *testing.T) {
	assert.Equal(t, []string{"one", "two"}, splitParagraphs("one\r\n\r\ntwo\n\n  \n"))
}

func TestSplitFixedSize(t *testing.T) {
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, splitFixedSize("abcdefghij", 4, 1, 2))
	// 末尾不足minSize的窗口被丢弃
	assert.Equal(t, []string{"abcd", "efgh"}, splitFixedSize("abcdefghij", 4, 0, 3))
	// overlap不小于chunkSize时退化为不重叠
	assert.Equal(t, []string{"ab", "cd"}, splitFixedSize("abcd", 2, 5, 1))
}

func TestApplyOverlap(t *testing.T) {
	chunks, overlaps := applyOverlap([]string{"a b c", "d e"}, 2)
	assert.Equal(t, []string{"a b c", "b c d e"}, chunks)
	assert.Equal(t, []int{0, 2}, overlaps)

	// 前一块词数不足时只记录实际重叠的词数
	chunks, overlaps = applyOverlap([]string{"a", "b"}, 5)
	assert.Equal(t, []string{"a", "a b"}, chunks)
	assert.Equal(t, []int{0, 1}, overlaps)

	chunks, overlaps = applyOverlap([]string{"x"}, 3)
	assert.Equal(t, []string{"x"}, chunks)
	assert.Equal(t, []int{0}, overlaps)

	chunks, overlaps = applyOverlap([]string{"a", "b"}, 0)
	assert.Equal(t, []string{"a", "b"}, chunks)
	assert.Equal(t, []int{0, 0}, overlaps)
}

func TestFixedOverlaps(t *testing.T) {
	assert.Equal(t, []int{0, 1, 1}, fixedOverlaps([]string{"abcd", "defg", "ghij"}, 4, 1))
	assert.Equal(t, []int{0, 0}, fixedOverlaps([]string{"ab", "cd"}, 2, 5))
	// 末尾窗口比重叠量还短
	assert.Equal(t, []int{0, 2}, fixedOverlaps([]string{"abcdef", "ef"}, 6, 3))
}

func TestPackSemantic(t *testing.T) {
	sentences := []string{"s1.", "s2.", "s3."}
	vectors := [][]float32{{1, 0}, {1, 0}, {0, 1}}

	chunks := packSemantic(sentences, vectors, 0.5, 100, 1)
	assert.Equal(t, []string{"s1. s2.", "s3."}, chunks)

	// 当前块未达到最小长度时不因话题变化断开
	chunks = packSemantic(sentences, vectors, 0.5, 100, 20)
	assert.Empty(t, chunks)
	chunks = packSemantic(sentences, vectors, 0.5, 100, 7)
	assert.Equal(t, []string{"s1. s2."}, chunks)

	// 长度上限总是生效
	same := [][]float32{{1, 0}, {1, 0}, {1, 0}}
	chunks = packSemantic(sentences, same, 0.5, 7, 1)
	assert.Equal(t, []string{"s1. s2.", "s3."}, chunks)

	// 因长度上限断开的短块保留，末尾过短的剩余部分丢弃
	chunks = packSemantic(sentences, same, 0.5, 4, 5)
	assert.Equal(t, []string{"s1.", "s2."}, chunks)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"sentence", "paragraph", "fixed_size", "Semantic"} {
		_, err := ParseStrategy(s)
		require.NoError(t, err, s)
	}
	_, err := ParseStrategy("length")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
