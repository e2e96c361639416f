package document

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnsupportedLanguage 没有该语言的分句规则
var ErrUnsupportedLanguage = errors.New("unsupported sentence tokenizer language")

// 各语言中句点后不应断句的缩写（小写，不含句点）
var abbreviations = map[string][]string{
	"pt": {
		"sr", "sra", "srta", "dr", "dra", "prof", "profa", "eng", "exmo", "exma", "av", "ex",
		"etc", "pág", "págs", "p", "pp", "cap", "vol", "n", "nº", "fig", "tab", "obs", "ed",
		"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez", "sto", "sta",
	},
	"en": {
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "vs", "etc", "e.g", "i.e", "fig", "no",
		"vol", "pp", "inc", "ltd", "co", "jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep",
		"sept", "oct", "nov", "dec", "al",
	},
}

// sentenceTokenizer 基于缩写表的分句器
type sentenceTokenizer struct {
	language      string
	abbreviations map[string]struct{}
}

func newSentenceTokenizer(language string) (*sentenceTokenizer, error) {
	list, ok := abbreviations[strings.ToLower(language)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	set := make(map[string]struct{}, len(list))
	for _, a := range list {
		set[a] = struct{}{}
	}
	return &sentenceTokenizer{language: language, abbreviations: set}, nil
}

// Tokenize 在终止标点后接空白且下一个字符像句首时断句
// 中文标点不要求后接空白
func (t *sentenceTokenizer) Tokenize(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if isCJKTerminator(r) {
			emit(i + 1)
			continue
		}
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}
		// 连续的终止符与收尾引号、括号算作同一句
		end := i + 1
		for end < len(runes) && (isTerminator(runes[end]) || isCloser(runes[end])) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}
		next := end
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		if next < len(runes) && !startsSentence(runes[next]) {
			i = end - 1
			continue
		}
		if r == '.' && t.isAbbreviation(runes[start:i]) {
			i = end - 1
			continue
		}
		emit(end)
		i = end - 1
	}
	emit(len(runes))
	return sentences
}

func (t *sentenceTokenizer) isAbbreviation(before []rune) bool {
	j := len(before)
	for j > 0 && !unicode.IsSpace(before[j-1]) && before[j-1] != '(' {
		j--
	}
	word := strings.ToLower(strings.TrimLeft(string(before[j:]), "\"'“‘"))
	if word == "" {
		return false
	}
	// 单个字母的姓名缩写
	if len([]rune(word)) == 1 && unicode.IsLetter([]rune(word)[0]) {
		return true
	}
	_, ok := t.abbreviations[word]
	return ok
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCJKTerminator(r rune) bool {
	return r == '。' || r == '！' || r == '？' || r == '；'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’' || r == '»'
}

func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || unicode.Is(unicode.Han, r) ||
		r == '"' || r == '\'' || r == '(' || r == '[' || r == '“' || r == '«' || r == '-' || r == '¿' || r == '¡'
}

// naiveSplit 按句点切分，作为最后的退路
func naiveSplit(text string) []string {
	var out []string
	for _, s := range strings.Split(text, ".") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitSentences 依次尝试languages中的分句规则，全部不可用时按句点切分
func SplitSentences(text string, languages []string) []string {
	for _, lang := range languages {
		tok, err := newSentenceTokenizer(lang)
		if err != nil {
			continue
		}
		if sentences := tok.Tokenize(text); len(sentences) > 0 {
			return sentences
		}
	}
	return naiveSplit(text)
}
