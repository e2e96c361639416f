package quality

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyVocabulary 语料中没有可用词项
var ErrEmptyVocabulary = errors.New("empty vocabulary; documents may only contain stop words")

var tokenPattern = regexp.MustCompile(`\p{L}[\p{L}\p{N}]+`)

// tfidfVectorizer 词袋TF-IDF向量化器，输出L2归一化的稠密向量
type tfidfVectorizer struct {
	maxFeatures int
	stopwords   map[string]struct{}
	vocabulary  map[string]int
	idf         []float64
}

func newTFIDFVectorizer(maxFeatures int) *tfidfVectorizer {
	return &tfidfVectorizer{
		maxFeatures: maxFeatures,
		stopwords:   englishStopwords(),
	}
}

// fitTransform 在语料上建立词表并返回每个文本的向量
func (v *tfidfVectorizer) fitTransform(corpus []string) ([][]float64, error) {
	tokenized := make([][]string, len(corpus))
	df := make(map[string]int)
	tf := make(map[string]int)
	for i, text := range corpus {
		tokens := v.tokenize(text)
		tokenized[i] = tokens
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return nil, ErrEmptyVocabulary
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	// 按语料词频取前maxFeatures个，词频相同按字典序
	sort.Slice(terms, func(i, j int) bool {
		if tf[terms[i]] != tf[terms[j]] {
			return tf[terms[i]] > tf[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if v.maxFeatures > 0 && len(terms) > v.maxFeatures {
		terms = terms[:v.maxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(corpus))
	v.vocabulary = make(map[string]int, len(terms))
	v.idf = make([]float64, len(terms))
	for i, term := range terms {
		v.vocabulary[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}

	vectors := make([][]float64, len(corpus))
	for i, tokens := range tokenized {
		vectors[i] = v.transform(tokens)
	}
	return vectors, nil
}

func (v *tfidfVectorizer) transform(tokens []string) []float64 {
	vec := make([]float64, len(v.vocabulary))
	for _, tok := range tokens {
		if idx, ok := v.vocabulary[tok]; ok {
			vec[idx]++
		}
	}
	var norm float64
	for i := range vec {
		vec[i] *= v.idf[i]
		norm += vec[i] * vec[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (v *tfidfVectorizer) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := v.stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func englishStopwords() map[string]struct{} {
	words := []string{
		"a", "about", "above", "after", "again", "against", "all", "am", "an", "and", "any", "are", "as", "at",
		"be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
		"can", "could", "did", "do", "does", "doing", "down", "during", "each", "few", "for", "from", "further",
		"had", "has", "have", "having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
		"if", "in", "into", "is", "it", "its", "itself", "just", "me", "more", "most", "my", "myself",
		"no", "nor", "not", "now", "of", "off", "on", "once", "only", "or", "other", "our", "ours", "ourselves",
		"out", "over", "own", "same", "she", "should", "so", "some", "such", "than", "that", "the", "their",
		"theirs", "them", "themselves", "then", "there", "these", "they", "this", "those", "through", "to", "too",
		"under", "until", "up", "very", "was", "we", "were", "what", "when", "where", "which", "while", "who",
		"whom", "why", "will", "with", "would", "you", "your", "yours", "yourself", "yourselves",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
