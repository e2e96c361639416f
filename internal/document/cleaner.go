package document

import (
	"regexp"
	"strings"
)

// CleanerConfig 文本清洗开关
type CleanerConfig struct {
	RemoveHTML          bool `mapstructure:"remove_html"`
	RemoveURLs          bool `mapstructure:"remove_urls"`
	RemoveEmails        bool `mapstructure:"remove_emails"`
	NormalizeWhitespace bool `mapstructure:"normalize_whitespace"`
	RestrictCharset     bool `mapstructure:"restrict_charset"`
}

// DefaultCleanerConfig 全部开启
func DefaultCleanerConfig() CleanerConfig {
	return CleanerConfig{
		RemoveHTML:          true,
		RemoveURLs:          true,
		RemoveEmails:        true,
		NormalizeWhitespace: true,
		RestrictCharset:     true,
	}
}

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]+>`)
	urlPattern       = regexp.MustCompile(`https?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	emailPattern     = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	paragraphPattern = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	charsetPattern   = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s.,!?;:()\[\]{}"'-]`)
)

// Cleaner 文本清洗器
type Cleaner struct {
	cfg CleanerConfig
}

// NewCleaner 创建清洗器
func NewCleaner(cfg CleanerConfig) *Cleaner {
	return &Cleaner{cfg: cfg}
}

// Clean 依次去除HTML标签、URL、邮箱，规范空白并过滤字符
// 空白规范化保留段落之间的空行
func (c *Cleaner) Clean(text string) string {
	if text == "" {
		return ""
	}
	cleaned := strings.ReplaceAll(text, "\r\n", "\n")

	if c.cfg.RemoveHTML {
		cleaned = htmlTagPattern.ReplaceAllString(cleaned, " ")
	}
	if c.cfg.RemoveURLs {
		cleaned = urlPattern.ReplaceAllString(cleaned, "")
	}
	if c.cfg.RemoveEmails {
		cleaned = emailPattern.ReplaceAllString(cleaned, "")
	}
	if c.cfg.RestrictCharset {
		cleaned = charsetPattern.ReplaceAllString(cleaned, "")
	}
	if c.cfg.NormalizeWhitespace {
		cleaned = normalizeWhitespace(cleaned)
	}
	return strings.TrimSpace(cleaned)
}

// normalizeWhitespace 段落内连续空白合并为一个空格，段落之间用一个空行分隔
func normalizeWhitespace(text string) string {
	parts := paragraphPattern.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
