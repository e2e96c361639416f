package document

import (
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
// 先渲染成HTML再去掉标签，块级元素之间保留空行
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open markdown file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown content %s: %w", filename, err)
	}

	mdParser := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	rendered := markdown.Render(mdParser.Parse(content), renderer)

	return extractTextFromHTML(string(rendered)), nil
}

var (
	blockClosePattern = regexp.MustCompile(`(?i)</(p|h[1-6]|ul|ol|pre|blockquote|table)>`)
	lineBreakPattern  = regexp.MustCompile(`(?i)<br\s*/?>|</li>|</tr>`)
	listItemPattern   = regexp.MustCompile(`(?i)<li[^>]*>`)
	anyTagPattern     = regexp.MustCompile(`<[^>]+>`)
)

// extractTextFromHTML 从渲染后的HTML中提取纯文本
func extractTextFromHTML(s string) string {
	s = blockClosePattern.ReplaceAllString(s, "\n\n")
	s = lineBreakPattern.ReplaceAllString(s, "\n")
	s = listItemPattern.ReplaceAllString(s, "- ")
	s = anyTagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return collapseBlankLines(strings.Join(lines, "\n"))
}

// collapseBlankLines 多个空行合并为一个
func collapseBlankLines(s string) string {
	var b strings.Builder
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		blank = 0
	}
	return b.String()
}
