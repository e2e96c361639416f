package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFParser PDF文档解析器
// pdfcpu导出每页解码后的内容流，再从文本绘制操作符中取出字符串
type PDFParser struct{}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	return &PDFParser{}
}

var pageFilePattern = regexp.MustCompile(`(\d+)\.txt$`)

// Parse 解析PDF文件并提取其文本内容
func (p *PDFParser) Parse(filePath string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(filePath, tmpDir, nil, conf); err != nil {
		return "", fmt.Errorf("failed to extract content from PDF: %w", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted content dir: %w", err)
	}

	var pages []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".txt") {
			pages = append(pages, e.Name())
		}
	}
	sort.Slice(pages, func(i, j int) bool {
		return pageNumber(pages[i]) < pageNumber(pages[j])
	})

	var texts []string
	for _, name := range pages {
		data, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(decodeContentStream(data)); text != "" {
			texts = append(texts, text)
		}
	}

	result := strings.Join(texts, "\n\n")
	if result == "" {
		return "", fmt.Errorf("no text content found in PDF %s", filepath.Base(filePath))
	}
	return result, nil
}

// ParseReader 先写入临时文件再解析
func (p *PDFParser) ParseReader(r io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "pdf_reader_*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to buffer PDF %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to buffer PDF %s: %w", filename, err)
	}
	return p.Parse(tmp.Name())
}

func pageNumber(name string) int {
	m := pageFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// decodeContentStream 从内容流中取出Tj/TJ/'/"绘制的字符串
// 文本定位操作符(Td/TD/T*/Tm)和ET结束当前行
func decodeContentStream(data []byte) string {
	var (
		out     strings.Builder
		line    strings.Builder
		pending []string
	)
	flushLine := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(s)
		}
		line.Reset()
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteralString(data, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '<':
			s, next := readHexString(data, i)
			pending = append(pending, s)
			i = next
		case isDelimiter(c) || isSpace(c):
			i++
		default:
			start := i
			for i < len(data) && !isDelimiter(data[i]) && !isSpace(data[i]) {
				i++
			}
			switch string(data[start:i]) {
			case "Tj", "TJ":
				line.WriteString(strings.Join(pending, ""))
				pending = pending[:0]
			case "'", "\"":
				flushLine()
				line.WriteString(strings.Join(pending, ""))
				pending = pending[:0]
			case "Td", "TD", "T*", "Tm", "ET":
				flushLine()
				pending = pending[:0]
			}
		}
	}
	flushLine()
	return out.String()
}

func readLiteralString(data []byte, start int) (string, int) {
	var b []byte
	depth := 0
	i := start
	for ; i < len(data); i++ {
		c := data[i]
		switch c {
		case '\\':
			if i+1 >= len(data) {
				continue
			}
			i++
			switch e := data[i]; e {
			case 'n':
				b = append(b, '\n')
			case 'r':
				b = append(b, '\r')
			case 't':
				b = append(b, '\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					v := 0
					j := 0
					for ; j < 3 && i+j < len(data) && data[i+j] >= '0' && data[i+j] <= '7'; j++ {
						v = v*8 + int(data[i+j]-'0')
					}
					i += j - 1
					b = append(b, byte(v))
				} else {
					b = append(b, e)
				}
			}
		case '(':
			depth++
			if depth > 1 {
				b = append(b, c)
			}
		case ')':
			depth--
			if depth == 0 {
				return latin1(b), i + 1
			}
			b = append(b, c)
		default:
			b = append(b, c)
		}
	}
	return latin1(b), i
}

func readHexString(data []byte, start int) (string, int) {
	var digits []byte
	i := start + 1
	for ; i < len(data) && data[i] != '>'; i++ {
		if isHex(data[i]) {
			digits = append(digits, data[i])
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	b := make([]byte, 0, len(digits)/2)
	for j := 0; j < len(digits); j += 2 {
		v, _ := strconv.ParseUint(string(digits[j:j+2]), 16, 8)
		b = append(b, byte(v))
	}
	return latin1(b), i + 1
}

func isDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
