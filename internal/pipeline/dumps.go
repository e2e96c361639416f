package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fyerfyer/elis-rag/internal/models"
)

const (
	documentsDumpName = "documentos_originais.txt"
	chunksDumpName    = "chunks_processados.txt"
	reportDumpName    = "relatorio.json"
)

var dumpSeparator = "\n" + strings.Repeat("=", 50) + "\n\n"

// TopicDir 主题对应的结果目录名
func (p *Pipeline) TopicDir(topic string) string {
	slug := strings.Join(strings.Fields(topic), "_")
	slug = strings.NewReplacer("/", "_", "\\", "_").Replace(slug)
	if slug == "" {
		slug = "all"
	}
	return p.cfg.ResultsPrefix + slug
}

// writeDumps 写出文档和分块的可读副本
func (p *Pipeline) writeDumps(ctx context.Context, topic string, docs []*models.RawDocument, chunks []*models.ProcessedChunk) error {
	dir := p.TopicDir(topic)

	var b bytes.Buffer
	for i, doc := range docs {
		date := ""
		if doc.PublicationDate != nil {
			date = doc.PublicationDate.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "=== DOCUMENTO %d ===\n", i+1)
		fmt.Fprintf(&b, "Titulo: %s\n", doc.Title)
		fmt.Fprintf(&b, "Fonte: %s\n", doc.SourceType)
		fmt.Fprintf(&b, "URL: %s\n", doc.URL)
		fmt.Fprintf(&b, "Autor: %s\n", strings.Join(doc.Authors, ", "))
		fmt.Fprintf(&b, "Data: %s\n", date)
		fmt.Fprintf(&b, "Conteudo:\n%s\n", doc.Content)
		b.WriteString(dumpSeparator)
	}
	if _, err := p.storage.Put(ctx, dir+"/"+documentsDumpName, &b); err != nil {
		return fmt.Errorf("failed to write documents dump: %w", err)
	}

	b.Reset()
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "=== CHUNK %d ===\n", i+1)
		fmt.Fprintf(&b, "Documento: %s\n", chunk.DocumentTitle)
		fmt.Fprintf(&b, "Fonte: %s\n", chunk.SourceType)
		fmt.Fprintf(&b, "Posicao: %d\n", chunk.ChunkIndex)
		fmt.Fprintf(&b, "Tamanho: %d\n", chunk.ChunkSize)
		fmt.Fprintf(&b, "Texto:\n%s\n", chunk.Text)
		b.WriteString(dumpSeparator)
	}
	if _, err := p.storage.Put(ctx, dir+"/"+chunksDumpName, &b); err != nil {
		return fmt.Errorf("failed to write chunks dump: %w", err)
	}
	return nil
}

func (p *Pipeline) writeReport(ctx context.Context, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if _, err := p.storage.Put(ctx, p.TopicDir(report.Topic)+"/"+reportDumpName, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Topics 列出已有结果目录对应的主题
func (p *Pipeline) Topics(ctx context.Context) ([]string, error) {
	if p.storage == nil {
		return []string{}, nil
	}
	objects, err := p.storage.List(ctx, p.cfg.ResultsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list result dumps: %w", err)
	}

	seen := make(map[string]struct{})
	topics := []string{}
	for _, obj := range objects {
		dir, _, ok := strings.Cut(obj.Key, "/")
		if !ok {
			continue
		}
		topic := strings.ReplaceAll(strings.TrimPrefix(dir, p.cfg.ResultsPrefix), "_", " ")
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics, nil
}
