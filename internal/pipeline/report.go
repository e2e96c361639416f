package pipeline

import (
	"fmt"
	"time"

	"github.com/fyerfyer/elis-rag/internal/document"
	"github.com/fyerfyer/elis-rag/internal/quality"
	"github.com/google/uuid"
)

// RunStatus 运行结果状态
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Report 一次流水线运行的报告
type Report struct {
	RunID              string                    `json:"run_id"`
	Topic              string                    `json:"topic"`
	Status             RunStatus                 `json:"status"`
	StartedAt          time.Time                 `json:"started_at"`
	DurationSeconds    float64                   `json:"duration_seconds"`
	Sources            map[string]int            `json:"sources"` // 各采集器返回的文档数
	DocumentsCollected int                       `json:"documents_collected"`
	DocumentsAccepted  int                       `json:"documents_accepted"`
	ChunksGenerated    int                       `json:"chunks_generated"`
	ChunksAccepted     int                       `json:"chunks_accepted"`
	ChunksNew          int                       `json:"chunks_new"`
	TotalChunks        int                       `json:"total_chunks"`
	DocumentFilter     *quality.FilterStats      `json:"document_filter,omitempty"`
	ChunkFilter        *quality.FilterStats      `json:"chunk_filter,omitempty"`
	Processing         *document.ProcessingStats `json:"processing,omitempty"`
	Quality            *quality.Summary          `json:"quality,omitempty"` // 入库集合的质量分布
	FailedStage        Stage                     `json:"failed_stage,omitempty"`
	Warnings           []string                  `json:"warnings,omitempty"`
	Error              string                    `json:"error,omitempty"`
}

func newReport(topic string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Topic:     topic,
		StartedAt: time.Now(),
		Sources:   make(map[string]int),
	}
}

func (r *Report) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) finish(err error) {
	r.DurationSeconds = time.Since(r.StartedAt).Seconds()
	if err == nil {
		r.Status = RunCompleted
		return
	}
	r.Status = RunFailed
	r.Error = err.Error()
	if se, ok := err.(*StageError); ok {
		r.FailedStage = se.Stage
	}
}
