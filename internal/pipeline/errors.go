package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDocuments 采集阶段没有得到任何文档
	ErrNoDocuments = errors.New("no documents collected")
	// ErrAllDocumentsFiltered 全部文档被质量过滤拒绝
	ErrAllDocumentsFiltered = errors.New("all documents rejected by quality filter")
	// ErrNoChunks 文档处理没有产生分块
	ErrNoChunks = errors.New("no chunks generated")
	// ErrAllChunksFiltered 全部分块被质量过滤拒绝
	ErrAllChunksFiltered = errors.New("all chunks rejected by quality filter")
	// ErrEmptyQuery 查询为空
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNoRepository 操作需要元数据库
	ErrNoRepository = errors.New("metadata repository not configured")
)

// Stage 流水线阶段
type Stage string

const (
	StageCollect         Stage = "collect"
	StageFilterDocuments Stage = "filter_documents"
	StageProcess         Stage = "process"
	StageFilterChunks    Stage = "filter_chunks"
	StageStore           Stage = "store"
	StagePersist         Stage = "persist"
)

// StageError 某个阶段失败导致整次运行中止
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
