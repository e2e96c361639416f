package models

import "errors"

var (
	// ErrDocumentNotFound 文档不存在错误
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChunkNotFound 分块不存在错误
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrInvalidFilter 过滤参数格式错误
	ErrInvalidFilter = errors.New("invalid search filter")
)
