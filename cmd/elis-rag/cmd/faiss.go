//go:build faiss

package cmd

// 使用 -tags faiss 构建时注册Faiss索引后端
import _ "github.com/fyerfyer/elis-rag/internal/vectordb/faissindex"
