package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound 对象不存在
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey 对象键为空或越出存储根目录
	ErrInvalidKey = errors.New("invalid object key")

	// ErrUnknownType 未知的存储类型
	ErrUnknownType = errors.New("unknown storage type")
)

// ObjectInfo 对象元数据
type ObjectInfo struct {
	Key         string    // 对象键，使用 / 分隔
	Size        int64     // 大小(字节)
	ContentType string    // MIME类型
	ModTime     time.Time // 最后修改时间
}

// Storage 按键寻址的对象存储接口
// 管线用它写出文档和分块的可读转储，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Put 写入对象，已存在时覆盖
	Put(ctx context.Context, key string, r io.Reader) (ObjectInfo, error)

	// Get 读取对象内容，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除对象，不存在时返回 ErrNotFound
	Delete(ctx context.Context, key string) error

	// List 列出前缀下的所有对象，按键排序
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string      `mapstructure:"type" validate:"oneof=local minio"`
	Local LocalConfig `mapstructure:"local"`
	Minio MinioConfig `mapstructure:"minio"`
}

// DefaultConfig 默认使用本地存储
func DefaultConfig() Config {
	return Config{
		Type:  "local",
		Local: LocalConfig{Path: "."},
		Minio: MinioConfig{Bucket: "elis-rag"},
	}
}

// New 根据配置创建存储实现
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		s, err := NewLocalStorage(cfg.Local)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio":
		s, err := NewMinioStorage(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
}

// cleanKey 规范化对象键，拒绝空键和越出根目录的键
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(key), "\\", "/"), "/")
	cleaned := path.Clean(key)
	if key == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// contentType 简单根据扩展名判断MIME类型
func contentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
