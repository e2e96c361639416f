package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
	prefix     string        // 所有对象键的公共前缀
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`   // MinIO服务端点
	AccessKey string `mapstructure:"access_key"` // 访问密钥ID
	SecretKey string `mapstructure:"secret_key"` // 秘密访问密钥
	UseSSL    bool   `mapstructure:"use_ssl"`    // 是否使用SSL
	Bucket    string `mapstructure:"bucket"`     // 存储桶名称
	Prefix    string `mapstructure:"prefix"`     // 对象键前缀(可选)
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *MinioStorage) objectName(key string) (string, string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	if s.prefix == "" {
		return cleaned, cleaned, nil
	}
	return cleaned, s.prefix + "/" + cleaned, nil
}

func (s *MinioStorage) keyOf(objectName string) string {
	if s.prefix == "" {
		return objectName
	}
	return strings.TrimPrefix(objectName, s.prefix+"/")
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}

// Put 上传对象
func (s *MinioStorage) Put(ctx context.Context, key string, r io.Reader) (ObjectInfo, error) {
	cleaned, name, err := s.objectName(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	// 转储文件不大，读入内存后按已知长度上传
	content, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to read object content: %w", err)
	}

	ct := contentType(cleaned)
	info, err := s.client.PutObject(ctx, s.bucketName, name,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: ct},
	)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to upload object: %w", err)
	}

	return ObjectInfo{
		Key:         cleaned,
		Size:        info.Size,
		ContentType: ct,
		ModTime:     info.LastModified,
	}, nil
}

// Get 获取对象
func (s *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	_, name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}

	// GetObject 是惰性的，先 Stat 以便及时返回 ErrNotFound
	if _, err := s.client.StatObject(ctx, s.bucketName, name, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// Delete 删除对象
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	_, name, _ := s.objectName(key)
	if err := s.client.RemoveObject(ctx, s.bucketName, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List 列出前缀下的所有对象
func (s *MinioStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	listPrefix := strings.TrimPrefix(prefix, "/")
	if s.prefix != "" {
		listPrefix = s.prefix + "/" + listPrefix
	}

	var objects []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		key := s.keyOf(object.Key)
		objects = append(objects, ObjectInfo{
			Key:         key,
			Size:        object.Size,
			ContentType: contentType(key),
			ModTime:     object.LastModified,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Exists 检查对象是否存在
func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, name, err := s.objectName(key)
	if err != nil {
		return false, err
	}

	if _, err := s.client.StatObject(ctx, s.bucketName, name, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}
