package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// VectorCache 在字节缓存之上存取float32向量
type VectorCache struct {
	backend Cache
	ttl     time.Duration
}

// NewVectorCache 包装一个缓存实现
func NewVectorCache(backend Cache, ttl time.Duration) *VectorCache {
	return &VectorCache{backend: backend, ttl: ttl}
}

// GetVector 读取向量，数据损坏时视为未命中
func (v *VectorCache) GetVector(ctx context.Context, key string) ([]float32, bool, error) {
	data, found, err := v.backend.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	vec, err := DecodeVector(data)
	if err != nil {
		return nil, false, nil
	}
	return vec, true, nil
}

// SetVector 写入向量
func (v *VectorCache) SetVector(ctx context.Context, key string, vec []float32) error {
	return v.backend.Set(ctx, key, EncodeVector(vec), v.ttl)
}

// Clear 清空底层缓存
func (v *VectorCache) Clear(ctx context.Context) error {
	return v.backend.Clear(ctx)
}

// EncodeVector 小端序编码float32向量
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector 解码EncodeVector的输出
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
