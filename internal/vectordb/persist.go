package vectordb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	indexFileName    = "faiss_index.bin"
	chunksFileName   = "chunks.json"
	metadataFileName = "metadata.json"

	metadataFormatVersion = 1
)

// storeMetadata metadata.json的内容
type storeMetadata struct {
	FormatVersion  int              `json:"format_version"`
	ChunkPositions map[string]int64 `json:"chunk_positions"`
	Stats          BasicStats       `json:"stats"`
	Generation     int64            `json:"generation"`
	Backend        string           `json:"backend"`
	IndexType      string           `json:"index_type"`
	Dimension      int              `json:"dimension"`
	LastUpdated    string           `json:"last_updated"`
}

// Save 压缩墓碑后把索引、分块列表和元数据写入存储目录
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.cfg.StorageDir == "" {
		return errors.New("storage directory not configured")
	}
	if len(s.tombstones) > 0 {
		if err := s.rebuildLocked(s.liveChunksLocked()); err != nil {
			return fmt.Errorf("failed to compact before save: %w", err)
		}
	}
	if err := os.MkdirAll(s.cfg.StorageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	indexPath := filepath.Join(s.cfg.StorageDir, indexFileName)
	if s.index != nil {
		tmp := indexPath + ".tmp"
		if err := s.index.WriteFile(tmp); err != nil {
			return fmt.Errorf("failed to write index: %w", err)
		}
		if err := os.Rename(tmp, indexPath); err != nil {
			return fmt.Errorf("failed to replace index file: %w", err)
		}
	} else if err := os.Remove(indexPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale index file: %w", err)
	}

	chunks := s.chunks
	if chunks == nil {
		chunks = []*models.ProcessedChunk{}
	}
	if err := writeJSON(filepath.Join(s.cfg.StorageDir, chunksFileName), chunks); err != nil {
		return err
	}

	if s.lastUpdated.IsZero() {
		s.lastUpdated = time.Now()
	}
	meta := storeMetadata{
		FormatVersion:  metadataFormatVersion,
		ChunkPositions: make(map[string]int64, len(s.positions)),
		Stats:          s.basicStatsLocked(),
		Generation:     s.generation,
		Backend:        s.backendName(),
		IndexType:      s.cfg.Index.Type,
		Dimension:      s.dimension,
		LastUpdated:    s.lastUpdated.Format(time.RFC3339),
	}
	for id, pos := range s.positions {
		meta.ChunkPositions[id] = pos
	}
	if err := writeJSON(filepath.Join(s.cfg.StorageDir, metadataFileName), meta); err != nil {
		return err
	}

	if len(s.positions) > 0 {
		s.state = StatePersisted
	}
	s.logger.WithFields(logrus.Fields{
		"storage_dir": s.cfg.StorageDir,
		"chunks":      len(s.chunks),
		"generation":  s.generation,
	}).Info("Vector store saved")
	return nil
}

// Load 从存储目录恢复完整分块内容和索引
// 元数据缺失或过期时按分块顺序重新生成位置，索引缺失或与分块数不一致时重建
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.StorageDir == "" {
		return errors.New("storage directory not configured")
	}
	chunksPath := filepath.Join(s.cfg.StorageDir, chunksFileName)
	if _, err := os.Stat(chunksPath); os.IsNotExist(err) {
		return nil
	}

	var chunks []*models.ProcessedChunk
	if err := readJSON(chunksPath, &chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		s.resetLocked()
		return nil
	}

	meta, stale := s.readMetadata(chunks)
	log := s.logger.WithField("storage_dir", s.cfg.StorageDir)

	dimension := meta.Dimension
	if dimension <= 0 {
		dimension = len(chunks[0].Embedding)
	}

	idx, err := s.readIndex(dimension, meta, len(chunks))
	if err != nil {
		log.WithError(err).Warn("Persisted index unusable, rebuilding from chunks")
	}

	if stale {
		log.Warn("Vector store metadata stale, regenerating chunk positions")
	}

	s.resetLocked()
	s.dimension = dimension
	s.generation = meta.Generation
	if idx == nil {
		if err := s.rebuildLocked(chunks); err != nil {
			return fmt.Errorf("failed to rebuild index from chunks: %w", err)
		}
	} else {
		s.index = idx
		s.appendLocked(chunks)
	}
	if t, err := time.Parse(time.RFC3339, meta.LastUpdated); err == nil {
		s.lastUpdated = t
	}
	if len(s.positions) > 0 {
		s.state = StateRestored
	}

	log.WithFields(logrus.Fields{
		"chunks":     len(s.positions),
		"generation": s.generation,
		"rebuilt":    idx == nil,
	}).Info("Vector store restored")
	return nil
}

// readMetadata 读取元数据，缺失、版本不符或位置与分块顺序不一致时视为过期
func (s *Store) readMetadata(chunks []*models.ProcessedChunk) (storeMetadata, bool) {
	var meta storeMetadata
	path := filepath.Join(s.cfg.StorageDir, metadataFileName)
	if err := readJSON(path, &meta); err != nil {
		s.logger.WithError(err).Warn("Vector store metadata missing or unreadable, regenerating")
		return storeMetadata{}, true
	}
	if meta.FormatVersion != metadataFormatVersion || len(meta.ChunkPositions) != len(chunks) {
		return meta, true
	}
	for i, chunk := range chunks {
		if pos, ok := meta.ChunkPositions[chunk.ChunkID]; !ok || pos != int64(i) {
			return meta, true
		}
	}
	return meta, false
}

// readIndex 读取索引文件，后端或类型与配置不一致、向量数不符时返回nil
func (s *Store) readIndex(dimension int, meta storeMetadata, chunkCount int) (Index, error) {
	path := filepath.Join(s.cfg.StorageDir, indexFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index file unavailable: %w", err)
	}
	if meta.Backend != "" && (meta.Backend != s.backendName() || meta.IndexType != s.cfg.Index.Type) {
		return nil, fmt.Errorf("index built with %s/%s, configured %s/%s",
			meta.Backend, meta.IndexType, s.backendName(), s.cfg.Index.Type)
	}

	cfg := s.cfg.Index
	cfg.Dimension = dimension
	idx, err := ReadIndex(path, cfg)
	if err != nil {
		return nil, err
	}
	if idx.Dimension() != dimension || idx.Ntotal() != int64(chunkCount) {
		idx.Close()
		return nil, fmt.Errorf("index holds %d vectors of dimension %d, expected %d of dimension %d",
			idx.Ntotal(), idx.Dimension(), chunkCount, dimension)
	}
	return idx, nil
}

func (s *Store) backendName() string {
	if s.cfg.Index.Backend == "" {
		return "memory"
	}
	return s.cfg.Index.Backend
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
