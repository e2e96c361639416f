package cmd

import (
	"fmt"

	"github.com/fyerfyer/elis-rag/internal/cache"
	"github.com/fyerfyer/elis-rag/internal/collector"
	"github.com/fyerfyer/elis-rag/internal/database"
	"github.com/fyerfyer/elis-rag/internal/document"
	"github.com/fyerfyer/elis-rag/internal/embedding"
	"github.com/fyerfyer/elis-rag/internal/metrics"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/fyerfyer/elis-rag/internal/quality"
	"github.com/fyerfyer/elis-rag/internal/repository"
	"github.com/fyerfyer/elis-rag/internal/vectordb"
	"github.com/fyerfyer/elis-rag/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app 装配好的组件
type app struct {
	pipeline *pipeline.Pipeline
	store    *vectordb.Store
	registry *prometheus.Registry
	db       *gorm.DB
}

// newApp 按配置创建所有组件
func newApp() (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	embedder, err := embedding.NewClient(cfg.Embed.Provider, cfg.EmbeddingOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	procOpts := []document.Option{document.WithLogger(logger)}
	if cfg.Cache.Enable {
		vectorCache, err := cache.NewCache(cfg.CacheConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		procOpts = append(procOpts, document.WithCache(vectorCache))
	}
	processor, err := document.NewProcessor(cfg.ProcessorConfig(), embedder, procOpts...)
	if err != nil {
		return nil, err
	}

	filter, err := quality.NewFilter(cfg.QualityConfig(), quality.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	storeCfg := cfg.StoreConfig()
	if storeCfg.Index.Dimension <= 0 {
		storeCfg.Index.Dimension = embedder.Dimensions()
	}
	a.store, err = vectordb.NewStore(storeCfg, vectordb.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
		pipeline.WithCollectors(collector.NewLocalFileCollector(cfg.Collector, collector.WithLogger(logger))),
	}

	results, err := storage.New(cfg.StorageConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create result storage: %w", err)
	}
	opts = append(opts, pipeline.WithStorage(results))

	if cfg.Database.Enable {
		a.db, err = database.Setup(cfg.DatabaseConfig(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		repo, err := repository.NewCorpusRepository(a.db)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithRepository(repo))
	}

	a.pipeline, err = pipeline.New(cfg.Pipeline, filter, processor, a.store, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"embedder": embedder.Name(),
		"backend":  storeCfg.Index.Backend,
		"index":    storeCfg.Index.Type,
		"database": cfg.Database.Enable,
		"storage":  cfg.Storage.Type,
	}).Debug("Components initialized")
	return a, nil
}

// Close 释放索引和数据库连接
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close vector store")
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
}
