package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 检索管线的 Prometheus 指标
// 所有方法对 nil 接收者安全，未配置指标时直接跳过
type Metrics struct {
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	admitted         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	searches         *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	searchResults    prometheus.Histogram
	storeChunks      prometheus.Gauge
	storeDocuments   prometheus.Gauge
	storeTombstones  prometheus.Gauge
}

// New 创建指标并注册到给定的 Registerer
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elis_rag_pipeline_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"status"},
		),
		pipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "elis_rag_pipeline_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~200s
			},
		),
		admitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elis_rag_filter_admitted_total",
				Help: "Items admitted by the quality filter by kind",
			},
			[]string{"kind"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elis_rag_filter_rejected_total",
				Help: "Items rejected by the quality filter by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elis_rag_searches_total",
				Help: "Total number of searches by outcome",
			},
			[]string{"status"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "elis_rag_search_duration_seconds",
				Help:    "Search latency in seconds including query embedding",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		searchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "elis_rag_search_results",
				Help:    "Number of results returned per search",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		storeChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elis_rag_store_chunks",
			Help: "Live chunks held by the vector store",
		}),
		storeDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elis_rag_store_documents",
			Help: "Distinct documents held by the vector store",
		}),
		storeTombstones: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elis_rag_store_tombstones",
			Help: "Deleted vectors awaiting compaction",
		}),
	}

	collectors := []prometheus.Collector{
		m.pipelineRuns, m.pipelineDuration, m.admitted, m.rejected,
		m.searches, m.searchDuration, m.searchResults,
		m.storeChunks, m.storeDocuments, m.storeTombstones,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObservePipelineRun 记录一次管线执行
func (m *Metrics) ObservePipelineRun(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.pipelineRuns.WithLabelValues(status).Inc()
	m.pipelineDuration.Observe(d.Seconds())
}

// ObserveFilter 记录一次过滤结果，kind 为 document 或 chunk
func (m *Metrics) ObserveFilter(kind string, admitted int, reasons map[string]int) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(kind).Add(float64(admitted))
	for reason, n := range reasons {
		if n > 0 {
			m.rejected.WithLabelValues(kind, reason).Add(float64(n))
		}
	}
}

// ObserveSearch 记录一次检索
func (m *Metrics) ObserveSearch(results int, err error, d time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.searches.WithLabelValues("error").Inc()
		return
	}
	m.searches.WithLabelValues("success").Inc()
	m.searchDuration.Observe(d.Seconds())
	m.searchResults.Observe(float64(results))
}

// SetStoreSize 更新向量库规模
func (m *Metrics) SetStoreSize(chunks, documents, tombstones int) {
	if m == nil {
		return
	}
	m.storeChunks.Set(float64(chunks))
	m.storeDocuments.Set(float64(documents))
	m.storeTombstones.Set(float64(tombstones))
}
