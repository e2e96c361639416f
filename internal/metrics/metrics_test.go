package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue 从 Gather 结果中取出带指定标签的值
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matchLabels(m, labels) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObservePipelineRun(nil, time.Second)
	m.ObservePipelineRun(errors.New("boom"), time.Second)
	assert.Equal(t, 1.0, counterValue(t, reg, "elis_rag_pipeline_runs_total", map[string]string{"status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "elis_rag_pipeline_runs_total", map[string]string{"status": "error"}))

	m.ObserveFilter("document", 3, map[string]int{"too_short": 2, "duplicate": 0})
	assert.Equal(t, 3.0, counterValue(t, reg, "elis_rag_filter_admitted_total", map[string]string{"kind": "document"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "elis_rag_filter_rejected_total", map[string]string{"kind": "document", "reason": "too_short"}))

	m.ObserveSearch(4, nil, time.Millisecond)
	m.ObserveSearch(0, errors.New("index"), 0)
	assert.Equal(t, 1.0, counterValue(t, reg, "elis_rag_searches_total", map[string]string{"status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "elis_rag_searches_total", map[string]string{"status": "error"}))

	m.SetStoreSize(10, 2, 1)
	assert.Equal(t, 10.0, counterValue(t, reg, "elis_rag_store_chunks", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "elis_rag_store_tombstones", nil))

	t.Run("double registration fails", func(t *testing.T) {
		_, err := New(reg)
		assert.Error(t, err)
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePipelineRun(nil, time.Second)
		m.ObserveFilter("chunk", 1, nil)
		m.ObserveSearch(1, nil, time.Second)
		m.SetStoreSize(1, 1, 0)
	})
}
