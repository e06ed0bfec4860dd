// Package testsupport contains helpers shared across package tests.
package testsupport

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MetricValue reads the current value of a counter, gauge, or histogram
// sample count from the default registry. Missing metrics read as zero so
// delta assertions work before the first increment.
func MetricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		have[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// AssertMetricDelta runs fn and asserts the metric moved by exactly delta.
func AssertMetricDelta(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := MetricValue(t, name, labels)
	fn()
	after := MetricValue(t, name, labels)
	assert.Equal(t, delta, after-before, "metric %s%v delta mismatch", name, labels)
}

// AssertMetricDeltaEventually runs fn and waits for the metric to move by
// delta. Intended for increments performed on background goroutines.
func AssertMetricDeltaEventually(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := MetricValue(t, name, labels)
	fn()
	require.Eventually(t, func() bool {
		return MetricValue(t, name, labels) == before+delta
	}, 2*time.Second, 50*time.Millisecond, "metric %s%v never reached delta +%.0f", name, labels, delta)
}
