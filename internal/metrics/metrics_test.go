package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CallPlaced("AUDIO")
	m.CallPlaced("AUDIO")
	m.Transition("ANSWERED")
	m.RemoteCandidate("applied")
	m.RemoteCandidate("duplicate")
	m.MachineStarted()
	m.MachineStarted()
	m.MachineStopped()

	assert.Equal(t, 2.0, value(t, reg, "calls_placed_total", map[string]string{"call_type": "AUDIO"}))
	assert.Equal(t, 1.0, value(t, reg, "calls_transitions_total", map[string]string{"to": "ANSWERED"}))
	assert.Equal(t, 1.0, value(t, reg, "calls_media_remote_candidates_total", map[string]string{"result": "duplicate"}))
	assert.Equal(t, 1.0, value(t, reg, "calls_active", nil))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.CallPlaced("VIDEO")
	m.Terminal("MISSED")
	m.Probe("assumed")
	m.StreamOpened()
	m.Notice("ok")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
