package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CyclesTotalIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CyclesTotal.WithLabelValues("bot-1").Inc()
	m.CyclesTotal.WithLabelValues("bot-1").Inc()

	metric := &dto.Metric{}
	require.NoError(t, m.CyclesTotal.WithLabelValues("bot-1").Write(metric))
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestRegistry_PlanRejectionsLabeledByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PlanRejections.WithLabelValues("bot-1", "stale_version").Inc()

	metric := &dto.Metric{}
	require.NoError(t, m.PlanRejections.WithLabelValues("bot-1", "stale_version").Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
