package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroseq/engine"
)

func TestCollectorRegisters(t *testing.T) {
	eng, err := engine.New(engine.Options{Capacity: 64})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(eng)))

	fams, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, fams, 10)

	byName := make(map[string]float64)
	for _, f := range fams {
		byName[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, float64(32), byName["neuroseq_heap_free_nodes"])
	assert.Equal(t, float64(0), byName["neuroseq_active_events"])
	assert.Equal(t, float64(120), byName["neuroseq_tempo_bpm"])
}

func TestCollectorTracksActivity(t *testing.T) {
	eng, err := engine.New(engine.Options{Capacity: 64})
	require.NoError(t, err)

	p, res := eng.InsertHead(engine.OpNote, 60, 100, 0, 240, 0)
	require.Equal(t, engine.OK, res)
	require.NotEqual(t, engine.NilPtr, p)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(eng)))

	fams, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range fams {
		if f.GetName() == "neuroseq_active_events" {
			assert.Equal(t, float64(1), f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
