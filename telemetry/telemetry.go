// Package telemetry exposes engine counters as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"neuroseq/engine"
)

// Collector reads engine counters on every scrape. All reads are
// lock-free snapshots, so scraping never perturbs the audio path.
type Collector struct {
	eng *engine.Engine

	freeA     *prometheus.Desc
	utilB     *prometheus.Desc
	active    *prometheus.Desc
	ringDepth *prometheus.Desc
	ringCap   *prometheus.Desc
	playhead  *prometheus.Desc
	tempo     *prometheus.Desc
	panicCode *prometheus.Desc
	idLive    *prometheus.Desc
	synLive   *prometheus.Desc
}

// NewCollector builds a collector for the given engine.
func NewCollector(eng *engine.Engine) *Collector {
	return &Collector{
		eng: eng,
		freeA: prometheus.NewDesc("neuroseq_heap_free_nodes",
			"Free nodes remaining in the shared zone", nil, nil),
		utilB: prometheus.NewDesc("neuroseq_local_heap_utilization",
			"Fill ratio of the producer-local zone", nil, nil),
		active: prometheus.NewDesc("neuroseq_active_events",
			"Events currently linked into the chain", nil, nil),
		ringDepth: prometheus.NewDesc("neuroseq_ring_depth",
			"Commands waiting in the queue", nil, nil),
		ringCap: prometheus.NewDesc("neuroseq_ring_capacity",
			"Total command queue slots", nil, nil),
		playhead: prometheus.NewDesc("neuroseq_playhead_ticks",
			"Current transport position in ticks", nil, nil),
		tempo: prometheus.NewDesc("neuroseq_tempo_bpm",
			"Current tempo in beats per minute", nil, nil),
		panicCode: prometheus.NewDesc("neuroseq_panic_code",
			"Nonzero when the engine tripped its dead-man's switch", nil, nil),
		idLive: prometheus.NewDesc("neuroseq_id_table_live",
			"Live entries in the identity table", nil, nil),
		synLive: prometheus.NewDesc("neuroseq_synapse_edges",
			"Live edges in the synapse table", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.freeA
	ch <- c.utilB
	ch <- c.active
	ch <- c.ringDepth
	ch <- c.ringCap
	ch <- c.playhead
	ch <- c.tempo
	ch <- c.panicCode
	ch <- c.idLive
	ch <- c.synLive
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.eng.Stats()
	ch <- prometheus.MustNewConstMetric(c.freeA, prometheus.GaugeValue, float64(s.FreeA))
	ch <- prometheus.MustNewConstMetric(c.utilB, prometheus.GaugeValue, s.UtilizationB)
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active))
	ch <- prometheus.MustNewConstMetric(c.ringDepth, prometheus.GaugeValue, float64(s.RingDepth))
	ch <- prometheus.MustNewConstMetric(c.ringCap, prometheus.GaugeValue, float64(s.RingCap))
	ch <- prometheus.MustNewConstMetric(c.playhead, prometheus.GaugeValue, float64(s.Playhead))
	ch <- prometheus.MustNewConstMetric(c.tempo, prometheus.GaugeValue, float64(s.Tempo))
	ch <- prometheus.MustNewConstMetric(c.panicCode, prometheus.GaugeValue, float64(s.PanicCode))
	ch <- prometheus.MustNewConstMetric(c.idLive, prometheus.GaugeValue, float64(s.IDLive))
	ch <- prometheus.MustNewConstMetric(c.synLive, prometheus.GaugeValue, float64(s.SynLive))
}
