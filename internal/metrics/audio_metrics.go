// Package metrics exposes the audio subsystem's runtime state as Prometheus
// metrics, gathered at scrape time rather than pushed on every state change.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineStatsProvider exposes AudioData's rate-correction state.
type EngineStatsProvider interface {
	DstFreqHz() uint32
	FreqDelta() int64
	StarvedConversions() uint64
}

// ClientStatsEntry is a point-in-time snapshot of one client channel.
type ClientStatsEntry struct {
	ID                 string
	State              string
	RingOccupancyBytes int
	BlockIDLag         int
	QueueDepth         uint32
	PacketsToSkip      int32
}

// ClientStatsProvider exposes the current set of connected client channels.
type ClientStatsProvider interface {
	GetClientStats() []ClientStatsEntry
}

// Collector is a prometheus.Collector that gathers the audio subsystem's
// metrics at scrape time, the way the rest of this codebase's collectors do.
type Collector struct {
	engine    EngineStatsProvider
	clients   ClientStatsProvider
	startTime time.Time

	dstFreqDesc        *prometheus.Desc
	freqDeltaDesc      *prometheus.Desc
	starvedConvDesc    *prometheus.Desc
	clientsDesc        *prometheus.Desc
	clientRingDesc     *prometheus.Desc
	clientLagDesc      *prometheus.Desc
	clientQueueDesc    *prometheus.Desc
	clientSkipDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Either provider may be nil
// if that part of the subsystem is unavailable.
func NewCollector(engine EngineStatsProvider, clients ClientStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		engine:    engine,
		clients:   clients,
		startTime: startTime,

		dstFreqDesc: prometheus.NewDesc(
			"vrdpaudio_dst_freq_hz",
			"Current output target sample rate after rate correction",
			nil, nil,
		),
		freqDeltaDesc: prometheus.NewDesc(
			"vrdpaudio_freq_delta_hz",
			"Current client-sync frequency offset applied on top of dst_freq_hz",
			nil, nil,
		),
		starvedConvDesc: prometheus.NewDesc(
			"vrdpaudio_starved_conversions_total",
			"Resampler conversions that produced zero output samples",
			nil, nil,
		),
		clientsDesc: prometheus.NewDesc(
			"vrdpaudio_clients",
			"Number of client channels, by state",
			[]string{"state"}, nil,
		),
		clientRingDesc: prometheus.NewDesc(
			"vrdpaudio_client_ring_occupancy_bytes",
			"Bytes currently queued in a client's output ring",
			[]string{"client_id"}, nil,
		),
		clientLagDesc: prometheus.NewDesc(
			"vrdpaudio_client_block_id_lag",
			"Modular distance between block_id_next and block_id_last_confirmed",
			[]string{"client_id"}, nil,
		),
		clientQueueDesc: prometheus.NewDesc(
			"vrdpaudio_client_queue_depth",
			"Most recent windowed-average COMPLETION queue depth",
			[]string{"client_id"}, nil,
		),
		clientSkipDesc: prometheus.NewDesc(
			"vrdpaudio_client_packets_to_skip",
			"Remaining packets in the current skip-recovery burst",
			[]string{"client_id"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"vrdpaudio_uptime_seconds",
			"Seconds since the audio subsystem started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dstFreqDesc
	ch <- c.freqDeltaDesc
	ch <- c.starvedConvDesc
	ch <- c.clientsDesc
	ch <- c.clientRingDesc
	ch <- c.clientLagDesc
	ch <- c.clientQueueDesc
	ch <- c.clientSkipDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time; neither provider blocks on I/O.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.engine != nil {
		ch <- prometheus.MustNewConstMetric(c.dstFreqDesc, prometheus.GaugeValue, float64(c.engine.DstFreqHz()))
		ch <- prometheus.MustNewConstMetric(c.freqDeltaDesc, prometheus.GaugeValue, float64(c.engine.FreqDelta()))
		ch <- prometheus.MustNewConstMetric(c.starvedConvDesc, prometheus.CounterValue, float64(c.engine.StarvedConversions()))
	}

	if c.clients != nil {
		entries := c.clients.GetClientStats()
		byState := make(map[string]int)
		for _, e := range entries {
			byState[e.State]++
			ch <- prometheus.MustNewConstMetric(c.clientRingDesc, prometheus.GaugeValue, float64(e.RingOccupancyBytes), e.ID)
			ch <- prometheus.MustNewConstMetric(c.clientLagDesc, prometheus.GaugeValue, float64(e.BlockIDLag), e.ID)
			ch <- prometheus.MustNewConstMetric(c.clientQueueDesc, prometheus.GaugeValue, float64(e.QueueDepth), e.ID)
			ch <- prometheus.MustNewConstMetric(c.clientSkipDesc, prometheus.GaugeValue, float64(e.PacketsToSkip), e.ID)
		}
		for state, n := range byState {
			ch <- prometheus.MustNewConstMetric(c.clientsDesc, prometheus.GaugeValue, float64(n), state)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

// mustRegister registers c with reg, logging (not panicking) on failure, the
// way a long-running daemon should treat a duplicate-registration bug.
func mustRegister(reg *prometheus.Registry, c prometheus.Collector, logger *slog.Logger) {
	if err := reg.Register(c); err != nil {
		logger.Error("metrics collector registration failed", "error", err)
	}
}

// NewRegistry builds a fresh registry with the audio collector registered.
func NewRegistry(engine EngineStatsProvider, clients ClientStatsProvider, startTime time.Time, logger *slog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	mustRegister(reg, NewCollector(engine, clients, startTime), logger)
	return reg
}
