package link

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSource is the read surface a Collector pulls from at scrape time.
// Participant implements it; tests can stub it with a struct literal.
type MetricsSource interface {
	DeviceCount() int
	IsMaster() bool
	CurrentTempo() float64
	MasterTransitions() uint64
	CommandsSentByKind() map[string]uint64
	StatusPacketsSent() uint64
	BeatPacketsSent() uint64
	BeatEmitJitter() prometheus.Histogram
}

// Collector is a prometheus.Collector that gathers virtual-participant
// metrics at scrape time, rather than pushing updates eagerly. The beat
// emission jitter histogram is the one exception: it accumulates
// observations as beats are sent and is forwarded through here at scrape.
type Collector struct {
	source    MetricsSource
	startTime time.Time

	devicesDesc       *prometheus.Desc
	isMasterDesc      *prometheus.Desc
	tempoDesc         *prometheus.Desc
	masterChangesDesc *prometheus.Desc
	commandsDesc      *prometheus.Desc
	statusSentDesc    *prometheus.Desc
	beatsSentDesc     *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a metrics collector over source.
func NewCollector(source MetricsSource, startTime time.Time) *Collector {
	return &Collector{
		source:    source,
		startTime: startTime,

		devicesDesc: prometheus.NewDesc(
			"link_devices_active",
			"Number of Pro DJ Link devices currently active on the wire",
			nil, nil,
		),
		isMasterDesc: prometheus.NewDesc(
			"link_is_tempo_master",
			"Whether this participant currently holds the tempo master role (1=yes, 0=no)",
			nil, nil,
		),
		tempoDesc: prometheus.NewDesc(
			"link_tempo_bpm",
			"Current metronome tempo in BPM",
			nil, nil,
		),
		masterChangesDesc: prometheus.NewDesc(
			"link_master_transitions_total",
			"Total number of observed tempo master changes",
			nil, nil,
		),
		commandsDesc: prometheus.NewDesc(
			"link_commands_sent_total",
			"Total number of commands issued through the command surface",
			[]string{"kind"}, nil,
		),
		statusSentDesc: prometheus.NewDesc(
			"link_status_packets_sent_total",
			"Total number of CDJ status packets sent",
			nil, nil,
		),
		beatsSentDesc: prometheus.NewDesc(
			"link_beats_emitted_total",
			"Total number of beat packets emitted",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"link_uptime_seconds",
			"Seconds since the participant process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.devicesDesc
	ch <- c.isMasterDesc
	ch <- c.tempoDesc
	ch <- c.masterChangesDesc
	ch <- c.commandsDesc
	ch <- c.statusSentDesc
	ch <- c.beatsSentDesc
	ch <- c.uptimeDesc
	c.source.BeatEmitJitter().Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.devicesDesc, prometheus.GaugeValue, float64(c.source.DeviceCount()))

	isMaster := 0.0
	if c.source.IsMaster() {
		isMaster = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.isMasterDesc, prometheus.GaugeValue, isMaster)

	ch <- prometheus.MustNewConstMetric(c.tempoDesc, prometheus.GaugeValue, c.source.CurrentTempo())
	ch <- prometheus.MustNewConstMetric(c.masterChangesDesc, prometheus.CounterValue, float64(c.source.MasterTransitions()))

	for kind, n := range c.source.CommandsSentByKind() {
		ch <- prometheus.MustNewConstMetric(c.commandsDesc, prometheus.CounterValue, float64(n), kind)
	}

	ch <- prometheus.MustNewConstMetric(c.statusSentDesc, prometheus.CounterValue, float64(c.source.StatusPacketsSent()))
	ch <- prometheus.MustNewConstMetric(c.beatsSentDesc, prometheus.CounterValue, float64(c.source.BeatPacketsSent()))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	c.source.BeatEmitJitter().Collect(ch)
}

// Counters is the set of counters the participant bumps as it operates;
// Participant's MetricsSource implementation reads from these.
type Counters struct {
	masterTransitions atomic.Uint64
	statusSent        atomic.Uint64
	beatsSent         atomic.Uint64

	commandsMu     sync.Mutex
	commandsByKind map[string]uint64

	beatJitter prometheus.Histogram
}

// init allocates the command-kind map and the jitter histogram; must be
// called once before the participant starts operating.
func (c *Counters) init() {
	c.commandsByKind = make(map[string]uint64)
	c.beatJitter = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "link_beat_emit_jitter_ms",
		Help:    "Distance between each emitted beat packet and its beat boundary, in milliseconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50},
	})
}

func (c *Counters) recordCommand(kind string) {
	c.commandsMu.Lock()
	c.commandsByKind[kind]++
	c.commandsMu.Unlock()
}

func (c *Counters) commandCounts() map[string]uint64 {
	c.commandsMu.Lock()
	defer c.commandsMu.Unlock()

	out := make(map[string]uint64, len(c.commandsByKind))
	for k, v := range c.commandsByKind {
		out[k] = v
	}
	return out
}
