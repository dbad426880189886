package link

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type stubMetricsSource struct {
	devices     int
	master      bool
	tempo       float64
	transitions uint64
	commands    map[string]uint64
	status      uint64
	beats       uint64
	jitter      prometheus.Histogram
}

func (s *stubMetricsSource) DeviceCount() int                      { return s.devices }
func (s *stubMetricsSource) IsMaster() bool                        { return s.master }
func (s *stubMetricsSource) CurrentTempo() float64                 { return s.tempo }
func (s *stubMetricsSource) MasterTransitions() uint64             { return s.transitions }
func (s *stubMetricsSource) CommandsSentByKind() map[string]uint64 { return s.commands }
func (s *stubMetricsSource) StatusPacketsSent() uint64             { return s.status }
func (s *stubMetricsSource) BeatPacketsSent() uint64               { return s.beats }
func (s *stubMetricsSource) BeatEmitJitter() prometheus.Histogram  { return s.jitter }

func newTestJitterHistogram() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "link_beat_emit_jitter_ms",
		Help:    "Distance between each emitted beat packet and its beat boundary, in milliseconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50},
	})
}

func TestCollectorGathersAllMetrics(t *testing.T) {
	jitter := newTestJitterHistogram()
	jitter.Observe(0.4)
	jitter.Observe(3.0)

	src := &stubMetricsSource{
		devices:     3,
		master:      true,
		tempo:       128.0,
		transitions: 2,
		commands:    map[string]uint64{"fader-start": 10, "load-track": 4},
		status:      50,
		beats:       40,
		jitter:      jitter,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(src, time.Now()))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 9 {
		t.Fatalf("gathered %d metric families, want 9", len(families))
	}

	values := make(map[string]float64)
	commandsByKind := make(map[string]float64)
	var jitterCount uint64
	for _, mf := range families {
		switch mf.GetName() {
		case "link_commands_sent_total":
			for _, m := range mf.GetMetric() {
				commandsByKind[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
			}
		case "link_beat_emit_jitter_ms":
			jitterCount = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		default:
			m := mf.GetMetric()[0]
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	if values["link_devices_active"] != 3 {
		t.Errorf("link_devices_active = %v, want 3", values["link_devices_active"])
	}
	if values["link_is_tempo_master"] != 1 {
		t.Errorf("link_is_tempo_master = %v, want 1", values["link_is_tempo_master"])
	}
	if values["link_tempo_bpm"] != 128.0 {
		t.Errorf("link_tempo_bpm = %v, want 128", values["link_tempo_bpm"])
	}
	if values["link_beats_emitted_total"] != 40 {
		t.Errorf("link_beats_emitted_total = %v, want 40", values["link_beats_emitted_total"])
	}
	if commandsByKind["fader-start"] != 10 || commandsByKind["load-track"] != 4 {
		t.Errorf("link_commands_sent_total by kind = %v, want fader-start=10 load-track=4", commandsByKind)
	}
	if jitterCount != 2 {
		t.Errorf("jitter histogram sample count = %d, want 2", jitterCount)
	}
}

func TestCountersRecordCommandsByKind(t *testing.T) {
	var c Counters
	c.init()

	c.recordCommand("fader-start")
	c.recordCommand("fader-start")
	c.recordCommand("on-air")

	got := c.commandCounts()
	if got["fader-start"] != 2 || got["on-air"] != 1 {
		t.Errorf("commandCounts = %v, want fader-start=2 on-air=1", got)
	}
}
