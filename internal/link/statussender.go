package link

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// StatusSender periodically unicasts a CDJ status packet to every
// registered peer while status sending is active. Active only when the
// participant's device number is in 1..4.
type StatusSender struct {
	logger    *slog.Logger
	metronome *Metronome
	election  *Election

	deviceName   func() string
	deviceNumber func() DeviceID
	playing      func() bool
	synced       func() bool
	onAir        func() bool
	interval     func() time.Duration

	targets func() []*DeviceAnnouncement
	send    func(addr string, pkt []byte)

	beatSender *BeatSender

	counter atomic.Uint32

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatusSender wires a status sender against its dependencies. All
// accessor funcs are read fresh on every tick so configuration changes
// (playing toggled, synced toggled, tempo changed) take effect immediately.
func NewStatusSender(
	logger *slog.Logger,
	m *Metronome,
	e *Election,
	beatSender *BeatSender,
	deviceName func() string,
	deviceNumber func() DeviceID,
	playing func() bool,
	synced func() bool,
	onAir func() bool,
	interval func() time.Duration,
	targets func() []*DeviceAnnouncement,
	send func(addr string, pkt []byte),
) *StatusSender {
	return &StatusSender{
		logger:       logger.With("subsystem", "status-sender"),
		metronome:    m,
		election:     e,
		beatSender:   beatSender,
		deviceName:   deviceName,
		deviceNumber: deviceNumber,
		playing:      playing,
		synced:       synced,
		onAir:        onAir,
		interval:     interval,
		targets:      targets,
		send:         send,
	}
}

// Start launches the periodic status-send loop.
func (s *StatusSender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the status-send loop and waits for it to exit.
func (s *StatusSender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *StatusSender) run(ctx context.Context) {
	defer close(s.done)

	for {
		interval := s.interval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		avoidBeatPacket(s.metronome)
		s.sendOnce()
	}
}

func (s *StatusSender) sendOnce() {
	master, yieldTo := s.election.StatusFields()
	snap := s.metronome.Snapshot()
	counter := s.counter.Add(1)

	pkt := encodeCdjStatus(
		s.deviceName(),
		s.deviceNumber(),
		snap,
		s.playing(),
		master,
		s.synced(),
		s.onAir(),
		yieldTo,
		counter,
	)

	for _, peer := range s.targets() {
		s.send(peer.IP.String(), pkt)
	}
}
