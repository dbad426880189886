package link

import (
	"context"
	"log/slog"
	"time"
)

// sleepThresholdMs is how close to the next beat the sender switches from
// sleeping to busy-waiting.
const sleepThresholdMs = 1

// beatThresholdMs bounds the window (together with sleepThresholdMs) that
// avoidBeatPacket treats as "too close to a beat" for the status sender to
// transmit in.
const beatThresholdMs = 1

// BeatSender emits Beat packets in phase with the Metronome while playing
// and sending status. It recomputes its sleep deadline whenever the
// timeline changes (tempo set, phase adjusted, jump-to-beat, play start).
type BeatSender struct {
	logger    *slog.Logger
	metronome *Metronome
	send      func(pkt []byte)
	device    func() DeviceID

	observeJitter func(ms float64)

	timelineChanged chan struct{}
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewBeatSender creates a beat sender. send is called with an already
// encoded Beat packet ready for broadcast; device returns our current
// device number (read fresh on each emission since it can change before
// status-sending starts). observeJitter, if non-nil, receives the absolute
// distance in ms between each emitted packet and its beat boundary.
func NewBeatSender(logger *slog.Logger, m *Metronome, device func() DeviceID, send func(pkt []byte), observeJitter func(ms float64)) *BeatSender {
	return &BeatSender{
		logger:          logger.With("subsystem", "beat-sender"),
		metronome:       m,
		send:            send,
		device:          device,
		observeJitter:   observeJitter,
		timelineChanged: make(chan struct{}, 1),
	}
}

// Start launches the beat-emission loop. Safe to call only while stopped.
func (b *BeatSender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
}

// Stop halts the beat-emission loop and waits for it to exit.
func (b *BeatSender) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
}

// NotifyTimelineChanged wakes the beat loop so it recomputes its deadline
// against the new timeline.
func (b *BeatSender) NotifyTimelineChanged() {
	select {
	case b.timelineChanged <- struct{}{}:
	default:
	}
}

func (b *BeatSender) run(ctx context.Context) {
	defer close(b.done)

	for {
		snap := b.metronome.Snapshot()
		msToBeat := snap.MsToNextBeat

		wait := time.Duration(msToBeat-sleepThresholdMs) * time.Millisecond
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-b.timelineChanged:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		if !b.busyWaitForBeat(ctx) {
			return
		}

		pkt := encodeBeat(b.device(), b.metronome.Snapshot())
		b.send(pkt)

		if b.observeJitter != nil {
			d := b.metronome.Snapshot().MsFromNearestBeat
			if d < 0 {
				d = -d
			}
			b.observeJitter(float64(d))
		}
	}
}

// busyWaitForBeat spins through the final sub-millisecond before a beat so
// the emitted packet's timestamp fields are accurate to well under a
// millisecond. Returns true once the beat counter has moved past the beat
// it saw on entry, or false if ctx was cancelled mid-wait.
func (b *BeatSender) busyWaitForBeat(ctx context.Context) bool {
	startBeat := b.metronome.Snapshot().Beat
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if b.metronome.Snapshot().Beat != startBeat {
			return true
		}
	}
}

// avoidBeatPacket stalls the caller (the status sender) while the current
// snapshot is within [-sleepThresholdMs, beatThresholdMs+1] ms of a beat
// boundary, sleeping 2ms at a time, guaranteeing beat packets lead status
// packets for the same beat.
func avoidBeatPacket(m *Metronome) {
	for {
		d := m.Snapshot().MsFromNearestBeat
		if d >= -sleepThresholdMs && d <= beatThresholdMs+1 {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		return
	}
}
