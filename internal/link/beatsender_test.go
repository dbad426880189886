package link

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBeatSenderEmitsBeats(t *testing.T) {
	m := NewMetronome(600.0) // 100ms per beat, fast enough for a short test
	var sent atomic.Int64

	bs := NewBeatSender(testLogger(), m, func() DeviceID { return 1 }, func(pkt []byte) {
		sent.Add(1)
	}, nil)

	bs.Start()
	time.Sleep(250 * time.Millisecond)
	bs.Stop()

	if sent.Load() < 1 {
		t.Errorf("expected at least 1 beat packet, got %d", sent.Load())
	}
}

func TestAvoidBeatPacketReturnsPromptlyAwayFromBeat(t *testing.T) {
	m := NewMetronome(60.0) // 1000ms per beat
	m.JumpToBeat(1)

	done := make(chan struct{})
	go func() {
		avoidBeatPacket(m)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("avoidBeatPacket blocked well away from a beat boundary")
	}
}
