package link

import (
	"testing"
	"time"
)

func TestSyncFollowerMirrorsMasterTempo(t *testing.T) {
	m := NewMetronome(120.0)
	notified := 0
	f := NewSyncFollower(testLogger(), m, func() { notified++ })

	f.OnMasterTempoChanged(128.0)

	if got := m.Tempo(); got != 128.0 {
		t.Errorf("Tempo = %v, want 128.0 after master tempo change", got)
	}
	if notified != 1 {
		t.Errorf("timeline-changed notified %d times, want 1", notified)
	}
}

func TestSyncFollowerSnapsPhaseToMasterBeat(t *testing.T) {
	m := NewMetronome(120.0) // 500ms per beat
	f := NewSyncFollower(testLogger(), m, nil)

	// Simulate a master beat landing partway through our current beat; the
	// follower must rebase our phase so the beat boundary coincides with it.
	f.OnMasterBeat(&BeatPacket{DeviceNumber: 1, Timestamp: time.Now()})

	snap := m.Snapshot()
	if snap.MsToNextBeat < 480 {
		t.Errorf("MsToNextBeat = %d immediately after snap, want close to the full 500ms interval", snap.MsToNextBeat)
	}
}

func TestSyncFollowerSnapPreservesBeatNumber(t *testing.T) {
	m := NewMetronome(120.0)
	m.JumpToBeat(42)
	f := NewSyncFollower(testLogger(), m, nil)

	f.OnMasterBeat(&BeatPacket{DeviceNumber: 1, Timestamp: time.Now()})

	if got := m.Snapshot().Beat; got != 42 {
		t.Errorf("Beat = %d, want 42 (phase snap must not move the beat counter)", got)
	}
}
