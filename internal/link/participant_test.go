package link

import "testing"

func TestWrapBeat(t *testing.T) {
	cases := []struct {
		in   int64
		want uint64
	}{
		{0, 1},
		{1, 1},
		{int64(maxBeat), maxBeat},
		{int64(maxBeat) + 1, 1},
		{int64(maxBeat) + 5, 5},
		{-3, 1},
	}

	for _, c := range cases {
		if got := wrapBeat(c.in); got != c.want {
			t.Errorf("wrapBeat(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestJumpToBeatWhileStoppedUpdatesWhereStopped(t *testing.T) {
	p := NewParticipant(testLogger(), "VCDJ", 5, false, 1500, 200, 0.0001)
	p.playing.Store(false)

	p.JumpToBeat(2000)

	p.whereStoppedMu.Lock()
	got := p.whereStopped.Beat
	p.whereStoppedMu.Unlock()

	if got != 2000 {
		t.Errorf("whereStopped.Beat = %d, want 2000", got)
	}
}

func TestSelfAssignmentFailsWhenAllTaken(t *testing.T) {
	occupied := make(map[DeviceID]bool)
	for n := DeviceID(5); n <= 15; n++ {
		occupied[n] = true
	}
	_, err := selfAssignNumber(occupied, false)
	if err != ErrNoAvailableNumber {
		t.Errorf("err = %v, want ErrNoAvailableNumber", err)
	}
}

// A rewind large enough to threaten beat 1 must add one bar's worth of
// beats back rather than fall below 1.
func TestAdjustPlaybackPositionRewindStaysMonotonic(t *testing.T) {
	p := NewParticipant(testLogger(), "VCDJ", 5, false, 1500, 200, 0.0001)
	p.metronome.JumpToBeat(2) // 120 BPM => 500ms/beat

	p.AdjustPlaybackPosition(-1000) // rewinds 2 beats: 2-2=0, so +1 bar => 4

	if got := p.metronome.Snapshot().Beat; got != 4 {
		t.Errorf("Beat = %d, want 4 (one bar added back after underflow)", got)
	}
}

// TestAdjustPlaybackPositionRewindActuallyMovesBeatBackward ensures a
// rewind that does NOT threaten beat 1 still observably decreases the beat,
// rather than silently no-oping.
func TestAdjustPlaybackPositionRewindActuallyMovesBeatBackward(t *testing.T) {
	p := NewParticipant(testLogger(), "VCDJ", 5, false, 1500, 200, 0.0001)
	p.metronome.JumpToBeat(10)

	p.AdjustPlaybackPosition(-1000) // rewinds 2 beats: 10-2=8

	if got := p.metronome.Snapshot().Beat; got != 8 {
		t.Errorf("Beat = %d, want 8 after rewinding 2 beats from 10", got)
	}
}
